package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/craig10e/tastytrade/internal/models"
)

// JSONStorage persists the trade registry to a single JSON file. Writes go
// through a temp file and an atomic rename so a crash mid-write never leaves
// a truncated registry behind.
type JSONStorage struct {
	mu   sync.RWMutex
	path string
	data *storageData
}

type storageData struct {
	ActiveTrades []*models.Trade `json:"active_trades"`
	History      []models.Trade  `json:"history"`
	LastUpdated  time.Time       `json:"last_updated"`
}

// NewJSONStorage opens (or initializes) the registry at path, creating the
// parent directory if needed and loading any existing data.
func NewJSONStorage(path string) (*JSONStorage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}

	s := &JSONStorage{
		path: path,
		data: &storageData{},
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

// Load reads the registry file. State machines are not persisted; each
// side's machine is rebuilt lazily from its canonical state on first use.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	data := &storageData{}
	if err := json.Unmarshal(raw, data); err != nil {
		return fmt.Errorf("parsing %s: %w", s.path, err)
	}

	s.data = data
	return nil
}

// Save writes the registry atomically.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// GetActiveTrades returns the live trades. Callers share the underlying
// trade objects with the registry; mutate them only from the strategy loop
// and persist via UpdateTrade.
func (s *JSONStorage) GetActiveTrades() []*models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := make([]*models.Trade, len(s.data.ActiveTrades))
	copy(trades, s.data.ActiveTrades)
	return trades
}

// GetTrade looks up an active trade by id.
func (s *JSONStorage) GetTrade(id string) (*models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.data.ActiveTrades {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTradeNotFound, id)
}

// AddTrade registers a new active trade and persists immediately.
func (s *JSONStorage) AddTrade(trade *models.Trade) error {
	if err := trade.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	legs := trade.LegSymbols()
	for _, t := range s.data.ActiveTrades {
		if t.ID == trade.ID || t.LegSymbols() == legs {
			return fmt.Errorf("%w: %s", ErrDuplicateTrade, trade.ID)
		}
	}

	s.data.ActiveTrades = append(s.data.ActiveTrades, trade)
	return s.saveLocked()
}

// UpdateTrade persists the current state of an active trade.
func (s *JSONStorage) UpdateTrade(trade *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.data.ActiveTrades {
		if t.ID == trade.ID {
			s.data.ActiveTrades[i] = trade
			return s.saveLocked()
		}
	}
	return fmt.Errorf("%w: %s", ErrTradeNotFound, trade.ID)
}

// ArchiveTrade moves a finished trade from the active registry to history.
// The trade must no longer have an active side.
func (s *JSONStorage) ArchiveTrade(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.data.ActiveTrades {
		if t.ID != id {
			continue
		}
		if t.IsActive() {
			return fmt.Errorf("trade %s still has an active side", id)
		}
		s.data.History = append(s.data.History, *t)
		s.data.ActiveTrades = append(s.data.ActiveTrades[:i], s.data.ActiveTrades[i+1:]...)
		return s.saveLocked()
	}
	return fmt.Errorf("%w: %s", ErrTradeNotFound, id)
}

// HasTradeForLegs reports whether an active trade already covers these four
// leg symbols. Used by the reconciler to skip positions it already tracks.
func (s *JSONStorage) HasTradeForLegs(legs [4]string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.data.ActiveTrades {
		if t.LegSymbols() == legs {
			return true
		}
	}
	return false
}

// HasEntryOn reports whether any trade, active or archived, was entered on
// the given calendar day in loc. Gates the once-per-session entry.
func (s *JSONStorage) HasEntryOn(day time.Time, loc *time.Location) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	y, m, d := day.In(loc).Date()
	sameDay := func(ts time.Time) bool {
		ty, tm, td := ts.In(loc).Date()
		return ty == y && tm == m && td == d
	}

	for _, t := range s.data.ActiveTrades {
		if sameDay(t.EntryTime) {
			return true
		}
	}
	for i := range s.data.History {
		if sameDay(s.data.History[i].EntryTime) {
			return true
		}
	}
	return false
}

// GetHistory returns a copy of the archived trades.
func (s *JSONStorage) GetHistory() []models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]models.Trade, len(s.data.History))
	copy(history, s.data.History)
	return history
}

// HasInHistory reports whether a trade id has been archived.
func (s *JSONStorage) HasInHistory(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.History {
		if s.data.History[i].ID == id {
			return true
		}
	}
	return false
}
