package storage

import (
	"fmt"
	"time"

	"github.com/craig10e/tastytrade/internal/models"
)

// MockStorage implements Interface for testing
type MockStorage struct {
	saveError     error
	loadError     error
	active        []*models.Trade
	history       []models.Trade
	saveCallCount int
	loadCallCount int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{}
}

func (m *MockStorage) GetActiveTrades() []*models.Trade {
	trades := make([]*models.Trade, len(m.active))
	copy(trades, m.active)
	return trades
}

func (m *MockStorage) GetTrade(id string) (*models.Trade, error) {
	for _, t := range m.active {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTradeNotFound, id)
}

func (m *MockStorage) AddTrade(trade *models.Trade) error {
	legs := trade.LegSymbols()
	for _, t := range m.active {
		if t.ID == trade.ID || t.LegSymbols() == legs {
			return fmt.Errorf("%w: %s", ErrDuplicateTrade, trade.ID)
		}
	}
	m.active = append(m.active, trade)
	return nil
}

func (m *MockStorage) UpdateTrade(trade *models.Trade) error {
	for i, t := range m.active {
		if t.ID == trade.ID {
			m.active[i] = trade
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrTradeNotFound, trade.ID)
}

func (m *MockStorage) ArchiveTrade(id string) error {
	for i, t := range m.active {
		if t.ID != id {
			continue
		}
		if t.IsActive() {
			return fmt.Errorf("trade %s still has an active side", id)
		}
		m.history = append(m.history, *t)
		m.active = append(m.active[:i], m.active[i+1:]...)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrTradeNotFound, id)
}

func (m *MockStorage) HasTradeForLegs(legs [4]string) bool {
	for _, t := range m.active {
		if t.LegSymbols() == legs {
			return true
		}
	}
	return false
}

func (m *MockStorage) HasEntryOn(day time.Time, loc *time.Location) bool {
	y, mo, d := day.In(loc).Date()
	sameDay := func(ts time.Time) bool {
		ty, tm, td := ts.In(loc).Date()
		return ty == y && tm == mo && td == d
	}
	for _, t := range m.active {
		if sameDay(t.EntryTime) {
			return true
		}
	}
	for i := range m.history {
		if sameDay(m.history[i].EntryTime) {
			return true
		}
	}
	return false
}

// Data persistence methods (mocked)
func (m *MockStorage) Save() error {
	m.saveCallCount++
	return m.saveError
}

func (m *MockStorage) Load() error {
	m.loadCallCount++
	return m.loadError
}

func (m *MockStorage) GetHistory() []models.Trade {
	history := make([]models.Trade, len(m.history))
	copy(history, m.history)
	return history
}

func (m *MockStorage) HasInHistory(id string) bool {
	for i := range m.history {
		if m.history[i].ID == id {
			return true
		}
	}
	return false
}

// Mock control methods for testing
func (m *MockStorage) SetSaveError(err error) {
	m.saveError = err
}

func (m *MockStorage) SetLoadError(err error) {
	m.loadError = err
}

func (m *MockStorage) GetSaveCallCount() int {
	return m.saveCallCount
}

func (m *MockStorage) GetLoadCallCount() int {
	return m.loadCallCount
}

func (m *MockStorage) AddHistoryTrade(trade models.Trade) {
	m.history = append(m.history, trade)
}

// Ensure MockStorage implements Interface
var _ Interface = (*MockStorage)(nil)
