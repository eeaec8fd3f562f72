package storage

import (
	"time"

	"github.com/craig10e/tastytrade/internal/models"
)

// Interface defines the contract for trade persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe and can safely call them from multiple
// goroutines.
//
// The provided JSONStorage implementation uses sync.RWMutex to serialize
// access, ensuring all Interface methods are protected for concurrent
// readers and writers.
type Interface interface {
	// Active trade registry
	GetActiveTrades() []*models.Trade
	GetTrade(id string) (*models.Trade, error)
	AddTrade(trade *models.Trade) error
	UpdateTrade(trade *models.Trade) error
	ArchiveTrade(id string) error

	// Idempotence checks
	HasTradeForLegs(legs [4]string) bool
	HasEntryOn(day time.Time, loc *time.Location) bool

	// Data persistence
	Save() error
	Load() error

	// Historical data
	GetHistory() []models.Trade
	HasInHistory(id string) bool
}

// NewStorage creates a new storage implementation (currently JSON-based)
// In the future, this can be extended to support different storage backends
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)
