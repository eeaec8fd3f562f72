package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/craig10e/tastytrade/internal/models"
)

func testTrade(id string) *models.Trade {
	strikes := models.StrikeSet{
		Underlying: "SPX",
		Expiration: time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC),
		Spot:       6000,
		ShortPut:   models.OptionLeg{Symbol: id + "-P5900", Strike: 5900, Type: models.OptionTypePut, Role: models.RoleShortPut},
		LongPut:    models.OptionLeg{Symbol: id + "-P5870", Strike: 5870, Type: models.OptionTypePut, Role: models.RoleLongPutWing},
		ShortCall:  models.OptionLeg{Symbol: id + "-C6100", Strike: 6100, Type: models.OptionTypeCall, Role: models.RoleShortCall},
		LongCall:   models.OptionLeg{Symbol: id + "-C6125", Strike: 6125, Type: models.OptionTypeCall, Role: models.RoleLongCallWing},
		PutCredit:  5.0,
		CallCredit: 5.0,
	}
	return models.NewTrade(id, strikes, 2, 5.0, 5.0)
}

func newTestStorage(t *testing.T) (*JSONStorage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "trades.json")
	s, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("NewJSONStorage failed: %v", err)
	}
	return s, path
}

func TestStorageAddAndGet(t *testing.T) {
	s, path := newTestStorage(t)

	trade := testTrade("trade-1")
	if err := s.AddTrade(trade); err != nil {
		t.Fatalf("AddTrade failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("AddTrade must persist to disk: %v", err)
	}

	got, err := s.GetTrade("trade-1")
	if err != nil {
		t.Fatalf("GetTrade failed: %v", err)
	}
	if got.ID != "trade-1" || got.Quantity != 2 {
		t.Errorf("got trade %s qty %d", got.ID, got.Quantity)
	}

	if _, err := s.GetTrade("missing"); !errors.Is(err, ErrTradeNotFound) {
		t.Errorf("err = %v, want ErrTradeNotFound", err)
	}
}

func TestStorageRejectsDuplicates(t *testing.T) {
	s, _ := newTestStorage(t)

	if err := s.AddTrade(testTrade("trade-1")); err != nil {
		t.Fatalf("AddTrade failed: %v", err)
	}
	if err := s.AddTrade(testTrade("trade-1")); !errors.Is(err, ErrDuplicateTrade) {
		t.Errorf("duplicate id: err = %v, want ErrDuplicateTrade", err)
	}

	// Same legs under a different id is still a duplicate.
	sameLegs := testTrade("trade-1")
	sameLegs.ID = "trade-2"
	if err := s.AddTrade(sameLegs); !errors.Is(err, ErrDuplicateTrade) {
		t.Errorf("duplicate legs: err = %v, want ErrDuplicateTrade", err)
	}
}

func TestStorageRoundTrip(t *testing.T) {
	s, path := newTestStorage(t)

	trade := testTrade("trade-1")
	now := time.Date(2026, 3, 6, 15, 30, 0, 0, time.UTC)
	trade.PutSide.FirstBreach = &now
	if err := s.AddTrade(trade); err != nil {
		t.Fatalf("AddTrade failed: %v", err)
	}

	reopened, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("reopening storage failed: %v", err)
	}

	got, err := reopened.GetTrade("trade-1")
	if err != nil {
		t.Fatalf("GetTrade after reload failed: %v", err)
	}
	if got.PutSide.State != models.SideOpen {
		t.Errorf("put state = %s, want open", got.PutSide.State)
	}
	if got.PutSide.FirstBreach == nil || !got.PutSide.FirstBreach.Equal(now) {
		t.Errorf("first breach not preserved: %v", got.PutSide.FirstBreach)
	}
	if got.PutSide.EntryCredit != 5.0 {
		t.Errorf("entry credit = %v, want 5.0", got.PutSide.EntryCredit)
	}

	// The rebuilt machine enforces transitions from the persisted state.
	if err := got.PutSide.TransitionState(models.SideClosed, "close_filled"); err == nil {
		t.Error("open side must not transition straight to closed")
	}
	if err := got.PutSide.TransitionState(models.SideClosingPending, "breach_confirmed"); err != nil {
		t.Errorf("open -> closing_pending after reload failed: %v", err)
	}
}

func TestStorageArchiveTrade(t *testing.T) {
	s, _ := newTestStorage(t)

	trade := testTrade("trade-1")
	if err := s.AddTrade(trade); err != nil {
		t.Fatalf("AddTrade failed: %v", err)
	}

	if err := s.ArchiveTrade("trade-1"); err == nil {
		t.Fatal("archiving a trade with active sides must fail")
	}

	for _, side := range []models.Side{models.SidePut, models.SideCall} {
		if err := trade.SideStatusFor(side).TransitionState(models.SideExpired, "session_end"); err != nil {
			t.Fatalf("expiring %s side: %v", side, err)
		}
	}
	if err := s.UpdateTrade(trade); err != nil {
		t.Fatalf("UpdateTrade failed: %v", err)
	}
	if err := s.ArchiveTrade("trade-1"); err != nil {
		t.Fatalf("ArchiveTrade failed: %v", err)
	}

	if len(s.GetActiveTrades()) != 0 {
		t.Error("archived trade still listed as active")
	}
	if !s.HasInHistory("trade-1") {
		t.Error("archived trade missing from history")
	}
	if err := s.ArchiveTrade("trade-1"); !errors.Is(err, ErrTradeNotFound) {
		t.Errorf("second archive: err = %v, want ErrTradeNotFound", err)
	}
}

func TestStorageHasTradeForLegs(t *testing.T) {
	s, _ := newTestStorage(t)

	trade := testTrade("trade-1")
	if err := s.AddTrade(trade); err != nil {
		t.Fatalf("AddTrade failed: %v", err)
	}

	if !s.HasTradeForLegs(trade.LegSymbols()) {
		t.Error("registered legs not found")
	}
	other := testTrade("trade-2")
	if s.HasTradeForLegs(other.LegSymbols()) {
		t.Error("unknown legs reported as tracked")
	}
}

func TestStorageHasEntryOn(t *testing.T) {
	s, _ := newTestStorage(t)
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	trade := testTrade("trade-1")
	trade.EntryTime = time.Date(2026, 3, 6, 15, 5, 0, 0, time.UTC) // 10:05 ET
	if err := s.AddTrade(trade); err != nil {
		t.Fatalf("AddTrade failed: %v", err)
	}

	day := time.Date(2026, 3, 6, 12, 0, 0, 0, loc)
	if !s.HasEntryOn(day, loc) {
		t.Error("entry day not detected for active trade")
	}
	if s.HasEntryOn(day.AddDate(0, 0, 1), loc) {
		t.Error("next day must have no entry")
	}

	// Archived trades still block a same-day re-entry.
	for _, side := range []models.Side{models.SidePut, models.SideCall} {
		if err := trade.SideStatusFor(side).TransitionState(models.SideExpired, "session_end"); err != nil {
			t.Fatalf("expiring %s side: %v", side, err)
		}
	}
	if err := s.ArchiveTrade("trade-1"); err != nil {
		t.Fatalf("ArchiveTrade failed: %v", err)
	}
	if !s.HasEntryOn(day, loc) {
		t.Error("entry day not detected for archived trade")
	}
}

func TestStorageCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewJSONStorage(path); err == nil {
		t.Error("corrupt registry file must fail to load")
	}
}

func TestMockStorageMatchesInterface(t *testing.T) {
	m := NewMockStorage()

	trade := testTrade("trade-1")
	if err := m.AddTrade(trade); err != nil {
		t.Fatalf("AddTrade failed: %v", err)
	}
	if err := m.AddTrade(testTrade("trade-1")); !errors.Is(err, ErrDuplicateTrade) {
		t.Errorf("err = %v, want ErrDuplicateTrade", err)
	}
	if !m.HasTradeForLegs(trade.LegSymbols()) {
		t.Error("registered legs not found")
	}

	m.SetSaveError(errors.New("disk full"))
	if err := m.Save(); err == nil {
		t.Error("injected save error not returned")
	}
	if m.GetSaveCallCount() != 1 {
		t.Errorf("save call count = %d, want 1", m.GetSaveCallCount())
	}
}
