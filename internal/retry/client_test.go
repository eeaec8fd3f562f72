package retry

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/craig10e/tastytrade/internal/broker"
	"github.com/craig10e/tastytrade/internal/models"
)

type stubCloser struct {
	errs  []error
	calls int
}

func (s *stubCloser) CloseSide(context.Context, *models.Trade, models.Side) (string, error) {
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return "", s.errs[s.calls-1]
	}
	return "close-1", nil
}

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func testTrade() *models.Trade {
	strikes := models.StrikeSet{
		Underlying: "SPX",
		Expiration: time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC),
		Spot:       6000,
		ShortPut:   models.OptionLeg{Symbol: "P5900", Strike: 5900, Type: models.OptionTypePut, Role: models.RoleShortPut},
		LongPut:    models.OptionLeg{Symbol: "P5870", Strike: 5870, Type: models.OptionTypePut, Role: models.RoleLongPutWing},
		ShortCall:  models.OptionLeg{Symbol: "C6100", Strike: 6100, Type: models.OptionTypeCall, Role: models.RoleShortCall},
		LongCall:   models.OptionLeg{Symbol: "C6125", Strike: 6125, Type: models.OptionTypeCall, Role: models.RoleLongCallWing},
		PutCredit:  5.0,
		CallCredit: 5.0,
	}
	return models.NewTrade("trade-1", strikes, 1, 5.0, 5.0)
}

func TestCloseSideRetriesTransientErrors(t *testing.T) {
	closer := &stubCloser{errs: []error{
		errors.New("connection reset by peer"),
		errors.New("rate limit exceeded"),
	}}
	c := NewClient(closer, log.New(io.Discard, "", 0), fastConfig())

	orderID, err := c.CloseSide(context.Background(), testTrade(), models.SidePut)
	if err != nil {
		t.Fatalf("CloseSide failed: %v", err)
	}
	if orderID != "close-1" {
		t.Errorf("order id = %s", orderID)
	}
	if closer.calls != 3 {
		t.Errorf("calls = %d, want 3", closer.calls)
	}
}

func TestCloseSideStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("account restricted")
	closer := &stubCloser{errs: []error{permanent, nil}}
	c := NewClient(closer, log.New(io.Discard, "", 0), fastConfig())

	if _, err := c.CloseSide(context.Background(), testTrade(), models.SideCall); err == nil {
		t.Fatal("permanent error must propagate")
	}
	if closer.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry of a permanent error)", closer.calls)
	}
}

func TestCloseSideExhaustsRetries(t *testing.T) {
	flaky := errors.New("gateway timeout")
	closer := &stubCloser{errs: []error{flaky, flaky, flaky, flaky, flaky}}
	c := NewClient(closer, log.New(io.Discard, "", 0), fastConfig())

	if _, err := c.CloseSide(context.Background(), testTrade(), models.SidePut); err == nil {
		t.Fatal("exhausted retries must fail")
	}
	if closer.calls != 4 {
		t.Errorf("calls = %d, want MaxRetries+1 = 4", closer.calls)
	}
}

func TestIsTransientError(t *testing.T) {
	c := NewClient(&stubCloser{}, log.New(io.Discard, "", 0), fastConfig())

	tests := []struct {
		err       error
		transient bool
	}{
		{nil, false},
		{errors.New("connection refused"), true},
		{errors.New("DNS lookup failed"), true},
		{errors.New("order rejected: insufficient funds"), false},
		{&broker.APIError{StatusCode: 503, Body: "maintenance"}, true},
		{&broker.APIError{StatusCode: 422, Body: "bad order"}, false},
	}
	for _, tt := range tests {
		if got := c.isTransientError(tt.err); got != tt.transient {
			t.Errorf("isTransientError(%v) = %v, want %v", tt.err, got, tt.transient)
		}
	}
}
