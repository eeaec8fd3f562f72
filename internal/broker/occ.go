package broker

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/craig10e/tastytrade/internal/models"
)

// OCC option symbols are 21 characters: a root padded to 6, a YYMMDD
// expiration, C or P, then the strike times 1000 in 8 digits.
const (
	occSymbolLen   = 21
	occRootLen     = 6
	occDateLen     = 6
	occTypeIndex   = 12
	occStrikeScale = 1000
)

// OptionSymbol is the decoded form of an OCC symbol.
type OptionSymbol struct {
	Root       string
	Expiration time.Time
	Type       models.OptionType
	Strike     float64
}

// BuildOptionSymbol encodes an OCC symbol the way the brokerage expects,
// with the root left-justified in a 6-character field.
func BuildOptionSymbol(root string, expiration time.Time, typ models.OptionType, strike float64) string {
	typeChar := "C"
	if typ == models.OptionTypePut {
		typeChar = "P"
	}
	strikeMillis := int(math.Round(strike * occStrikeScale))
	return fmt.Sprintf("%-6s%s%s%08d", root, expiration.Format("060102"), typeChar, strikeMillis)
}

// ParseOptionSymbol decodes an OCC symbol. The input may carry the padded
// 6-character root or a shorter unpadded one.
func ParseOptionSymbol(symbol string) (OptionSymbol, error) {
	if len(symbol) != occSymbolLen {
		return OptionSymbol{}, fmt.Errorf("option symbol %q: want %d characters, got %d",
			symbol, occSymbolLen, len(symbol))
	}

	root := strings.TrimSpace(symbol[:occRootLen])
	if root == "" {
		return OptionSymbol{}, fmt.Errorf("option symbol %q: empty root", symbol)
	}

	expiration, err := time.Parse("060102", symbol[occRootLen:occRootLen+occDateLen])
	if err != nil {
		return OptionSymbol{}, fmt.Errorf("option symbol %q: bad expiration: %w", symbol, err)
	}

	var typ models.OptionType
	switch symbol[occTypeIndex] {
	case 'C':
		typ = models.OptionTypeCall
	case 'P':
		typ = models.OptionTypePut
	default:
		return OptionSymbol{}, fmt.Errorf("option symbol %q: type must be C or P, got %q",
			symbol, symbol[occTypeIndex])
	}

	strikeMillis, err := strconv.Atoi(symbol[occTypeIndex+1:])
	if err != nil {
		return OptionSymbol{}, fmt.Errorf("option symbol %q: bad strike: %w", symbol, err)
	}

	return OptionSymbol{
		Root:       root,
		Expiration: expiration,
		Type:       typ,
		Strike:     float64(strikeMillis) / occStrikeScale,
	}, nil
}

// SameSession reports whether the symbol expires on the given calendar day.
func (s OptionSymbol) SameSession(day time.Time) bool {
	y1, m1, d1 := s.Expiration.Date()
	y2, m2, d2 := day.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// MatchesUnderlying reports whether the symbol's root belongs to the
// underlying's option family. Index weeklys use an extended root, so
// SPXW matches SPX.
func (s OptionSymbol) MatchesUnderlying(underlying string) bool {
	return strings.HasPrefix(s.Root, strings.ToUpper(underlying))
}
