// Package marketspec describes the up/down window markets the engine
// trades: symbol, kind, timeframe, and the deterministic slug grid
// used for discovery.
package marketspec

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Timeframe is the resolution window length of one market.
type Timeframe string

const (
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
)

// ParseTimeframe accepts the common spellings of the supported windows.
func ParseTimeframe(v string) (Timeframe, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "5m", "5min", "5mins", "5-minute", "5minutes":
		return Timeframe5m, nil
	case "15m", "15min", "15mins", "15-minute", "15minutes":
		return Timeframe15m, nil
	case "1h", "1hour", "1-hour", "60m", "60min", "60mins":
		return Timeframe1h, nil
	default:
		return "", fmt.Errorf("unsupported timeframe %q (want 5m/15m/1h)", v)
	}
}

func (t Timeframe) String() string { return string(t) }

// Duration returns the window length. Unknown values fall back to 15m;
// config validation rejects them before they reach here.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe1h:
		return time.Hour
	default:
		return 15 * time.Minute
	}
}

// Spec identifies one asset x timeframe market family, e.g.
// btc/updown/15m producing slugs like btc-updown-15m-1765985400.
type Spec struct {
	Symbol    string // lowercase asset, e.g. "btc"
	Kind      string // slug kind, e.g. "updown" or "up-or-down"
	Timeframe Timeframe
}

var symbolRe = regexp.MustCompile(`^[a-z0-9]+$`)

// New validates and normalizes a spec. Empty kind defaults to "updown".
func New(symbol, timeframe, kind string) (Spec, error) {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return Spec{}, err
	}
	s := strings.ToLower(strings.TrimSpace(symbol))
	if s == "" {
		s = "btc"
	}
	if !symbolRe.MatchString(s) {
		return Spec{}, fmt.Errorf("invalid symbol %q (lowercase letters and digits only)", symbol)
	}
	k := strings.ToLower(strings.TrimSpace(kind))
	if k == "" {
		k = "updown"
	}
	return Spec{Symbol: s, Kind: k, Timeframe: tf}, nil
}

func (m Spec) Duration() time.Duration { return m.Timeframe.Duration() }

// MarketType is the enumerated type string, e.g. "updown-15m".
func (m Spec) MarketType() string {
	return m.Kind + "-" + m.Timeframe.String()
}

// PeriodStartUnix aligns now onto the window grid: epoch seconds
// truncated to the window length (900s grid for 15m windows).
func (m Spec) PeriodStartUnix(now time.Time) int64 {
	period := int64(m.Duration().Seconds())
	return now.Unix() - now.Unix()%period
}

// NextPeriodStartUnix advances one window.
func (m Spec) NextPeriodStartUnix(periodStartUnix int64) int64 {
	return periodStartUnix + int64(m.Duration().Seconds())
}

// Slug builds the discovery slug for the window starting at
// periodStartUnix: {symbol}-{kind}-{timeframe}-{timestamp}.
func (m Spec) Slug(periodStartUnix int64) string {
	return fmt.Sprintf("%s-%s-%s-%d", m.Symbol, m.Kind, m.Timeframe, periodStartUnix)
}

// SlugPrefix is the slug without the timestamp suffix.
func (m Spec) SlugPrefix() string {
	return fmt.Sprintf("%s-%s-%s-", m.Symbol, m.Kind, m.Timeframe)
}

// CandidateSlugs enumerates slugs for the windows from `back` periods
// before the current one through `ahead` periods after it, inclusive.
// Discovery probes all of them; expired ones simply resolve to nothing.
func (m Spec) CandidateSlugs(now time.Time, back, ahead int) []string {
	if back < 0 {
		back = 0
	}
	if ahead < 0 {
		ahead = 0
	}
	start := m.PeriodStartUnix(now)
	period := int64(m.Duration().Seconds())
	out := make([]string, 0, back+ahead+1)
	for i := -back; i <= ahead; i++ {
		out = append(out, m.Slug(start+int64(i)*period))
	}
	return out
}

// WindowStartFromSlug extracts the period start from a slug generated
// by Slug. Returns false for foreign slugs.
func (m Spec) WindowStartFromSlug(slug string) (int64, bool) {
	prefix := m.SlugPrefix()
	if !strings.HasPrefix(slug, prefix) {
		return 0, false
	}
	var ts int64
	if _, err := fmt.Sscanf(strings.TrimPrefix(slug, prefix), "%d", &ts); err != nil {
		return 0, false
	}
	return ts, true
}
