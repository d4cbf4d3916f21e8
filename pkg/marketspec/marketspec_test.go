package marketspec

import (
	"testing"
	"time"
)

func TestPeriodStartAlignment(t *testing.T) {
	spec, err := New("btc", "15m", "updown")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cases := []struct {
		now  int64
		want int64
	}{
		{1765985400, 1765985400}, // exactly on the grid
		{1765985401, 1765985400},
		{1765986299, 1765985400}, // last second of the window
		{1765986300, 1765986300}, // next window
	}
	for _, c := range cases {
		got := spec.PeriodStartUnix(time.Unix(c.now, 0))
		if got != c.want {
			t.Fatalf("PeriodStartUnix(%d) = %d, want %d", c.now, got, c.want)
		}
		if got%900 != 0 {
			t.Fatalf("PeriodStartUnix(%d) = %d not on 900s grid", c.now, got)
		}
	}
}

func TestSlugFormat(t *testing.T) {
	spec, _ := New("btc", "15m", "updown")
	slug := spec.Slug(1765985400)
	if slug != "btc-updown-15m-1765985400" {
		t.Fatalf("Slug = %q", slug)
	}
	ts, ok := spec.WindowStartFromSlug(slug)
	if !ok || ts != 1765985400 {
		t.Fatalf("WindowStartFromSlug(%q) = %d, %v", slug, ts, ok)
	}
	if _, ok := spec.WindowStartFromSlug("eth-updown-15m-1765985400"); ok {
		t.Fatalf("foreign slug accepted")
	}
}

func TestCandidateSlugsCoverWindows(t *testing.T) {
	spec, _ := New("btc", "5m", "updown")
	now := time.Unix(1765985555, 0)
	slugs := spec.CandidateSlugs(now, 1, 1)
	if len(slugs) != 3 {
		t.Fatalf("got %d slugs, want 3", len(slugs))
	}
	want := []string{
		"btc-updown-5m-1765985100",
		"btc-updown-5m-1765985400",
		"btc-updown-5m-1765985700",
	}
	for i, s := range want {
		if slugs[i] != s {
			t.Fatalf("slugs[%d] = %q, want %q", i, slugs[i], s)
		}
	}
}

func TestParseTimeframeRejectsUnknown(t *testing.T) {
	if _, err := ParseTimeframe("4h"); err == nil {
		t.Fatalf("expected error for 4h")
	}
	if _, err := New("BTC!", "15m", ""); err == nil {
		t.Fatalf("expected error for invalid symbol")
	}
}
