package inventory

import (
	"path/filepath"
	"testing"
	"testing/quick"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRecordFillVWAP(t *testing.T) {
	tr := NewTracker()
	tr.RecordFill("btc-updown-15m-1", true, dec("100"), dec("0.40"))
	tr.RecordFill("btc-updown-15m-1", true, dec("50"), dec("0.46"))

	p := tr.Position("btc-updown-15m-1")
	vwap, ok := p.UpVWAP()
	if !ok {
		t.Fatal("expected non-empty up side")
	}
	// (100*0.40 + 50*0.46) / 150 = 0.42
	if !vwap.Equal(dec("0.42")) {
		t.Fatalf("vwap = %s, want 0.42", vwap)
	}
	if p.BootstrappedUp {
		t.Fatal("fill must clear bootstrap flag")
	}
	if !p.FilledUpShares.Equal(dec("150")) {
		t.Fatalf("filled = %s, want 150", p.FilledUpShares)
	}
}

func TestFillPreservesVWAPInvariant(t *testing.T) {
	// Any sequence of fills keeps vwap == cost/shares exactly.
	f := func(amounts []uint16, prices []uint16) bool {
		tr := NewTracker()
		n := len(amounts)
		if len(prices) < n {
			n = len(prices)
		}
		for i := 0; i < n; i++ {
			shares := decimal.NewFromInt(int64(amounts[i]%500) + 1)
			price := decimal.NewFromInt(int64(prices[i]%99) + 1).Div(decimal.NewFromInt(100))
			tr.RecordFill("m", i%2 == 0, shares, price)
		}
		p := tr.Position("m")
		if p == nil {
			return n == 0
		}
		if p.UpShares.IsPositive() {
			vwap, _ := p.UpVWAP()
			if !vwap.Equal(p.UpCost.Div(p.UpShares)) {
				return false
			}
		}
		if p.DownShares.IsPositive() {
			vwap, _ := p.DownVWAP()
			if !vwap.Equal(p.DownCost.Div(p.DownShares)) {
				return false
			}
		}
		return !p.UpCost.IsNegative() && !p.DownCost.IsNegative()
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestReduceMergedExactZero(t *testing.T) {
	tr := NewTracker()
	tr.RecordFill("m", true, dec("178"), dec("0.40"))
	tr.RecordFill("m", false, dec("178"), dec("0.55"))

	tr.ReduceMerged("m", dec("178"))

	p := tr.Position("m")
	if !p.UpShares.IsZero() || !p.DownShares.IsZero() {
		t.Fatalf("shares = %s/%s, want exact zeros", p.UpShares, p.DownShares)
	}
	if !p.UpCost.IsZero() || !p.DownCost.IsZero() {
		t.Fatalf("cost = %s/%s, want exact zeros", p.UpCost, p.DownCost)
	}
	if !p.FilledUpShares.IsZero() || !p.FilledDownShares.IsZero() {
		t.Fatal("filled counters must scale to zero on full merge")
	}

	// 178 * (1 - 0.40 - 0.55) = 8.90
	if !tr.RealizedPnL().Equal(dec("8.90")) {
		t.Fatalf("realized = %s, want 8.90", tr.RealizedPnL())
	}
	if !p.PriorMergePnL.Equal(dec("8.90")) {
		t.Fatalf("prior merge pnl = %s, want 8.90", p.PriorMergePnL)
	}
}

func TestReduceMergedPartial(t *testing.T) {
	tr := NewTracker()
	tr.RecordFill("m", true, dec("100"), dec("0.40"))
	tr.RecordFill("m", false, dec("60"), dec("0.50"))

	tr.ReduceMerged("m", dec("60"))

	p := tr.Position("m")
	if !p.UpShares.Equal(dec("40")) {
		t.Fatalf("up shares = %s, want 40", p.UpShares)
	}
	if !p.DownShares.IsZero() {
		t.Fatalf("down shares = %s, want 0", p.DownShares)
	}
	// Remaining up cost scales: 40 * 0.40 = 16.
	if !p.UpCost.Equal(dec("16")) {
		t.Fatalf("up cost = %s, want 16", p.UpCost)
	}
	vwap, _ := p.UpVWAP()
	if !vwap.Equal(dec("0.40")) {
		t.Fatalf("vwap after partial merge = %s, want 0.40", vwap)
	}
}

func TestReduceMergedCapsAtHedged(t *testing.T) {
	tr := NewTracker()
	tr.RecordFill("m", true, dec("50"), dec("0.45"))
	tr.RecordFill("m", false, dec("30"), dec("0.50"))

	tr.ReduceMerged("m", dec("100"))

	p := tr.Position("m")
	if !p.UpShares.Equal(dec("20")) || !p.DownShares.IsZero() {
		t.Fatalf("shares = %s/%s, want 20/0", p.UpShares, p.DownShares)
	}
}

func TestRecordSellFillRealizes(t *testing.T) {
	tr := NewTracker()
	tr.RecordFill("m", true, dec("100"), dec("0.40"))
	tr.RecordSellFill("m", true, dec("40"), dec("0.50"))

	// 40 * (0.50 - 0.40) = 4
	if !tr.RealizedPnL().Equal(dec("4")) {
		t.Fatalf("realized = %s, want 4", tr.RealizedPnL())
	}
	p := tr.Position("m")
	if !p.UpShares.Equal(dec("60")) {
		t.Fatalf("remaining = %s, want 60", p.UpShares)
	}
	if !p.UpCost.Equal(dec("24")) {
		t.Fatalf("cost = %s, want 24", p.UpCost)
	}
}

func TestClearMarketHedgedResidual(t *testing.T) {
	tr := NewTracker()
	tr.RecordFill("m", true, dec("10"), dec("0.40"))
	tr.RecordFill("m", false, dec("10"), dec("0.55"))

	tr.ClearMarket("m", nil, nil)

	// 10 * (1 - 0.95) = 0.50
	if !tr.RealizedPnL().Equal(dec("0.50")) {
		t.Fatalf("realized = %s, want 0.50", tr.RealizedPnL())
	}
	if tr.Position("m") != nil {
		t.Fatal("market should be removed after clear")
	}
}

func TestClearMarketUnhedgedWriteOff(t *testing.T) {
	tr := NewTracker()
	tr.RecordFill("m", true, dec("20"), dec("0.60"))

	tr.ClearMarket("m", nil, nil)

	// Unbacked leg written off at cost: -20*0.60 = -12.
	if !tr.RealizedPnL().Equal(dec("-12")) {
		t.Fatalf("realized = %s, want -12", tr.RealizedPnL())
	}
}

func TestClearMarketBidsDoNotChangeBooking(t *testing.T) {
	tr := NewTracker()
	tr.RecordFill("m", true, dec("20"), dec("0.60"))

	upBid := dec("0.90")
	downBid := dec("0.05")
	tr.ClearMarket("m", &upBid, &downBid)

	if !tr.RealizedPnL().Equal(dec("-12")) {
		t.Fatalf("realized = %s, want -12 (bids are estimate only)", tr.RealizedPnL())
	}
}

type fakeBalance struct {
	slug     string
	up, down decimal.Decimal
	ok       bool
}

func (f fakeBalance) Slug() string      { return f.slug }
func (f fakeBalance) UpToken() string   { return f.slug + "-up" }
func (f fakeBalance) DownToken() string { return f.slug + "-down" }
func (f fakeBalance) Balances() (decimal.Decimal, decimal.Decimal, bool) {
	return f.up, f.down, f.ok
}

func TestSyncInventoryBootstraps(t *testing.T) {
	tr := NewTracker()
	mid := func(tokenID string) (decimal.Decimal, bool) { return dec("0.47"), true }

	tr.SyncInventory([]BalanceReader{
		fakeBalance{slug: "m", up: dec("30"), ok: true},
	}, mid)

	p := tr.Position("m")
	if !p.UpShares.Equal(dec("30")) {
		t.Fatalf("up shares = %s, want 30", p.UpShares)
	}
	if !p.UpCost.Equal(dec("14.1")) {
		t.Fatalf("up cost = %s, want 14.1 (30*0.47)", p.UpCost)
	}
	if !p.BootstrappedUp {
		t.Fatal("bootstrap flag must be set")
	}
}

func TestSyncInventoryShrinksToChain(t *testing.T) {
	tr := NewTracker()
	tr.RecordFill("m", false, dec("100"), dec("0.50"))

	tr.SyncInventory([]BalanceReader{
		fakeBalance{slug: "m", down: dec("40"), ok: true},
	}, nil)

	p := tr.Position("m")
	if !p.DownShares.Equal(dec("40")) {
		t.Fatalf("down shares = %s, want 40", p.DownShares)
	}
	if !p.DownCost.Equal(dec("20")) {
		t.Fatalf("down cost = %s, want 20", p.DownCost)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.json")
	store, err := NewSnapshotStore(path)
	if err != nil {
		t.Fatal(err)
	}

	tr := NewTracker()
	tr.RecordFill("m", true, dec("178"), dec("0.40"))
	tr.RecordFill("m", false, dec("178"), dec("0.55"))
	tr.ReduceMerged("m", dec("100"))

	if err := store.Save(tr); err != nil {
		t.Fatal(err)
	}
	restored, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}

	if !restored.RealizedPnL().Equal(tr.RealizedPnL()) {
		t.Fatalf("realized = %s, want %s", restored.RealizedPnL(), tr.RealizedPnL())
	}
	p := restored.Position("m")
	if p == nil {
		t.Fatal("position lost in round trip")
	}
	if !p.UpShares.Equal(dec("78")) || !p.DownShares.Equal(dec("78")) {
		t.Fatalf("shares = %s/%s, want 78/78", p.UpShares, p.DownShares)
	}
}

func TestSnapshotMissingFile(t *testing.T) {
	store, err := NewSnapshotStore(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	tr, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(tr.Positions()) != 0 {
		t.Fatal("missing file should load as empty tracker")
	}
}
