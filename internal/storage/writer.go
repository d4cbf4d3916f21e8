package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/pairbot/gopair/pkg/sigchan"
)

const (
	flushInterval = 2 * time.Second
	flushRows     = 500
)

// TradeRow is one order event bound for the trades table.
type TradeRow struct {
	OrderID   string
	SessionID string
	Slug      string
	TokenID   string
	Direction string
	Side      string
	Price     float64
	Size      float64
	Matched   float64
	Reason    string
	EntryEdge float64
	At        time.Time
}

// PnLRow is one pnl_snapshots row.
type PnLRow struct {
	SessionID   string
	RealizedPnL float64
	ExposureUSD float64
	At          time.Time
}

// BTCPriceRow is one btc_prices row.
type BTCPriceRow struct {
	Price     float64
	Deviation float64
	RangePct  float64
	TickCount int
	At        time.Time
}

// ProbabilityRow is one probability_snapshots row, deduplicated to one
// per second per market by its primary key.
type ProbabilityRow struct {
	Slug    string
	UpBid   float64
	UpAsk   float64
	DownBid float64
	DownAsk float64
	At      time.Time
}

// PositionRow is one position_changes row.
type PositionRow struct {
	Slug       string
	UpShares   float64
	DownShares float64
	UpCost     float64
	DownCost   float64
	At         time.Time
}

// MergeRow is one merges row, idempotent by tx hash.
type MergeRow struct {
	TxHash    string
	SessionID string
	Slug      string
	Shares    float64
	PnL       float64
	At        time.Time
}

// MarketWindowRow upserts one market_windows row by slug.
type MarketWindowRow struct {
	Slug        string
	ConditionID string
	MarketType  string
	NegRisk     bool
	EndTime     time.Time
	EnteredAt   time.Time
	ExitedAt    time.Time
}

// Writer buffers rows and flushes them in batches off the caller's
// goroutine, every 2 s or 500 rows, whichever comes first.
type Writer struct {
	db *DB

	mu      sync.Mutex
	pending []any

	flushNow *sigchan.Chan
	done     chan struct{}
	stop     chan struct{}
}

// NewWriter starts the background flusher.
func NewWriter(db *DB) *Writer {
	w := &Writer{
		db:       db,
		flushNow: sigchan.New(1),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// Add buffers one row. Unknown row types are dropped at flush time.
func (w *Writer) Add(row any) {
	w.mu.Lock()
	w.pending = append(w.pending, row)
	full := len(w.pending) >= flushRows
	w.mu.Unlock()
	if full {
		w.flushNow.Emit()
	}
}

// Close flushes what remains and stops the loop.
func (w *Writer) Close() {
	close(w.stop)
	<-w.done
}

func (w *Writer) loop() {
	defer close(w.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.flush()
		case <-w.flushNow.C():
			w.flush()
		case <-w.stop:
			w.flush()
			return
		}
	}
}

func (w *Writer) flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	if err := w.writeBatch(batch); err != nil {
		log.WithError(err).WithField("rows", len(batch)).Error("batch flush failed")
	}
}

func (w *Writer) writeBatch(batch []any) error {
	tx, err := w.db.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin batch")
	}
	defer func() { _ = tx.Rollback() }()

	for _, row := range batch {
		if err := writeRow(tx, row); err != nil {
			return err
		}
	}
	return errors.Wrap(tx.Commit(), "commit batch")
}

func writeRow(tx *sql.Tx, row any) error {
	switch r := row.(type) {
	case TradeRow:
		_, err := tx.Exec(
			`INSERT INTO trades (order_id, session_id, slug, token_id, direction, side, price, size, matched, reason, entry_edge, ts)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(order_id) DO UPDATE SET matched = excluded.matched`,
			r.OrderID, r.SessionID, r.Slug, r.TokenID, r.Direction, r.Side,
			r.Price, r.Size, r.Matched, r.Reason, r.EntryEdge, ts(r.At))
		return errors.Wrap(err, "write trade")
	case PnLRow:
		_, err := tx.Exec(
			`INSERT INTO pnl_snapshots (session_id, realized_pnl, exposure_usd, ts) VALUES (?, ?, ?, ?)`,
			r.SessionID, r.RealizedPnL, r.ExposureUSD, ts(r.At))
		return errors.Wrap(err, "write pnl snapshot")
	case BTCPriceRow:
		_, err := tx.Exec(
			`INSERT INTO btc_prices (price, deviation, range_pct, tick_count, ts) VALUES (?, ?, ?, ?, ?)`,
			r.Price, r.Deviation, r.RangePct, r.TickCount, ts(r.At))
		return errors.Wrap(err, "write btc price")
	case ProbabilityRow:
		_, err := tx.Exec(
			`INSERT OR IGNORE INTO probability_snapshots (slug, up_bid, up_ask, down_bid, down_ask, ts_second)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.Slug, r.UpBid, r.UpAsk, r.DownBid, r.DownAsk, r.At.Unix())
		return errors.Wrap(err, "write probability snapshot")
	case PositionRow:
		_, err := tx.Exec(
			`INSERT INTO position_changes (slug, up_shares, down_shares, up_cost, down_cost, ts) VALUES (?, ?, ?, ?, ?, ?)`,
			r.Slug, r.UpShares, r.DownShares, r.UpCost, r.DownCost, ts(r.At))
		return errors.Wrap(err, "write position change")
	case MergeRow:
		_, err := tx.Exec(
			`INSERT OR IGNORE INTO merges (tx_hash, session_id, slug, shares, pnl, ts) VALUES (?, ?, ?, ?, ?, ?)`,
			r.TxHash, r.SessionID, r.Slug, r.Shares, r.PnL, ts(r.At))
		return errors.Wrap(err, "write merge")
	case MarketWindowRow:
		_, err := tx.Exec(
			`INSERT INTO market_windows (slug, condition_id, market_type, neg_risk, end_time, entered_at, exited_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(slug) DO UPDATE SET exited_at = excluded.exited_at`,
			r.Slug, r.ConditionID, r.MarketType, boolInt(r.NegRisk),
			ts(r.EndTime), ts(r.EnteredAt), nullableTS(r.ExitedAt))
		return errors.Wrap(err, "write market window")
	default:
		log.WithField("type", fmt.Sprintf("%T", row)).Warn("unknown row type dropped")
		return nil
	}
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullableTS(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return ts(t)
}
