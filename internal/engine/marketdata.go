package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pairbot/gopair/clob/client"
	"github.com/pairbot/gopair/clob/types"
	"github.com/pairbot/gopair/pkg/cache"
	"github.com/pairbot/gopair/pkg/marketspec"
)

// bookTTL keeps cached books strictly fresher than the tick period.
const bookTTL = 400 * time.Millisecond

// Discovery resolves slugs to markets.
type Discovery interface {
	FetchEvent(ctx context.Context, slug string) (*client.GammaEvent, error)
}

// Books is the book-reading slice of the CLOB client.
type Books interface {
	GetOrderBook(ctx context.Context, tokenID string) (*types.OrderBookSummary, error)
	GetOrderBooks(ctx context.Context, params []types.BookParams) ([]types.OrderBookSummary, error)
	SetMarketFacts(tokenID string, tickSize types.TickSize, negRisk bool)
}

// MarketData enumerates candidate windows, resolves them through the
// discovery API, and serves TTL-cached book reads.
type MarketData struct {
	gamma Discovery
	books Books
	cache *cache.InMemoryCache[string, *types.OrderBookSummary]
}

// NewMarketData builds the market-data layer.
func NewMarketData(gamma Discovery, books Books) *MarketData {
	return &MarketData{
		gamma: gamma,
		books: books,
		cache: cache.NewInMemoryCache[string, *types.OrderBookSummary](bookTTL),
	}
}

// Discover probes the slug grid for every spec: one window back, the
// current one, and one ahead. Per-slug failures are silent; a flaky
// probe must not drop already-known markets.
func (d *MarketData) Discover(ctx context.Context, specs []marketspec.Spec, now time.Time) []Market {
	seen := make(map[string]bool)
	var out []Market
	for _, spec := range specs {
		for _, slug := range spec.CandidateSlugs(now, 1, 1) {
			if seen[slug] {
				continue
			}
			seen[slug] = true

			event, err := d.gamma.FetchEvent(ctx, slug)
			if err != nil {
				log.WithError(err).WithField("slug", slug).Debug("discovery probe failed")
				continue
			}
			if event == nil {
				continue
			}
			m, ok := d.parseEvent(event, spec, now)
			if !ok {
				continue
			}
			out = append(out, m)
		}
	}
	return out
}

func (d *MarketData) parseEvent(event *client.GammaEvent, spec marketspec.Spec, now time.Time) (Market, bool) {
	for i := range event.Markets {
		gm := &event.Markets[i]
		if gm.Closed {
			continue
		}
		end, err := gm.EndTime()
		if err != nil || !end.After(now) {
			continue
		}
		upToken, downToken, err := gm.UpDownTokens()
		if err != nil {
			log.WithError(err).WithField("slug", event.Slug).Debug("outcomes not identifiable")
			continue
		}
		// Prime the per-token facts so the first order needs no
		// extra book fetch.
		d.books.SetMarketFacts(upToken, "", gm.NegRisk)
		d.books.SetMarketFacts(downToken, "", gm.NegRisk)
		return Market{
			Slug:        event.Slug,
			ConditionID: gm.ConditionID,
			UpToken:     upToken,
			DownToken:   downToken,
			MarketType:  spec.MarketType(),
			NegRisk:     gm.NegRisk,
			EndTime:     end,
		}, true
	}
	return Market{}, false
}

// Prefetch batch-fetches every token's book in one request and fills
// the cache keyed by the response's asset id.
func (d *MarketData) Prefetch(ctx context.Context, markets []*Market) {
	var params []types.BookParams
	for _, m := range markets {
		params = append(params, types.BookParams{TokenID: m.UpToken}, types.BookParams{TokenID: m.DownToken})
	}
	if len(params) == 0 {
		return
	}
	books, err := d.books.GetOrderBooks(ctx, params)
	if err != nil {
		log.WithError(err).Debug("book prefetch failed")
		return
	}
	for i := range books {
		b := books[i]
		if b.AssetID != "" {
			d.cache.Set(b.AssetID, &b, bookTTL)
		}
	}
}

// Book returns the cached raw book for a token; nil on a cache miss.
// The dry-run fill simulator reads through this.
func (d *MarketData) Book(tokenID string) *types.OrderBookSummary {
	b, ok := d.cache.Get(tokenID)
	if !ok {
		return nil
	}
	return b
}

// TopOfBook returns the best levels for one token, fetching on a cache
// miss. An empty book and any network error both come back nil; the
// caller skips the market this tick.
func (d *MarketData) TopOfBook(ctx context.Context, tokenID string) *TopOfBook {
	book, ok := d.cache.Get(tokenID)
	if !ok {
		fetched, err := d.books.GetOrderBook(ctx, tokenID)
		if err != nil {
			log.WithError(err).WithField("token", tokenID).Debug("book fetch failed")
			return nil
		}
		d.cache.Set(tokenID, fetched, bookTTL)
		book = fetched
	}
	return parseTOB(book)
}

func parseTOB(book *types.OrderBookSummary) *TopOfBook {
	if book == nil {
		return nil
	}
	bid, hasBid := book.BestBid()
	ask, hasAsk := book.BestAsk()
	if !hasBid && !hasAsk {
		return nil
	}
	return &TopOfBook{
		BestBid:   bid,
		BestAsk:   ask,
		HasBid:    hasBid,
		HasAsk:    hasAsk,
		UpdatedAt: time.Now(),
	}
}

// MidPrice exposes cached mids for inventory bootstrapping.
func (d *MarketData) MidPrice(tokenID string) (decimal.Decimal, bool) {
	book, ok := d.cache.Get(tokenID)
	if !ok {
		return decimal.Zero, false
	}
	tob := parseTOB(book)
	if tob == nil {
		return decimal.Zero, false
	}
	return tob.Mid()
}
