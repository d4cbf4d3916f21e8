package main

import (
	"time"

	"github.com/pairbot/gopair/internal/dashboard"
	"github.com/pairbot/gopair/internal/engine"
	"github.com/pairbot/gopair/internal/events"
	"github.com/pairbot/gopair/internal/storage"
	"github.com/pairbot/gopair/pkg/config"
)

// consume is the bus's single reader: every event becomes persistence
// rows and, throttled, a dashboard broadcast. It drains what is left
// after stop closes so shutdown loses nothing already queued.
func consume(bus *events.Bus, writer *storage.Writer, eng *engine.Engine, dash *dashboard.Server, cfg *config.Config, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	c := &consumer{
		writer:    writer,
		dash:      dash,
		cfg:       cfg,
		eng:       eng,
		bus:       bus,
		throttle:  events.NewThrottle(),
		startedAt: time.Now(),
		markets:   make(map[string]*dashboard.MarketView),
		positions: make(map[string]*dashboard.PositionView),
	}

	for {
		select {
		case ev := <-bus.Events():
			c.handle(ev)
		case <-stop:
			for {
				select {
				case ev := <-bus.Events():
					c.handle(ev)
				default:
					return
				}
			}
		}
	}
}

type consumer struct {
	writer   *storage.Writer
	dash     *dashboard.Server
	cfg      *config.Config
	eng      *engine.Engine
	bus      *events.Bus
	throttle *events.Throttle

	startedAt time.Time
	markets   map[string]*dashboard.MarketView
	positions map[string]*dashboard.PositionView
}

func (c *consumer) handle(ev events.Event) {
	switch p := ev.Payload.(type) {
	case events.TickSnapshot:
		if c.dash != nil {
			c.dash.SetStatus(dashboard.Status{
				SessionID:     c.eng.SessionID(),
				StartedAt:     c.startedAt,
				DryRun:        c.cfg.DryRun,
				ActiveMarkets: p.ActiveMarkets,
				OpenOrders:    p.OpenOrders,
				EventsDropped: c.bus.Dropped(),
			})
			c.pushMarketViews(ev.At)
		}

	case events.BTCPrice:
		c.writer.Add(storage.BTCPriceRow{
			Price:     p.Price,
			Deviation: p.Deviation,
			RangePct:  p.RangePct,
			TickCount: p.TickCount,
			At:        ev.At,
		})

	case events.OrderEvent:
		if ev.Type == events.TypeOrderFilled {
			c.writer.Add(storage.TradeRow{
				OrderID:   p.OrderID,
				SessionID: c.eng.SessionID(),
				Slug:      p.Slug,
				TokenID:   p.TokenID,
				Direction: p.Direction,
				Side:      p.Side,
				Price:     p.Price.InexactFloat64(),
				Size:      p.Size.InexactFloat64(),
				Matched:   p.Matched.InexactFloat64(),
				Reason:    p.Reason,
				EntryEdge: p.EntryEdge.InexactFloat64(),
				At:        ev.At,
			})
		}

	case events.ProbabilitySnapshot:
		c.writer.Add(storage.ProbabilityRow{
			Slug:    p.Slug,
			UpBid:   p.UpBid.InexactFloat64(),
			UpAsk:   p.UpAsk.InexactFloat64(),
			DownBid: p.DownBid.InexactFloat64(),
			DownAsk: p.DownAsk.InexactFloat64(),
			At:      ev.At,
		})
		if mv, ok := c.markets[p.Slug]; ok {
			mv.UpBid = p.UpBid.InexactFloat64()
			mv.UpAsk = p.UpAsk.InexactFloat64()
			mv.DownBid = p.DownBid.InexactFloat64()
			mv.DownAsk = p.DownAsk.InexactFloat64()
		}

	case events.PositionChange:
		c.writer.Add(storage.PositionRow{
			Slug:       p.Slug,
			UpShares:   p.UpShares.InexactFloat64(),
			DownShares: p.DownShares.InexactFloat64(),
			UpCost:     p.UpCost.InexactFloat64(),
			DownCost:   p.DownCost.InexactFloat64(),
			At:         ev.At,
		})
		view := &dashboard.PositionView{
			Slug:       p.Slug,
			UpShares:   p.UpShares.InexactFloat64(),
			DownShares: p.DownShares.InexactFloat64(),
			Hedged:     p.Hedged.InexactFloat64(),
		}
		if p.UpShares.IsPositive() {
			view.UpVWAP = p.UpCost.Div(p.UpShares).InexactFloat64()
		}
		if p.DownShares.IsPositive() {
			view.DownVWAP = p.DownCost.Div(p.DownShares).InexactFloat64()
		}
		c.positions[p.Slug] = view

	case events.MergeComplete:
		c.writer.Add(storage.MergeRow{
			TxHash:    p.TxHash,
			SessionID: c.eng.SessionID(),
			Slug:      p.Slug,
			Shares:    p.Shares.InexactFloat64(),
			PnL:       p.PnL.InexactFloat64(),
			At:        ev.At,
		})

	case events.MarketLifecycle:
		row := storage.MarketWindowRow{
			Slug:        p.Slug,
			ConditionID: p.ConditionID,
			MarketType:  p.MarketType,
			NegRisk:     p.NegRisk,
			EndTime:     p.EndTime,
		}
		if ev.Type == events.TypeMarketEntered {
			row.EnteredAt = ev.At
			c.markets[p.Slug] = &dashboard.MarketView{
				Slug:       p.Slug,
				MarketType: p.MarketType,
				EndTime:    p.EndTime.Unix(),
			}
		} else {
			row.ExitedAt = ev.At
			delete(c.markets, p.Slug)
			delete(c.positions, p.Slug)
		}
		c.writer.Add(row)

	case events.PnLSnapshot:
		c.writer.Add(storage.PnLRow{
			SessionID:   c.eng.SessionID(),
			RealizedPnL: p.RealizedPnL.InexactFloat64(),
			ExposureUSD: p.ExposureUSD.InexactFloat64(),
			At:          ev.At,
		})
		if c.dash != nil {
			c.dash.SetPnL(dashboard.PnLView{
				RealizedPnL: p.RealizedPnL.InexactFloat64(),
				ExposureUSD: p.ExposureUSD.InexactFloat64(),
			})
		}
	}

	if c.dash != nil && c.throttle.Allow(ev.Type, ev.At) {
		c.dash.Broadcast(string(ev.Type), ev.Payload)
	}
}

func (c *consumer) pushMarketViews(now time.Time) {
	views := make([]dashboard.MarketView, 0, len(c.markets))
	for _, mv := range c.markets {
		v := *mv
		v.SecondsToEnd = int(time.Unix(mv.EndTime, 0).Sub(now).Seconds())
		views = append(views, v)
	}
	c.dash.SetMarkets(views)

	positions := make([]dashboard.PositionView, 0, len(c.positions))
	for _, pv := range c.positions {
		positions = append(positions, *pv)
	}
	c.dash.SetInventory(positions)
}
