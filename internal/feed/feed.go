// Package feed streams the reference spot price and taker-flow
// imbalance from Binance futures and exposes a candle snapshot aligned
// to the Polymarket resolution window.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pairbot/gopair/pkg/logger"
)

var log = logger.WithField("module", "feed")

const (
	reconnectBackoff = 3 * time.Second
	readDeadline     = 30 * time.Second
	handshakeTimeout = 15 * time.Second
)

// OpenPriceFunc supplies the authoritative window open, typically the
// on-chain oracle Polymarket settles against.
type OpenPriceFunc func(ctx context.Context) (float64, error)

// Feed runs the websocket loop and owns the candle and volume state.
type Feed struct {
	symbol  string // lower-case, e.g. "btcusdt"
	baseURL string // e.g. "wss://fstream.binance.com"

	openPrice OpenPriceFunc

	candle windowCandle
	volume *volumeTracker

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	connMu sync.Mutex
	conn   *websocket.Conn
}

// New builds a feed for one symbol. openPrice may be nil; the first
// stream tick then seeds the window open.
func New(baseURL, symbol string, volumeShortSec, volumeMediumSec int, openPrice OpenPriceFunc) *Feed {
	s := strings.ToLower(strings.TrimSpace(symbol))
	if s == "" {
		s = "btcusdt"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		symbol:    s,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		openPrice: openPrice,
		volume:    newVolumeTracker(volumeShortSec, volumeMediumSec),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start launches the websocket loop.
func (f *Feed) Start() {
	go f.run()
}

// Stop tears down the connection and waits for the loop to exit.
func (f *Feed) Stop() {
	f.cancel()
	f.connMu.Lock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()
	<-f.done
}

// BeginWindow resets the candle for a new resolution window. The open
// is read from the oracle when available; otherwise the stream seeds
// it on the next tick.
func (f *Feed) BeginWindow(start, end time.Time) {
	open := 0.0
	source := "stream"
	if f.openPrice != nil {
		ctx, cancel := context.WithTimeout(f.ctx, 5*time.Second)
		p, err := f.openPrice(ctx)
		cancel()
		if err != nil {
			log.WithError(err).Warn("oracle open unavailable, falling back to stream")
		} else if p > 0 {
			open = p
			source = "oracle"
		}
	}
	f.candle.Begin(start, end, open, source)
	log.WithField("window_start", start.Unix()).
		WithField("open", open).
		WithField("source", source).
		Info("window candle reset")
}

// Candle returns the latest consistent candle snapshot, nil before the
// first BeginWindow.
func (f *Feed) Candle() *CandleSnapshot {
	return f.candle.Snapshot()
}

// Volume returns the rolling taker-flow state as of now.
func (f *Feed) Volume(now time.Time) VolumeState {
	return f.volume.Snapshot(now)
}

func (f *Feed) run() {
	defer close(f.done)

	streams := []string{
		fmt.Sprintf("%s@kline_1m", f.symbol),
		fmt.Sprintf("%s@aggTrade", f.symbol),
	}
	wsURL := f.baseURL + "/stream?streams=" + strings.Join(streams, "/")

	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		conn, err := f.dial(wsURL)
		if err != nil {
			log.WithError(err).Warn("websocket connect failed")
			select {
			case <-time.After(reconnectBackoff):
				continue
			case <-f.ctx.Done():
				return
			}
		}

		f.connMu.Lock()
		f.conn = conn
		f.connMu.Unlock()
		log.WithField("symbol", f.symbol).Info("reference feed connected")

		if err := f.readLoop(conn); err != nil && f.ctx.Err() == nil {
			log.WithError(err).Warn("websocket read loop exited")
		}

		f.connMu.Lock()
		if f.conn == conn {
			f.conn = nil
		}
		f.connMu.Unlock()
		_ = conn.Close()

		select {
		case <-time.After(reconnectBackoff):
		case <-f.ctx.Done():
			return
		}
	}
}

func (f *Feed) dial(wsURL string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(wsURL, nil)
	return conn, err
}

type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type klineFrame struct {
	Kline struct {
		Close     string `json:"c"`
		CloseTime int64  `json:"T"`
	} `json:"k"`
}

type aggTradeFrame struct {
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func (f *Feed) readLoop(conn *websocket.Conn) error {
	for {
		select {
		case <-f.ctx.Done():
			return f.ctx.Err()
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame combinedFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}
		switch {
		case strings.Contains(frame.Stream, "@kline"):
			f.handleKline(frame.Data)
		case strings.Contains(frame.Stream, "@aggTrade"):
			f.handleAggTrade(frame.Data)
		}
	}
}

func (f *Feed) handleKline(data json.RawMessage) {
	var k klineFrame
	if err := json.Unmarshal(data, &k); err != nil {
		return
	}
	price, err := strconv.ParseFloat(k.Kline.Close, 64)
	if err != nil || price <= 0 {
		return
	}
	f.candle.Update(price, time.Now())
}

func (f *Feed) handleAggTrade(data json.RawMessage) {
	var t aggTradeFrame
	if err := json.Unmarshal(data, &t); err != nil {
		return
	}
	price, err := strconv.ParseFloat(t.Price, 64)
	if err != nil || price <= 0 {
		return
	}
	qty, err := strconv.ParseFloat(t.Quantity, 64)
	if err != nil {
		return
	}
	ts := time.UnixMilli(t.TradeTime)
	if t.TradeTime == 0 {
		ts = time.Now()
	}
	f.candle.Update(price, ts)
	f.volume.Add(qty, t.IsBuyerMaker, ts)
}
