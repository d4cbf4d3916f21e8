// Package settlement coordinates on-chain merges and redemptions:
// per-slug cooldowns and failure caps, background submission, and a
// result queue the tick loop harvests.
package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pairbot/gopair/clob/client"
	"github.com/pairbot/gopair/pkg/logger"
)

var log = logger.WithField("module", "settlement")

const (
	defaultMergeCooldown  = 15 * time.Second
	mergeFailureCap       = 5
	redeemBackoff         = 30 * time.Second
	defaultRedeemMaxTries = 3
)

// Chain is the on-chain surface the coordinator uses.
type Chain interface {
	ERC1155Balance(ctx context.Context, tokenID string) (decimal.Decimal, error)
	IsApprovedForAll(ctx context.Context, operator common.Address) (bool, error)
	BuildApprovalCall(operator common.Address) (client.ProxyCall, error)
	BuildMergeCall(conditionID string, negRisk bool, amount decimal.Decimal) (client.ProxyCall, error)
	BuildRedeemCall(conditionID string, negRisk bool, upAmount, downAmount decimal.Decimal) (client.ProxyCall, error)
	SubmitProxyCalls(ctx context.Context, calls []client.ProxyCall) (common.Hash, error)
	MergeTarget(negRisk bool) common.Address
}

// MarketRef carries the market facts settlement needs.
type MarketRef struct {
	Slug        string
	ConditionID string
	NegRisk     bool
	UpToken     string
	DownToken   string
	EndTime     time.Time
}

// Kind tags a settlement result.
type Kind int

const (
	KindMerge Kind = iota
	KindRedeem
)

// Result is one completed background submission, harvested by the
// tick loop. SoftSkip means nothing happened and nothing failed
// (balance below minimum).
type Result struct {
	Kind     Kind
	Slug     string
	Shares   decimal.Decimal // merged complete sets, or redeemed up-shares
	TxHash   string
	Err      error
	SoftSkip bool
}

// PendingRedemption is a resolved market awaiting redeemPositions.
type PendingRedemption struct {
	Market        MarketRef
	UpShares      decimal.Decimal
	DownShares    decimal.Decimal
	EligibleAt    time.Time
	Attempts      int
	LastAttemptAt time.Time
}

type mergeState struct {
	lastAttempt time.Time
	failures    int
}

// Coordinator runs merges and redemptions in background goroutines,
// at most one in flight per slug.
type Coordinator struct {
	chain  Chain
	dryRun bool

	minMergeShares decimal.Decimal
	noNewOrdersSec int
	redeemDelay    time.Duration
	mergeCooldown  time.Duration
	redeemMaxTries int

	merges      map[string]*mergeState
	redemptions map[string]*PendingRedemption

	mu       sync.Mutex
	inFlight map[string]bool
	results  chan Result
	wg       sync.WaitGroup

	now func() time.Time
}

// Options configures a Coordinator. Zero cooldown and attempt values
// fall back to the package defaults.
type Options struct {
	DryRun            bool
	MinMergeShares    decimal.Decimal
	NoNewOrdersSec    int
	RedeemDelaySec    int
	MergeCooldownSec  int
	RedeemMaxAttempts int
}

// NewCoordinator builds a coordinator. chain may be nil in dry-run.
func NewCoordinator(chain Chain, opts Options) *Coordinator {
	cooldown := time.Duration(opts.MergeCooldownSec) * time.Second
	if cooldown <= 0 {
		cooldown = defaultMergeCooldown
	}
	maxTries := opts.RedeemMaxAttempts
	if maxTries <= 0 {
		maxTries = defaultRedeemMaxTries
	}
	return &Coordinator{
		chain:          chain,
		dryRun:         opts.DryRun,
		minMergeShares: opts.MinMergeShares,
		noNewOrdersSec: opts.NoNewOrdersSec,
		redeemDelay:    time.Duration(opts.RedeemDelaySec) * time.Second,
		mergeCooldown:  cooldown,
		redeemMaxTries: maxTries,
		merges:         make(map[string]*mergeState),
		redemptions:    make(map[string]*PendingRedemption),
		inFlight:       make(map[string]bool),
		results:        make(chan Result, 64),
		now:            time.Now,
	}
}

// Harvest drains completed settlement results without blocking and
// applies failure bookkeeping.
func (c *Coordinator) Harvest() []Result {
	var out []Result
	for {
		select {
		case r := <-c.results:
			c.mu.Lock()
			delete(c.inFlight, r.Slug)
			c.mu.Unlock()
			c.bookkeep(r)
			out = append(out, r)
		default:
			return out
		}
	}
}

func (c *Coordinator) bookkeep(r Result) {
	switch r.Kind {
	case KindMerge:
		st := c.mergeStateFor(r.Slug)
		switch {
		case r.SoftSkip:
			// Balance below minimum: retry later, not a failure.
		case r.Err != nil:
			st.failures++
			log.WithError(r.Err).
				WithField("slug", r.Slug).
				WithField("failures", st.failures).
				Warn("merge failed")
		default:
			st.failures = 0
		}
	case KindRedeem:
		p := c.redemptions[r.Slug]
		if p == nil {
			return
		}
		if r.Err == nil {
			delete(c.redemptions, r.Slug)
			return
		}
		p.Attempts++
		p.LastAttemptAt = c.now()
		if p.Attempts >= c.redeemMaxTries {
			delete(c.redemptions, r.Slug)
			log.WithError(r.Err).
				WithField("slug", r.Slug).
				WithField("attempts", p.Attempts).
				Error("redemption dropped after repeated failures")
		}
	}
}

func (c *Coordinator) mergeStateFor(slug string) *mergeState {
	st, ok := c.merges[slug]
	if !ok {
		st = &mergeState{}
		c.merges[slug] = st
	}
	return st
}

// CanMerge reports whether a merge may be launched for this slug now.
func (c *Coordinator) CanMerge(slug string, secondsToEnd int) bool {
	if secondsToEnd < c.noNewOrdersSec {
		return false
	}
	c.mu.Lock()
	busy := c.inFlight[slug]
	c.mu.Unlock()
	if busy {
		return false
	}
	st := c.mergeStateFor(slug)
	if st.failures >= mergeFailureCap {
		return false
	}
	return c.now().Sub(st.lastAttempt) >= c.mergeCooldown
}

// LaunchMerge starts one background merge. The caller checks CanMerge
// first; the tick loop launches at most one merge per tick.
func (c *Coordinator) LaunchMerge(ctx context.Context, m MarketRef, localHedged decimal.Decimal) {
	st := c.mergeStateFor(m.Slug)
	st.lastAttempt = c.now()
	c.mu.Lock()
	c.inFlight[m.Slug] = true
	c.mu.Unlock()

	if c.dryRun {
		// Simulated merge settles instantly for the local quantity.
		c.results <- Result{Kind: KindMerge, Slug: m.Slug, Shares: localHedged, TxHash: "dry-" + uuid.NewString()}
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.results <- c.runMerge(ctx, m)
	}()
}

// runMerge re-reads settled balances and merges their minimum. The
// local inventory may exceed what is actually settled on-chain.
func (c *Coordinator) runMerge(ctx context.Context, m MarketRef) Result {
	res := Result{Kind: KindMerge, Slug: m.Slug}

	upBal, err := c.chain.ERC1155Balance(ctx, m.UpToken)
	if err != nil {
		res.Err = err
		return res
	}
	downBal, err := c.chain.ERC1155Balance(ctx, m.DownToken)
	if err != nil {
		res.Err = err
		return res
	}
	amount := upBal
	if downBal.LessThan(amount) {
		amount = downBal
	}
	if amount.LessThan(c.minMergeShares) {
		log.WithField("slug", m.Slug).
			WithField("settled", amount.String()).
			WithField("min", c.minMergeShares.String()).
			Debug("settled balance below merge minimum, skipping")
		res.SoftSkip = true
		return res
	}

	calls, err := c.mergeCalls(ctx, m, amount)
	if err != nil {
		res.Err = err
		return res
	}
	hash, err := c.chain.SubmitProxyCalls(ctx, calls)
	if err != nil {
		res.Err = err
		return res
	}

	res.Shares = amount
	res.TxHash = hash.Hex()
	log.WithField("slug", m.Slug).
		WithField("shares", amount.String()).
		WithField("tx", res.TxHash).
		Info("merge confirmed")
	return res
}

func (c *Coordinator) mergeCalls(ctx context.Context, m MarketRef, amount decimal.Decimal) ([]client.ProxyCall, error) {
	var calls []client.ProxyCall
	operator := c.chain.MergeTarget(m.NegRisk)
	approved, err := c.chain.IsApprovedForAll(ctx, operator)
	if err != nil {
		return nil, err
	}
	if !approved {
		approval, err := c.chain.BuildApprovalCall(operator)
		if err != nil {
			return nil, err
		}
		calls = append(calls, approval)
	}
	merge, err := c.chain.BuildMergeCall(m.ConditionID, m.NegRisk, amount)
	if err != nil {
		return nil, err
	}
	return append(calls, merge), nil
}

// QueueRedemption registers a resolved market for redemption once its
// buffer elapses. Re-queuing an already pending slug is a no-op.
func (c *Coordinator) QueueRedemption(m MarketRef, upShares, downShares decimal.Decimal) {
	if _, exists := c.redemptions[m.Slug]; exists {
		return
	}
	c.redemptions[m.Slug] = &PendingRedemption{
		Market:     m,
		UpShares:   upShares,
		DownShares: downShares,
		EligibleAt: m.EndTime.Add(c.redeemDelay),
	}
	log.WithField("slug", m.Slug).
		WithField("eligible_at", m.EndTime.Add(c.redeemDelay).Format(time.RFC3339)).
		Info("redemption queued")
}

// PendingRedemptions returns the current queue size.
func (c *Coordinator) PendingRedemptions() int {
	return len(c.redemptions)
}

// RunRedemptions launches submissions for every eligible pending
// redemption not already in flight.
func (c *Coordinator) RunRedemptions(ctx context.Context) {
	now := c.now()
	for slug, p := range c.redemptions {
		if now.Before(p.EligibleAt) {
			continue
		}
		if p.Attempts > 0 && now.Sub(p.LastAttemptAt) < redeemBackoff {
			continue
		}
		c.mu.Lock()
		if c.inFlight[slug] {
			c.mu.Unlock()
			continue
		}
		c.inFlight[slug] = true
		c.mu.Unlock()

		if c.dryRun {
			c.results <- Result{Kind: KindRedeem, Slug: slug, Shares: p.UpShares, TxHash: "dry-" + uuid.NewString()}
			continue
		}

		pending := p
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.results <- c.runRedeem(ctx, pending)
		}()
	}
}

func (c *Coordinator) runRedeem(ctx context.Context, p *PendingRedemption) Result {
	res := Result{Kind: KindRedeem, Slug: p.Market.Slug}

	redeem, err := c.chain.BuildRedeemCall(p.Market.ConditionID, p.Market.NegRisk, p.UpShares, p.DownShares)
	if err != nil {
		res.Err = err
		return res
	}
	calls := []client.ProxyCall{redeem}
	hash, err := c.chain.SubmitProxyCalls(ctx, calls)
	if err != nil {
		res.Err = err
		return res
	}
	res.Shares = p.UpShares
	res.TxHash = hash.Hex()
	log.WithField("slug", p.Market.Slug).WithField("tx", res.TxHash).Info("redemption confirmed")
	return res
}

// Wait blocks until every in-flight submission returns.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
