package client

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/pairbot/gopair/pkg/ratelimit"
)

// GammaClient talks to the Gamma discovery API. Public, read-only.
type GammaClient struct {
	http   *resty.Client
	limits *ratelimit.Manager
}

// NewGammaClient creates a discovery client for the given host.
func NewGammaClient(host string) *GammaClient {
	hc := resty.New().
		SetBaseURL(strings.TrimSuffix(host, "/")).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(8 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "gopair-gamma")
	return &GammaClient{http: hc, limits: ratelimit.NewManager()}
}

// GammaEvent is one discovery event, carrying its markets.
type GammaEvent struct {
	ID      string        `json:"id"`
	Slug    string        `json:"slug"`
	Title   string        `json:"title"`
	EndDate string        `json:"endDate"`
	Markets []GammaMarket `json:"markets"`
}

// GammaMarket is one market inside an event. ClobTokenIDs and
// Outcomes arrive as JSON-encoded strings.
type GammaMarket struct {
	ID           string `json:"id"`
	Question     string `json:"question"`
	ConditionID  string `json:"conditionId"`
	Slug         string `json:"slug"`
	ClobTokenIDs string `json:"clobTokenIds"`
	Outcomes     string `json:"outcomes"`
	EndDate      string `json:"endDate"`
	NegRisk      bool   `json:"negRisk"`
	Closed       bool   `json:"closed"`
}

// TokenIDs decodes the clobTokenIds field into its two token ids.
func (m *GammaMarket) TokenIDs() ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err != nil {
		return nil, errors.Wrapf(err, "decode clobTokenIds for %s", m.Slug)
	}
	return ids, nil
}

// OutcomeLabels decodes the outcomes field, e.g. ["Up","Down"].
func (m *GammaMarket) OutcomeLabels() ([]string, error) {
	var labels []string
	if err := json.Unmarshal([]byte(m.Outcomes), &labels); err != nil {
		return nil, errors.Wrapf(err, "decode outcomes for %s", m.Slug)
	}
	return labels, nil
}

// UpDownTokens matches outcome labels to token ids. The API does not
// guarantee label order, so both permutations are checked.
func (m *GammaMarket) UpDownTokens() (upToken, downToken string, err error) {
	ids, err := m.TokenIDs()
	if err != nil {
		return "", "", err
	}
	labels, err := m.OutcomeLabels()
	if err != nil {
		return "", "", err
	}
	if len(ids) != 2 || len(labels) != 2 {
		return "", "", errors.Errorf("market %s is not binary: %d tokens, %d outcomes", m.Slug, len(ids), len(labels))
	}
	for i, label := range labels {
		switch normalizeOutcome(label) {
		case "up", "yes":
			upToken = ids[i]
		case "down", "no":
			downToken = ids[i]
		}
	}
	if upToken == "" || downToken == "" {
		return "", "", errors.Errorf("market %s outcomes not identifiable as up/down: %v", m.Slug, labels)
	}
	return upToken, downToken, nil
}

func normalizeOutcome(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// EndTime parses endDate, accepting RFC-3339 or unix epoch seconds.
func (m *GammaMarket) EndTime() (time.Time, error) {
	s := strings.TrimSpace(m.EndDate)
	if s == "" {
		return time.Time{}, errors.Errorf("market %s has no endDate", m.Slug)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(epoch, 0), nil
	}
	return time.Time{}, errors.Errorf("market %s endDate %q not RFC-3339 or epoch", m.Slug, s)
}

// FetchEvent resolves one slug. A missing slug returns (nil, nil):
// the window simply does not exist yet, which is not an error.
func (g *GammaClient) FetchEvent(ctx context.Context, slug string) (*GammaEvent, error) {
	if err := g.limits.Wait(ctx, "gamma:events:get"); err != nil {
		return nil, err
	}
	var events []GammaEvent
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetResult(&events).
		Get(EndpointGammaEvents)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch event %s", slug)
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("fetch event %s: http %d", slug, resp.StatusCode())
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}
