// Package planner is the boundary client for the external command planner
// and risk classifier. The engine never calls it; transport handlers use it
// to turn a natural-language goal into an ordered, risk-tagged command plan
// before anything reaches a session's queue.
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/termpilot/termpilot/internal/infrastructure/resilience"
	"github.com/termpilot/termpilot/internal/types"
)

// PlannedCommand is one step of a plan, already classified.
type PlannedCommand struct {
	Command     string          `json:"command"`
	Reasoning   string          `json:"reasoning"`
	Risk        types.RiskLevel `json:"risk_level"`
	Alternative string          `json:"alternative,omitempty"`
}

// Plan is an ordered sequence of classified commands.
type Plan struct {
	Steps                []PlannedCommand `json:"steps"`
	OverallRisk          types.RiskLevel  `json:"overall_risk"`
	RequiresConfirmation bool             `json:"requires_confirmation"`
}

// Config configures the remote planner client.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client calls the remote planner with retries, rate limiting, and a
// circuit breaker. When the remote is unreachable or unconfigured,
// classification falls back to the local pattern tables.
type Client struct {
	http    *resty.Client
	url     string
	breaker *resilience.Breaker
	limiter *rate.Limiter
}

// New creates a planner client.
func New(cfg Config) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetTimeout(timeout).
		SetTransport(retryClient.HTTPClient.Transport).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http: httpClient,
		url:  cfg.URL,
		breaker: resilience.New("planner", resilience.Settings{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		}),
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// Plan asks the remote planner for a command sequence achieving the goal.
func (c *Client) Plan(ctx context.Context, goal string) (*Plan, error) {
	if c.url == "" {
		return nil, fmt.Errorf("planner not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var plan Plan
	err := c.breaker.Do(func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(map[string]string{"goal": goal}).
			SetResult(&plan).
			Post(c.url + "/plan")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("planner returned %s", resp.Status())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	normalize(&plan)
	return &plan, nil
}

// Classify returns the risk level for a single command. It prefers the
// remote classifier and falls back to the local pattern tables when the
// remote is unconfigured, tripped, or failing.
func (c *Client) Classify(ctx context.Context, command string) types.RiskLevel {
	if c.url == "" {
		return ClassifyLocal(command)
	}

	var result struct {
		Risk types.RiskLevel `json:"risk_level"`
	}
	err := c.breaker.Do(func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(map[string]string{"command": command}).
			SetResult(&result).
			Post(c.url + "/classify")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("classifier returned %s", resp.Status())
		}
		return nil
	})
	if err != nil || !result.Risk.Valid() {
		return ClassifyLocal(command)
	}
	return result.Risk
}

// normalize fills in derived fields and guards against malformed remote
// responses.
func normalize(plan *Plan) {
	maxRisk := types.RiskSafe
	for i := range plan.Steps {
		if !plan.Steps[i].Risk.Valid() {
			plan.Steps[i].Risk = ClassifyLocal(plan.Steps[i].Command)
		}
		if riskRank(plan.Steps[i].Risk) > riskRank(maxRisk) {
			maxRisk = plan.Steps[i].Risk
		}
	}
	if !plan.OverallRisk.Valid() || riskRank(plan.OverallRisk) < riskRank(maxRisk) {
		plan.OverallRisk = maxRisk
	}
	if riskRank(maxRisk) >= riskRank(types.RiskDangerous) {
		plan.RequiresConfirmation = true
	}
}

func riskRank(r types.RiskLevel) int {
	switch r {
	case types.RiskSafe:
		return 0
	case types.RiskCaution:
		return 1
	case types.RiskDangerous:
		return 2
	case types.RiskCritical:
		return 3
	default:
		return 0
	}
}
