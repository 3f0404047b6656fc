// Package orchestrator sequences the end-to-end decision for one query:
// resolve user and tier, snapshot usage, evaluate quota, select a model,
// invoke it, and record the realized cost.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sarthi-ai/gateway/internal/model"
	"github.com/sarthi-ai/gateway/internal/quota"
	"github.com/sarthi-ai/gateway/internal/recorder"
	"github.com/sarthi-ai/gateway/internal/router"
	"github.com/sarthi-ai/gateway/internal/tier"
	"github.com/sarthi-ai/gateway/internal/usage"
)

var (
	// ErrModelInvocation marks upstream model failures, which clients must be
	// able to tell apart from quota denials.
	ErrModelInvocation = errors.New("model invocation failed")

	ErrInvalidRequest = errors.New("invalid request")
)

type Orchestrator struct {
	store        usage.Store
	recorder     *recorder.Recorder
	router       *router.Router
	registry     *model.Registry
	modelTimeout time.Duration
}

func New(store usage.Store, rec *recorder.Recorder, rt *router.Router, registry *model.Registry, modelTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		store:        store,
		recorder:     rec,
		router:       rt,
		registry:     registry,
		modelTimeout: modelTimeout,
	}
}

// Answer is the served result of one orchestrated query.
type Answer struct {
	Text      string  `json:"text"`
	Model     string  `json:"model"`
	Forced    bool    `json:"forced"`
	Reason    string  `json:"reason"`
	CostUSD   float64 `json:"cost_usd"`
	LatencyMs int64   `json:"latency_ms"`
}

type userState struct {
	user    *usage.User
	limits  tier.Limits
	daily   *usage.DailyUsage
	monthly *usage.MonthlyUsage
}

func (o *Orchestrator) load(ctx context.Context, identityKey string) (*userState, error) {
	if identityKey == "" {
		return nil, fmt.Errorf("%w: missing identity", ErrInvalidRequest)
	}

	user, err := o.store.GetOrCreateUser(ctx, identityKey)
	if err != nil {
		return nil, err
	}

	t, err := tier.Parse(user.Tier)
	if err != nil {
		return nil, err
	}
	limits, err := tier.LimitsFor(t)
	if err != nil {
		return nil, err
	}

	daily, monthly, err := o.recorder.Snapshot(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &userState{user: user, limits: limits, daily: daily, monthly: monthly}, nil
}

// Check evaluates quota for a prospective request without side effects.
func (o *Orchestrator) Check(ctx context.Context, identityKey string, advanced bool, estimatedCost float64) (quota.Decision, error) {
	st, err := o.load(ctx, identityKey)
	if err != nil {
		return quota.Decision{}, err
	}
	return quota.Evaluate(st.limits, *st.daily, *st.monthly, advanced, estimatedCost), nil
}

// Route combines the quota check with model selection for one query, without
// recording usage. Classification is gated by quota twice: a pre-check before
// the estimator runs, and a monthly-cost re-check against its estimate.
func (o *Orchestrator) Route(ctx context.Context, identityKey, query string) (quota.Decision, router.Selection, error) {
	if query == "" {
		return quota.Decision{}, router.Selection{}, fmt.Errorf("%w: empty query", ErrInvalidRequest)
	}

	st, err := o.load(ctx, identityKey)
	if err != nil {
		return quota.Decision{}, router.Selection{}, err
	}
	return o.route(ctx, st, query)
}

func (o *Orchestrator) route(ctx context.Context, st *userState, query string) (quota.Decision, router.Selection, error) {
	pre := quota.Evaluate(st.limits, *st.daily, *st.monthly, false, 0)
	if !pre.Allowed {
		return pre, router.Selection{}, nil
	}

	sel, err := o.router.Classify(ctx, query, pre)
	if err != nil {
		return pre, router.Selection{}, err
	}

	// Forced and short-query selections already resolved against quota; only
	// an estimator suggestion needs the second pass with its advanced flag
	// and cost estimate.
	if !sel.Forced {
		info, err := o.registry.Lookup(sel.Model)
		if err != nil {
			return pre, router.Selection{}, err
		}
		re := quota.Evaluate(st.limits, *st.daily, *st.monthly, info.Advanced, sel.EstimatedCost)
		if re.ForcedModel != "" {
			sel, err = o.router.Classify(ctx, query, re)
			if err != nil {
				return pre, router.Selection{}, err
			}
		}
	}

	return pre, sel, nil
}

// Handle serves one query end to end. A nil Answer with Allowed=false on the
// returned decision is a quota denial, not an error. Usage is recorded only
// after a successful invocation, with the backend-reported actual cost.
func (o *Orchestrator) Handle(ctx context.Context, identityKey, query string) (*Answer, quota.Decision, error) {
	if query == "" {
		return nil, quota.Decision{}, fmt.Errorf("%w: empty query", ErrInvalidRequest)
	}

	st, err := o.load(ctx, identityKey)
	if err != nil {
		return nil, quota.Decision{}, err
	}

	dec, sel, err := o.route(ctx, st, query)
	if err != nil {
		return nil, dec, err
	}
	if !dec.Allowed {
		return nil, dec, nil
	}

	info, err := o.registry.Lookup(sel.Model)
	if err != nil {
		return nil, dec, err
	}

	invokeCtx, cancel := context.WithTimeout(ctx, o.modelTimeout)
	defer cancel()

	result, err := o.registry.Invoke(invokeCtx, sel.Model, query)
	if err != nil {
		return nil, dec, fmt.Errorf("%w: %s: %v", ErrModelInvocation, sel.Model, err)
	}

	// The answer is already generated; a failed commit must not retract it.
	// The loss is logged, never silent.
	if err := o.recorder.Record(ctx, st.user.ID, info.Advanced, result.ActualCostUSD); err != nil {
		log.Printf("orchestrator: usage record failed for user %s: %v", st.user.ID, err)
	}

	return &Answer{
		Text:      result.Text,
		Model:     sel.Model,
		Forced:    sel.Forced,
		Reason:    sel.Reason,
		CostUSD:   result.ActualCostUSD,
		LatencyMs: result.LatencyMs,
	}, dec, nil
}

// RecordUsage commits one served request on behalf of a trusted caller that
// ran the Check/Route flow itself. Not idempotent; exactly-once is the
// caller's contract.
func (o *Orchestrator) RecordUsage(ctx context.Context, identityKey string, advanced bool, cost float64) error {
	if identityKey == "" {
		return fmt.Errorf("%w: missing identity", ErrInvalidRequest)
	}
	if cost < 0 {
		return fmt.Errorf("%w: negative cost", ErrInvalidRequest)
	}

	user, err := o.store.GetOrCreateUser(ctx, identityKey)
	if err != nil {
		return err
	}
	return o.recorder.Record(ctx, user.ID, advanced, cost)
}

// Summary is the current usage position of one user against their limits.
type Summary struct {
	User    *usage.User         `json:"user"`
	Limits  tier.Limits         `json:"limits"`
	Daily   *usage.DailyUsage   `json:"daily"`
	Monthly *usage.MonthlyUsage `json:"monthly"`
}

func (o *Orchestrator) UsageSummary(ctx context.Context, identityKey string) (*Summary, error) {
	st, err := o.load(ctx, identityKey)
	if err != nil {
		return nil, err
	}
	return &Summary{User: st.user, Limits: st.limits, Daily: st.daily, Monthly: st.monthly}, nil
}
