package progress

import (
	"errors"
	"fmt"
	"math"

	"example.com/challenges/internal/domain"
)

// ErrUnsupportedScope is returned for a scope with no registered policy.
var ErrUnsupportedScope = errors.New("unsupported challenge scope")

// ScopePolicy combines contributions and decides completion for one scope.
type ScopePolicy struct {
	// Merge folds a new contribution into the participant's stored value.
	Merge func(current, contribution float64) float64
	// Completed inspects the already-updated challenge.
	Completed func(challenge domain.Challenge, userID string) bool
}

var (
	groupPolicy = ScopePolicy{
		Merge: func(current, contribution float64) float64 { return current + contribution },
		Completed: func(c domain.Challenge, _ string) bool {
			return c.GroupTotal() >= c.Goal
		},
	}
	competitivePolicy = ScopePolicy{
		Merge: math.Max,
		Completed: func(c domain.Challenge, userID string) bool {
			return c.ProgressFor(userID) >= c.Goal
		},
	}
	cumulativePolicy = ScopePolicy{
		Merge: func(current, contribution float64) float64 { return current + contribution },
		Completed: func(c domain.Challenge, userID string) bool {
			return c.ProgressFor(userID) >= c.Goal
		},
	}
)

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithLegacyScopes registers the deprecated cumulative scope.
func WithLegacyScopes() AggregatorOption {
	return func(a *Aggregator) {
		a.policies[domain.ScopeCumulative] = cumulativePolicy
	}
}

// WithScopePolicy registers or replaces the policy for a scope.
func WithScopePolicy(scope domain.Scope, policy ScopePolicy) AggregatorOption {
	return func(a *Aggregator) {
		a.policies[scope] = policy
	}
}

// Aggregator merges contributions into challenge state.
type Aggregator struct {
	policies map[domain.Scope]ScopePolicy
}

// NewAggregator builds an Aggregator with the group and competitive policies.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		policies: map[domain.Scope]ScopePolicy{
			domain.ScopeGroup:       groupPolicy,
			domain.ScopeCompetitive: competitivePolicy,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Supports reports whether a policy is registered for scope.
func (a *Aggregator) Supports(scope domain.Scope) bool {
	_, ok := a.policies[scope]
	return ok
}

// Application is the result of applying one contribution.
type Application struct {
	// Challenge is a copy carrying the new per-user value when Applied is set.
	Challenge domain.Challenge
	Previous  float64
	NewTotal  float64
	// Applied is false when the contribution was not positive; nothing must be written.
	Applied   bool
	Completed bool
}

// Apply merges contribution into userID's progress. The input challenge is not modified.
func (a *Aggregator) Apply(challenge domain.Challenge, userID string, contribution float64) (Application, error) {
	policy, ok := a.policies[challenge.Scope]
	if !ok {
		return Application{}, fmt.Errorf("%w: %q", ErrUnsupportedScope, challenge.Scope)
	}

	current := challenge.ProgressFor(userID)
	if contribution <= 0 {
		return Application{Challenge: challenge, Previous: current, NewTotal: current}, nil
	}

	updated := challenge.Clone()
	newTotal := policy.Merge(current, contribution)
	updated.Progress[userID] = newTotal

	return Application{
		Challenge: updated,
		Previous:  current,
		NewTotal:  newTotal,
		Applied:   true,
		Completed: policy.Completed(updated, userID),
	}, nil
}

// Merge folds a single contribution using the scope's policy, without touching a challenge.
func (a *Aggregator) Merge(scope domain.Scope, current, contribution float64) (float64, error) {
	policy, ok := a.policies[scope]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedScope, scope)
	}
	if contribution <= 0 {
		return current, nil
	}
	return policy.Merge(current, contribution), nil
}
