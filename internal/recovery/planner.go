package recovery

import (
	"fmt"
	"math/rand/v2"
)

// maxJitterSeconds is the exclusive bound of the jitter added to retry delays.
const maxJitterSeconds = 5

// Planner decides what to do with a classified failure.
type Planner struct {
	classifier *Classifier
	jitter     func(n int) int
}

type PlannerOption func(*Planner)

// WithJitter overrides the random source used for delay jitter. fn must
// return a value in [0, n).
func WithJitter(fn func(n int) int) PlannerOption {
	return func(p *Planner) {
		p.jitter = fn
	}
}

func NewPlanner(classifier *Classifier, opts ...PlannerOption) *Planner {
	p := &Planner{
		classifier: classifier,
		jitter:     rand.IntN,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Planner) Classifier() *Classifier {
	return p.classifier
}

// Plan maps an analysis and the ticket's retry count to an Action.
func (p *Planner) Plan(a Analysis, retryCount int) Action {
	rule, ok := p.classifier.rule(a.ErrorType)
	if !ok || (a.IsRecoverable && rule.Threshold == Never) {
		return Action{
			Action:         ActionSkip,
			Recommendation: fmt.Sprintf("No consistent recovery rule for error type %q; leaving the ticket as is.", a.ErrorType),
		}
	}

	if !a.IsRecoverable {
		return Action{
			Action:           ActionFail,
			ShouldRetry:      false,
			ShouldNotifyUser: true,
			Recommendation:   rule.Recommendation,
		}
	}

	if retryCount < 0 {
		retryCount = 0
	}
	delay := rule.BaseDelaySeconds
	for i := 0; i < retryCount && delay < 1<<20; i++ {
		delay *= 2
	}
	return Action{
		Action:           ActionRetry,
		ShouldRetry:      true,
		ShouldNotifyUser: a.Severity == SeverityHigh,
		DelaySeconds:     delay + p.jitter(maxJitterSeconds),
		Recommendation:   rule.Recommendation,
	}
}

// Analyze classifies message at retryCount and plans the action in one step.
func (p *Planner) Analyze(message, details string, retryCount int) (Analysis, Action) {
	a := p.classifier.Classify(message, details, retryCount)
	return a, p.Plan(a, retryCount)
}
