package turn

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/orchardhq/orchard/model"
)

// adaptiveLimiter is a per-provider-tier AIMD token bucket: it estimates the
// token cost of each request, blocks until budget is available, and halves
// its effective tokens-per-minute budget whenever the provider reports
// ErrorRateLimited, recovering gradually on successful calls.
type adaptiveLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

func newAdaptiveLimiter(initialTPM, maxTPM float64) *adaptiveLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &adaptiveLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

func (l *adaptiveLimiter) wait(ctx context.Context, req *model.Request) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

func (l *adaptiveLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	var perr *model.Error
	if errors.As(err, &perr) && perr.Kind == model.ErrorRateLimited {
		l.backoff()
	}
}

func (l *adaptiveLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.currentTPM * 0.5
	if next < l.minTPM {
		next = l.minTPM
	}
	if next == l.currentTPM {
		return
	}
	l.currentTPM = next
	l.limiter.SetLimit(rate.Limit(next / 60.0))
	l.limiter.SetBurst(int(next))
}

func (l *adaptiveLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.currentTPM + l.recoveryRate
	if next > l.maxTPM {
		next = l.maxTPM
	}
	if next == l.currentTPM {
		return
	}
	l.currentTPM = next
	l.limiter.SetLimit(rate.Limit(next / 60.0))
	l.limiter.SetBurst(int(next))
}

// estimateTokens computes a cheap heuristic for the transcript size: it
// counts characters in text and string tool-result parts, converts to
// tokens at a fixed ratio, and adds a buffer for system-prompt overhead.
func estimateTokens(req *model.Request) int {
	charCount := 0
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				charCount += len(v.Text)
			case model.ToolResultPart:
				if s, ok := v.Content.(string); ok {
					charCount += len(s)
				}
			}
		}
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
