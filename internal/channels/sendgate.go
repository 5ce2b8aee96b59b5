package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sandbotdev/sandbot/internal/config"
	"github.com/sandbotdev/sandbot/internal/metrics"
)

const (
	defaultGlobalInterval = 200 * time.Millisecond
	defaultGroupInterval  = 5 * time.Second
	defaultSendRetries    = 3

	// Extra sleep on top of the platform-suggested retry interval.
	retryAfterBuffer = 500 * time.Millisecond
)

// ThrottleError signals a platform "too many requests" response. Chat
// adapters convert their API errors to this so the gate can honor the
// suggested wait.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled, retry after %s", e.RetryAfter)
}

// SendGate serializes all outbound sends behind one mutex so replies
// appear in a total order, paces them to the platform ceiling and
// retries throttled sends. Non-throttle errors are logged and
// swallowed; callers tolerate silent drops.
type SendGate struct {
	mu            sync.Mutex
	limiter       *rate.Limiter
	groupLast     map[int64]time.Time
	groupInterval time.Duration
	retries       int
	logger        *slog.Logger
}

func NewSendGate(cfg config.LimitsConfig) *SendGate {
	global := time.Duration(cfg.GlobalSendIntervalMS) * time.Millisecond
	if global <= 0 {
		global = defaultGlobalInterval
	}
	group := time.Duration(cfg.GroupSendIntervalSec) * time.Second
	if group <= 0 {
		group = defaultGroupInterval
	}
	retries := cfg.SendRetries
	if retries <= 0 {
		retries = defaultSendRetries
	}
	return &SendGate{
		limiter:       rate.NewLimiter(rate.Every(global), 1),
		groupLast:     make(map[int64]time.Time),
		groupInterval: group,
		retries:       retries,
		logger:        slog.With("component", "sendgate"),
	}
}

// Do runs one outbound send under the gate. The mutex is held across
// the whole call including retries; that is what makes the outbound
// order total.
func (g *SendGate) Do(ctx context.Context, chatID int64, isGroup bool, send func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if isGroup {
		if err := g.waitGroup(ctx, chatID); err != nil {
			return err
		}
	}

	for attempt := 0; attempt <= g.retries; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		err := send()
		if err == nil {
			if isGroup {
				g.groupLast[chatID] = time.Now()
			}
			return nil
		}

		var throttle *ThrottleError
		if errors.As(err, &throttle) && attempt < g.retries {
			metrics.SendRetries.Inc()
			g.logger.Warn("send throttled",
				"chat_id", chatID, "attempt", attempt+1, "retry_after", throttle.RetryAfter)
			select {
			case <-time.After(throttle.RetryAfter + retryAfterBuffer):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		g.logger.Error("send failed", "chat_id", chatID, "error", err)
		return nil
	}
	return nil
}

func (g *SendGate) waitGroup(ctx context.Context, chatID int64) error {
	last, ok := g.groupLast[chatID]
	if !ok {
		return nil
	}
	wait := g.groupInterval - time.Since(last)
	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
