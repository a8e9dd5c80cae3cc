// Package usecase wires the pool, the vendor client and the aggregator into
// the request-level operations the HTTP layer calls.
package usecase

import (
	"fmt"
	"log/slog"

	"github.com/nanlv11/business-gemini-pool/internal/adapter/observability"
	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

// AccountSource is the slice of the pool the dispatcher needs.
type AccountSource interface {
	AcquireNext() (int, domain.Account, error)
	EnsureReady(ctx domain.Context, index int, account domain.Account) (session, token, teamID string, err error)
	Counts() (total, available int)
}

// Backend performs the streaming chat call.
type Backend interface {
	StreamAssist(ctx domain.Context, token, session, teamID string, query domain.ChatQuery) ([]byte, error)
}

// Aggregator folds a drained stream into a result.
type Aggregator interface {
	Aggregate(ctx domain.Context, token, teamID string, raw []byte) domain.ChatResult
}

// Dispatcher tries accounts in rotation order until one serves the request
// or every account has been attempted. No backoff between attempts: each
// failure either demoted an unhealthy account or was a one-off transient
// error worth retrying on a different account immediately.
type Dispatcher struct {
	pool    AccountSource
	backend Backend
	agg     Aggregator
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool AccountSource, backend Backend, agg Aggregator) *Dispatcher {
	return &Dispatcher{pool: pool, backend: backend, agg: agg}
}

// Dispatch runs the chat query with account failover. Attempts are bounded
// by the total account count, not time.
func (d *Dispatcher) Dispatch(ctx domain.Context, query domain.ChatQuery) (domain.ChatResult, error) {
	total, _ := d.pool.Counts()
	if total == 0 {
		return domain.ChatResult{}, domain.ErrNoAccounts
	}

	var lastErr error
	for attempt := 0; attempt < total; attempt++ {
		index, account, err := d.pool.AcquireNext()
		if err != nil {
			// Pool exhausted mid-rotation: nothing left to try.
			if lastErr != nil {
				return domain.ChatResult{}, fmt.Errorf("%w: %v", domain.ErrAllAccountsFailed, lastErr)
			}
			return domain.ChatResult{}, err
		}
		slog.Debug("dispatching on account", slog.Int("account", index), slog.String("csesidx", account.CsesIdx), slog.Int("attempt", attempt))

		session, token, teamID, err := d.pool.EnsureReady(ctx, index, account)
		if err != nil {
			lastErr = err
			observability.DispatchAttemptsTotal.WithLabelValues("not_ready").Inc()
			slog.Warn("account not ready, rotating", slog.Int("account", index), slog.Any("error", err))
			continue
		}

		raw, err := d.backend.StreamAssist(ctx, token, session, teamID, query)
		if err != nil {
			lastErr = err
			observability.DispatchAttemptsTotal.WithLabelValues("stream_failed").Inc()
			slog.Warn("stream failed, rotating", slog.Int("account", index), slog.Any("error", err))
			continue
		}

		observability.DispatchAttemptsTotal.WithLabelValues("ok").Inc()
		return d.agg.Aggregate(ctx, token, teamID, raw), nil
	}

	return domain.ChatResult{}, fmt.Errorf("%w: %v", domain.ErrAllAccountsFailed, lastErr)
}
