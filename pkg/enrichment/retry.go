package enrichment

import (
	"context"
	"fmt"
	"time"

	"github.com/epireve/uk-gateway/internal/redact"
	"github.com/epireve/uk-gateway/pkg/client"
	"github.com/epireve/uk-gateway/pkg/progress"
	"github.com/epireve/uk-gateway/pkg/store"
)

const (
	reasonExhausted = "exhausted"
	reasonForbidden = "forbidden"
)

// RetryItem is a record waiting in the retry queue.
type RetryItem struct {
	Record store.Record

	// Attempts is the number of remote attempts made so far. Records deferred
	// by a forbidden halt enter the queue with no attempt counted.
	Attempts int

	LastKind client.ErrorKind
}

// drain replays the retry queue one item at a time, in queue order. Each
// item is retried until it is enriched, fails permanently or runs out of
// attempts; it is never put back at the tail.
func (r *run) drain(ctx context.Context, queue []RetryItem, bs *BatchStats) error {
	retryQueueLength.Set(float64(len(queue)))
	defer retryQueueLength.Set(0)

	r.logger.Info().Int("queued", len(queue)).Msg("Draining retry queue")

	if err := r.cooldownIfNeeded(ctx); err != nil {
		bs.Failed += r.flush(ctx, queue, err)
		return err
	}

	for i := 0; i < len(queue); i++ {
		if r.config.RetryPauseEvery > 0 && i > 0 && i%r.config.RetryPauseEvery == 0 {
			if err := r.sleep(ctx, r.config.RetryPause); err != nil {
				bs.Failed += r.flush(ctx, queue[i:], err)
				return err
			}
		}
		if err := r.sleep(ctx, r.retryDelay(i)); err != nil {
			bs.Failed += r.flush(ctx, queue[i:], err)
			return err
		}

		r.stats.Retried++
		recordsTotal.WithLabelValues("retried").Inc()

		settled, err := r.retry(ctx, &queue[i], bs)
		if err != nil {
			rest := queue[i:]
			if settled {
				rest = queue[i+1:]
			}
			bs.Failed += r.flush(ctx, rest, err)
			return err
		}
		retryQueueLength.Set(float64(len(queue) - i - 1))
	}
	return nil
}

// retry replays one item until it settles. settled reports whether the item
// reached a final state, even when err is set.
func (r *run) retry(ctx context.Context, item *RetryItem, bs *BatchStats) (settled bool, err error) {
	for {
		calls, lerr := r.enrich(ctx, item.Record)
		bs.APICalls += calls

		switch r.classify(ctx, lerr) {
		case dispEnriched:
			bs.Successful++
			recordsTotal.WithLabelValues("enriched").Inc()
			r.logger.Info().
				Int64("record_id", item.Record.ID).
				Int("attempts", item.Attempts+1).
				Msg("Record enriched on retry")
			return true, nil
		case dispAborted:
			return false, ctx.Err()
		case dispFailed:
			bs.Failed++
			return true, r.recordFailure(ctx, item.Record, lerr, item.Attempts+1)
		}

		if calls > 0 {
			item.Attempts++
		}
		item.LastKind = retryKind(lerr)

		if item.Attempts >= r.config.MaxAttempts {
			bs.Failed++
			r.reporter.Log(ctx, progress.LevelError,
				fmt.Sprintf("Gave up on company %d after %d attempts (%s)", item.Record.ID, item.Attempts, item.LastKind))
			return true, r.recordFailure(ctx, item.Record, lerr, item.Attempts)
		}

		r.logger.Warn().
			Int64("record_id", item.Record.ID).
			Int("attempts", item.Attempts).
			Str("error_kind", string(item.LastKind)).
			Msg("Retry failed, waiting before the next attempt")

		if r.halted.Load() || r.pool.AnyForbidden() || r.pool.AllExhausted() {
			err = r.cooldownIfNeeded(ctx)
		} else {
			err = r.sleep(ctx, r.backoff(item.Attempts))
		}
		if err != nil {
			return false, err
		}
	}
}

// cooldownIfNeeded pauses all remote calls when a credential is forbidden or
// the pool is exhausted, then resets the pool.
func (r *run) cooldownIfNeeded(ctx context.Context) error {
	switch {
	case r.halted.Load() || r.pool.AnyForbidden():
		if err := r.cooldown(ctx, reasonForbidden, r.forbiddenCooldown()); err != nil {
			return err
		}
		r.halted.Store(false)
	case r.pool.AllExhausted():
		return r.cooldown(ctx, reasonExhausted, r.pool.NextAvailableIn()+r.config.ExhaustionMargin)
	}
	return nil
}

func (r *run) cooldown(ctx context.Context, reason string, d time.Duration) error {
	r.cooldowns.Add(1)
	cooldownsTotal.WithLabelValues(reason).Inc()

	r.logger.Warn().Str("reason", reason).Dur("duration", d).Msg("Pausing all remote calls")
	r.reporter.Log(ctx, progress.LevelWarn,
		fmt.Sprintf("Cooling down for %s (credentials %s)", d.Round(time.Second), reason))

	if err := r.sleep(ctx, d); err != nil {
		return err
	}
	cooldownSeconds.Add(d.Seconds())
	r.pool.ResetAll()
	r.logger.Info().Str("reason", reason).Msg("Cooldown complete, resuming")
	return nil
}

// forbiddenCooldown is uniform in [ForbiddenCooldownMin, ForbiddenCooldownMax].
func (r *run) forbiddenCooldown() time.Duration {
	lo, hi := r.config.ForbiddenCooldownMin, r.config.ForbiddenCooldownMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r.jitter(int64(hi-lo)+1))
}

// retryDelay grows with the item's position in the queue.
func (r *run) retryDelay(i int) time.Duration {
	d := r.config.RetryBaseDelay + time.Duration(i)*r.config.RetryDelayStep
	return min(d, r.config.RetryMaxDelay)
}

// backoff is the wait before retrying the same item again.
func (r *run) backoff(attempts int) time.Duration {
	d := r.config.RetryBaseDelay * time.Duration(max(attempts, 1))
	return min(d, r.config.RetryMaxDelay)
}

// flush writes retry items that will not be drained to the ledger, so an
// aborted run leaves them reprocessable. The writes outlive ctx. It returns
// the number of items written.
func (r *run) flush(ctx context.Context, items []RetryItem, cause error) int {
	if len(items) == 0 {
		return 0
	}
	ctx = context.WithoutCancel(ctx)

	written := 0
	for _, it := range items {
		f := store.Failure{
			RecordID:     it.Record.ID,
			Name:         it.Record.Name,
			ErrorKind:    string(it.LastKind),
			ErrorMessage: redact.Truncate("run stopped before retry: "+redact.Secrets(cause.Error()), 500),
			RetryCount:   it.Attempts,
			JobID:        r.reporter.JobID(),
			CreatedAt:    r.now().UTC(),
		}
		if err := r.store.RecordFailure(ctx, f); err != nil {
			r.logger.Error().Err(err).Int64("record_id", it.Record.ID).Msg("Failed to flush retry item to ledger")
			continue
		}
		written++
	}
	r.logger.Warn().Int("flushed", written).Int("queued", len(items)).Msg("Flushed retry queue to ledger")
	return written
}
