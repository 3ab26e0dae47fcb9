package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/epireve/uk-gateway/internal/redact"
	"github.com/epireve/uk-gateway/pkg/client"
	"github.com/epireve/uk-gateway/pkg/store"
)

// KindStore is the ledger kind for records whose enrichment could not be
// written back.
const KindStore = "store"

// errHalted is returned instead of issuing a call while a forbidden halt is
// active. The record is deferred to the retry queue without counting an
// attempt.
var errHalted = errors.New("remote calls halted after forbidden response")

// persistError wraps a failed PersistEnriched.
type persistError struct {
	err error
}

func (e *persistError) Error() string { return "persist enriched fields: " + e.err.Error() }
func (e *persistError) Unwrap() error { return e.err }

type disposition int

const (
	dispNone disposition = iota
	dispEnriched
	dispRetry
	dispFailed
	dispAborted
)

// outcome is what one worker made of one record.
type outcome struct {
	record store.Record
	calls  int
	err    error
	disp   disposition
}

// processBatch enriches the batch with a bounded worker pool, then drains
// the retry queue it produced. Ledger writes for the batch are complete when
// it returns.
func (r *run) processBatch(ctx context.Context, batch []store.Record) (BatchStats, error) {
	started := time.Now()
	defer func() {
		batchDuration.Observe(time.Since(started).Seconds())
	}()

	outcomes := make([]outcome, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)
	for i, rec := range batch {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			calls, err := r.enrich(gctx, rec)
			oc := &outcomes[i]
			oc.record, oc.calls, oc.err = rec, calls, err
			oc.disp = r.classify(gctx, err)

			switch oc.disp {
			case dispEnriched:
				recordsTotal.WithLabelValues("enriched").Inc()
				r.logger.Debug().Int64("record_id", rec.ID).Int("api_calls", calls).Msg("Record enriched")
			case dispRetry:
				r.logger.Warn().
					Int64("record_id", rec.ID).
					Str("error_kind", string(retryKind(err))).
					Msg("Record queued for retry")
			case dispFailed:
				return r.recordFailure(gctx, rec, err, 1)
			case dispAborted:
				return gctx.Err()
			}
			return nil
		})
	}
	waitErr := g.Wait()

	var bs BatchStats
	var queue []RetryItem
	for _, oc := range outcomes {
		bs.APICalls += oc.calls
		switch oc.disp {
		case dispEnriched:
			bs.Total++
			bs.Successful++
		case dispFailed:
			bs.Total++
			bs.Failed++
		case dispRetry:
			bs.Total++
			item := RetryItem{Record: oc.record, Attempts: 1, LastKind: retryKind(oc.err)}
			if errors.Is(oc.err, errHalted) {
				item.Attempts = 0
			}
			queue = append(queue, item)
		}
	}

	if waitErr == nil {
		waitErr = ctx.Err()
	}
	if waitErr != nil {
		bs.Failed += r.flush(ctx, queue, waitErr)
		return bs, waitErr
	}

	if len(queue) > 0 {
		if err := r.drain(ctx, queue, &bs); err != nil {
			return bs, err
		}
	}
	return bs, nil
}

// enrich makes one attempt at a record: search, profile, persist. It
// returns the number of remote calls issued.
func (r *run) enrich(ctx context.Context, rec store.Record) (int, error) {
	calls := 0

	var cand *client.Candidate
	called, err := r.remote(ctx, func(ctx context.Context) (bool, error) {
		c, err := r.lookup.Search(ctx, rec.Name)
		if err != nil {
			return false, err
		}
		cand = c
		return c.Cached, nil
	})
	if called {
		calls++
	}
	if err != nil {
		return calls, err
	}

	var prof *client.Profile
	called, err = r.remote(ctx, func(ctx context.Context) (bool, error) {
		p, err := r.lookup.Profile(ctx, cand.CompanyNumber)
		if err != nil {
			return false, err
		}
		prof = p
		return p.Cached, nil
	})
	if called {
		calls++
	}
	if err != nil {
		return calls, err
	}

	if err := r.store.PersistEnriched(ctx, rec.ID, enrichedFields(cand, prof, r.now())); err != nil {
		return calls, &persistError{err: err}
	}
	return calls, nil
}

// remote wraps one lookup call with the forbidden halt, the exhaustion gate,
// the global limiter and the inter-call delay. called is false when nothing
// went over the network.
func (r *run) remote(ctx context.Context, fn func(context.Context) (bool, error)) (called bool, err error) {
	if r.halted.Load() {
		return false, errHalted
	}
	if err := r.awaitCapacity(ctx); err != nil {
		return false, err
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}
	if r.halted.Load() {
		return false, errHalted
	}

	cached, err := fn(ctx)
	if client.KindOf(err) == client.KindForbidden && !r.halted.Swap(true) {
		r.logger.Error().Msg("Forbidden response, halting remote calls until cooldown")
	}
	if err == nil && cached {
		return false, nil
	}

	if serr := r.sleep(ctx, r.config.InterCallDelay); serr != nil && err == nil {
		err = serr
	}
	return true, err
}

// awaitCapacity blocks while every credential is over its threshold. One
// caller sleeps until the earliest window rolls over and resets the pool;
// the others wait for it and then find capacity.
func (r *run) awaitCapacity(ctx context.Context) error {
	if !r.pool.AllExhausted() {
		return nil
	}

	r.gate.Lock()
	defer r.gate.Unlock()
	if !r.pool.AllExhausted() {
		return nil
	}
	return r.cooldown(ctx, reasonExhausted, r.pool.NextAvailableIn()+r.config.ExhaustionMargin)
}

// classify decides what happens to a record after an attempt.
func (r *run) classify(ctx context.Context, err error) disposition {
	switch {
	case err == nil:
		return dispEnriched
	case errors.Is(err, errHalted):
		return dispRetry
	case ctx.Err() != nil:
		return dispAborted
	}

	var pe *persistError
	if errors.As(err, &pe) {
		return dispFailed
	}
	if client.KindOf(err).Retryable() {
		return dispRetry
	}
	return dispFailed
}

// recordFailure writes a permanent failure to the ledger. A ledger write
// error is fatal to the run.
func (r *run) recordFailure(ctx context.Context, rec store.Record, cause error, attempts int) error {
	kind := failureKind(cause)
	f := store.Failure{
		RecordID:     rec.ID,
		Name:         rec.Name,
		ErrorKind:    kind,
		ErrorMessage: redact.Truncate(redact.Secrets(cause.Error()), 500),
		HTTPStatus:   statusOf(cause),
		RetryCount:   attempts,
		JobID:        r.reporter.JobID(),
		CreatedAt:    r.now().UTC(),
	}
	if err := r.store.RecordFailure(ctx, f); err != nil {
		return fmt.Errorf("write failure ledger for record %d: %w", rec.ID, err)
	}
	recordsTotal.WithLabelValues("failed").Inc()

	event := r.logger.Error()
	if kind == string(client.KindNotFound) {
		event = r.logger.Warn()
	}
	event.
		Int64("record_id", rec.ID).
		Str("error_kind", kind).
		Int("attempts", attempts).
		Msg("Record failed")
	return nil
}

// retryKind is the kind recorded on a retry item.
func retryKind(err error) client.ErrorKind {
	if errors.Is(err, errHalted) {
		return client.KindForbidden
	}
	return client.KindOf(err)
}

func failureKind(err error) string {
	var pe *persistError
	if errors.As(err, &pe) {
		return KindStore
	}
	return string(client.KindOf(err))
}

func statusOf(err error) int {
	var le *client.LookupError
	if errors.As(err, &le) {
		return le.StatusCode
	}
	return 0
}
