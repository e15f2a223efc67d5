package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/KendoTarakate/skin/types"
)

// FanoutResult aggregates the outcome of one broadcast.
type FanoutResult struct {
	// Recipients is the number of participants addressed.
	Recipients int
	// Succeeded is the number of recipients that received every message.
	Succeeded int64
	// Failed is the number of recipients whose delivery failed.
	Failed int64
	// Errors holds one SendError per failed recipient.
	Errors []*SendError
}

// Err joins the per-recipient errors, or returns nil when all succeeded.
func (r *FanoutResult) Err() error {
	if r == nil || len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// fanout sends msgs, in order, to every recipient. Recipients are served
// concurrently up to parallel at a time; a slow or failing recipient does
// not delay or abort the others.
func fanout(ctx context.Context, recipients []Sender, msgs []types.Message, parallel int, timeout time.Duration) *FanoutResult {
	result := &FanoutResult{Recipients: len(recipients)}
	if len(recipients) == 0 {
		return result
	}
	if parallel < 1 {
		parallel = 1
	}

	var (
		succeeded atomic.Int64
		failed    atomic.Int64
		errMu     sync.Mutex
		wg        sync.WaitGroup
	)
	sem := make(chan struct{}, parallel)

	for _, r := range recipients {
		sem <- struct{}{}
		wg.Add(1)
		go func(r Sender) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := deliver(ctx, r, msgs, timeout); err != nil {
				failed.Add(1)
				errMu.Lock()
				result.Errors = append(result.Errors, &SendError{Recipient: r.ID(), Err: err})
				errMu.Unlock()
				return
			}
			succeeded.Add(1)
		}(r)
	}
	wg.Wait()

	result.Succeeded = succeeded.Load()
	result.Failed = failed.Load()
	return result
}

// deliver writes msgs to one recipient, stopping at the first error.
func deliver(ctx context.Context, r Sender, msgs []types.Message, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for _, m := range msgs {
		if err := r.Send(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// others filters out the participant with id exclude.
func others(all []Sender, exclude uuid.UUID) []Sender {
	out := make([]Sender, 0, len(all))
	for _, s := range all {
		if s.ID() != exclude {
			out = append(out, s)
		}
	}
	return out
}
