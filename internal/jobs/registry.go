// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// ErrBusy is returned when a session already has a running job.
var ErrBusy = errors.New("session already has a generation running")

// DefaultRetention keeps finished jobs around for late resubscribers.
const DefaultRetention = 10 * time.Minute

// RunFunc generates text, calling emit for every piece. It must return
// when ctx is done.
type RunFunc func(ctx context.Context, emit func(text string)) error

// FinishFunc is called once when a job reaches a terminal status.
type FinishFunc func(j *Job)

// =============================================================================
// REGISTRY
// =============================================================================

// Registry runs generation jobs and keeps them addressable by message id.
// At most one job runs per session.
type Registry struct {
	byMessage *xsync.MapOf[string, *Job]
	running   *xsync.MapOf[string, *Job]
	retention time.Duration
	onFinish  FinishFunc
	logger    zerolog.Logger

	wg    conc.WaitGroup
	sched gocron.Scheduler
}

// NewRegistry creates an empty registry. onFinish may be nil.
func NewRegistry(retention time.Duration, onFinish FinishFunc, logger zerolog.Logger) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Registry{
		byMessage: xsync.NewMapOf[string, *Job](),
		running:   xsync.NewMapOf[string, *Job](),
		retention: retention,
		onFinish:  onFinish,
		logger:    logger,
	}
}

// Start launches run as the job for messageID. parent bounds the job, not
// the request that started it; pass a server-lifetime context.
func (r *Registry) Start(parent context.Context, sessionID, messageID string, run RunFunc) (*Job, error) {
	ctx, cancel := context.WithCancelCause(parent)
	job := newJob(sessionID, messageID, cancel)

	if actual, loaded := r.running.LoadOrStore(sessionID, job); loaded {
		cancel(nil)
		return nil, fmt.Errorf("%w: message %s", ErrBusy, actual.MessageID)
	}
	r.byMessage.Store(messageID, job)

	r.logger.Info().Str("session_id", sessionID).Str("message_id", messageID).Msg("JOB_STARTED")

	r.wg.Go(func() {
		defer cancel(nil)
		err := run(ctx, func(text string) {
			if text != "" {
				job.Append(text)
			}
		})

		switch {
		case errors.Is(context.Cause(ctx), ErrCanceled):
		case err != nil:
			job.finish(StatusFailed, err)
		default:
			job.finish(StatusComplete, nil)
		}
		r.release(job)
	})
	return job, nil
}

// release clears the session slot and reports the outcome.
func (r *Registry) release(job *Job) {
	r.running.Compute(job.SessionID, func(old *Job, loaded bool) (*Job, bool) {
		return old, loaded && old == job
	})

	event := r.logger.Info()
	if job.Status() == StatusFailed {
		event = r.logger.Warn().Str("error", job.Err())
	}
	event.Str("message_id", job.MessageID).
		Str("status", job.Status().String()).
		Dur("duration", job.Duration()).
		Msg("JOB_FINISHED")

	if r.onFinish != nil {
		r.onFinish(job)
	}
}

// Get returns the job for messageID, running or recently finished.
func (r *Registry) Get(messageID string) (*Job, bool) {
	return r.byMessage.Load(messageID)
}

// Running returns the running job of a session, if any.
func (r *Registry) Running(sessionID string) (*Job, bool) {
	j, ok := r.running.Load(sessionID)
	if !ok || j.Status().Terminal() {
		return nil, false
	}
	return j, true
}

// Active lists the running jobs of a session, newest first.
func (r *Registry) Active(sessionID string) []Info {
	var out []Info
	r.byMessage.Range(func(_ string, j *Job) bool {
		if j.SessionID == sessionID && !j.Status().Terminal() {
			out = append(out, j.Info())
		}
		return true
	})
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.After(out[b].StartedAt) })
	return out
}

// Cancel stops the job for messageID. It reports whether a running job was
// stopped.
func (r *Registry) Cancel(messageID string) bool {
	j, ok := r.byMessage.Load(messageID)
	if !ok {
		return false
	}
	if !j.Cancel() {
		return false
	}
	r.logger.Info().Str("message_id", messageID).Msg("JOB_CANCEL_REQUESTED")
	return true
}

// Len returns the number of jobs held.
func (r *Registry) Len() int {
	return r.byMessage.Size()
}

// =============================================================================
// PRUNING
// =============================================================================

// Prune forgets jobs that finished more than the retention period before
// now. It returns the number removed.
func (r *Registry) Prune(now time.Time) int {
	cutoff := now.Add(-r.retention)
	removed := 0
	r.byMessage.Range(func(id string, j *Job) bool {
		if j.finishedBefore(cutoff) {
			r.byMessage.Delete(id)
			removed++
		}
		return true
	})
	if removed > 0 {
		r.logger.Debug().Int("removed", removed).Msg("JOBS_PRUNED")
	}
	return removed
}

// StartPruner prunes on a fixed interval until Close.
func (r *Registry) StartPruner(interval time.Duration) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { r.Prune(time.Now()) }),
		gocron.WithName("prune-finished-jobs"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}
	s.Start()
	r.sched = s
	return nil
}

// Close cancels running jobs, waits for them, and stops the pruner.
func (r *Registry) Close() error {
	r.running.Range(func(_ string, j *Job) bool {
		j.Cancel()
		return true
	})
	r.wg.Wait()
	if r.sched != nil {
		return r.sched.Shutdown()
	}
	return nil
}
