package reindex

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hpungsan/notesync/internal/checkpoint"
	"github.com/hpungsan/notesync/internal/cursor"
	"github.com/hpungsan/notesync/internal/db"
	"github.com/hpungsan/notesync/internal/errors"
	"github.com/hpungsan/notesync/internal/lock"
	"github.com/hpungsan/notesync/internal/metrics"
	"github.com/hpungsan/notesync/internal/note"
	"github.com/hpungsan/notesync/internal/progress"
	"github.com/hpungsan/notesync/internal/sink"
)

// DefaultRefreshInterval is how often the total estimate is recomputed.
const DefaultRefreshInterval = time.Hour

// State is a driving loop state.
type State string

const (
	StateInit      State = "INIT"
	StateCounting  State = "COUNTING"
	StateIterating State = "ITERATING"
	StateDone      State = "DONE"
	StateDoneEmpty State = "DONE_EMPTY"
	StateCancelled State = "CANCELLED"
	StateFailed    State = "FAILED"
)

// Extractor reads matching notes from the source. *db.Source implements it.
type Extractor interface {
	CountMatching(ctx context.Context, f db.Filter) (int64, error)
	FetchBatch(ctx context.Context, f db.Filter, after string, limit int) ([]note.Note, error)
}

// Compile-time interface compliance check.
var _ Extractor = (*db.Source)(nil)

// Options configures a single sync run.
type Options struct {
	Filter db.Filter

	// RefreshInterval bounds how stale the total estimate may get (0 = 1h)
	RefreshInterval time.Duration

	// Checkpoint persists the cursor after each batch (nil = in memory only)
	Checkpoint checkpoint.Store

	// Resume starts after the saved checkpoint instead of the scheme minimum
	Resume bool

	// Lock guards the index against concurrent runs (nil = no lock)
	Lock lock.Locker

	Metrics *metrics.Metrics

	// OnBatch is called after each published batch
	OnBatch func(Event)

	// Now overrides the clock used for durations and refresh scheduling
	Now func() time.Time
}

// Event describes one published batch.
type Event struct {
	Batch    int               `json:"batch"`
	Size     int               `json:"size"`
	Cursor   string            `json:"cursor"`
	Task     *sink.Task        `json:"task,omitempty"`
	Progress progress.Snapshot `json:"progress"`
}

// Result summarizes a run. Cursor is the id of the last published note and is
// where a later run resumes.
type Result struct {
	State     State         `json:"state"`
	Processed int64         `json:"processed"`
	Batches   int           `json:"batches"`
	Cursor    string        `json:"cursor"`
	Total     int64         `json:"total"`
	Resumed   bool          `json:"resumed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Syncer drives notes from an Extractor into a Publisher.
type Syncer struct {
	log    logrus.FieldLogger
	source Extractor
	sink   sink.Publisher
}

// New creates a Syncer.
func New(log logrus.FieldLogger, source Extractor, publisher sink.Publisher) *Syncer {
	return &Syncer{
		log:    log.WithField("component", "reindex"),
		source: source,
		sink:   publisher,
	}
}

// run holds the mutable state of one Run call.
type run struct {
	*Syncer
	opts        Options
	now         func() time.Time
	limit       int
	cursor      string
	tracker     *progress.Tracker
	lastRefresh time.Time
	started     time.Time
	resumed     bool
	state       State
}

// Run pages through every matching note in id order and publishes each page.
//
// Cancellation is checked before each batch. A cancelled run returns its
// Result (state CANCELLED, last committed cursor) together with ctx.Err().
func (s *Syncer) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.Checkpoint == nil {
		opts.Checkpoint = checkpoint.Nop{}
	}
	if opts.Filter.Scheme == "" {
		opts.Filter.Scheme = cursor.DefaultScheme
	}

	r := &run{
		Syncer: s,
		opts:   opts,
		now:    opts.Now,
		limit:  opts.Filter.Limit(),
		state:  StateInit,
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.started = r.now()
	r.cursor = cursor.Min(opts.Filter.Scheme)
	r.tracker = progress.NewTracker(r.limit)

	if opts.Lock != nil {
		if err := opts.Lock.Acquire(ctx); err != nil {
			return r.failOrCancel(ctx, err)
		}
		defer r.release()
	}

	if err := r.init(ctx); err != nil {
		return r.failOrCancel(ctx, err)
	}

	return r.iterate(ctx)
}

// init restores the checkpoint, then counts.
func (r *run) init(ctx context.Context) error {
	if r.opts.Resume {
		st, err := r.opts.Checkpoint.Load(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			if st.Scheme != "" && st.Scheme != string(r.opts.Filter.Scheme) {
				return errors.NewInvalidRequest("checkpoint was written with id scheme " + st.Scheme +
					", not " + string(r.opts.Filter.Scheme))
			}
			if st.Cursor > r.cursor {
				r.cursor = st.Cursor
			}
			r.tracker.Resume(st.Fetched)
			r.resumed = true

			r.log.WithFields(logrus.Fields{
				"cursor":  r.cursor,
				"fetched": st.Fetched,
			}).Info("Resuming from checkpoint")
		}
	}

	r.state = StateCounting
	return r.refresh(ctx)
}

// refresh recomputes the total estimate.
func (r *run) refresh(ctx context.Context) error {
	start := r.now()

	total, err := r.source.CountMatching(ctx, r.opts.Filter)
	if err != nil {
		return err
	}

	r.lastRefresh = r.now()
	r.tracker.SetTotal(total)
	r.opts.Metrics.SetTotal(total)
	r.opts.Metrics.IncRefresh()

	r.log.WithFields(logrus.Fields{
		"total":    total,
		"duration": r.lastRefresh.Sub(start),
	}).Debug("Refreshed total estimate")

	return nil
}

func (r *run) iterate(ctx context.Context) (*Result, error) {
	if r.tracker.Total() == 0 {
		r.state = StateDoneEmpty
		r.log.Info("No notes match the filter")
		r.clearCheckpoint()
		return r.result(), nil
	}

	r.state = StateIterating
	r.log.WithFields(logrus.Fields{
		"total":  r.tracker.Total(),
		"cursor": r.cursor,
		"batch":  r.limit,
	}).Info("Starting sync")

	for {
		if err := ctx.Err(); err != nil {
			return r.cancel(err)
		}

		// Renew the lease before each publish; a lost lock stops the run.
		if r.opts.Lock != nil {
			if err := r.opts.Lock.Refresh(ctx); err != nil {
				return r.failOrCancel(ctx, err)
			}
		}

		if r.now().Sub(r.lastRefresh) >= r.opts.RefreshInterval {
			if err := r.refresh(ctx); err != nil {
				return r.failOrCancel(ctx, err)
			}
		}

		start := r.now()

		batch, err := r.source.FetchBatch(ctx, r.opts.Filter, r.cursor, r.limit)
		if err != nil {
			return r.failOrCancel(ctx, err)
		}
		if len(batch) == 0 {
			return r.done()
		}

		task, err := r.sink.Publish(ctx, batch)
		if err != nil {
			return r.failOrCancel(ctx, err)
		}

		r.cursor = batch[len(batch)-1].ID
		elapsed := r.now().Sub(start)
		r.tracker.Record(elapsed, len(batch))

		r.commit(ctx, len(batch), elapsed, task)

		if len(batch) < r.limit {
			return r.done()
		}
	}
}

// commit records a published batch: metrics, checkpoint, event.
// The checkpoint is written even when ctx was cancelled during the publish,
// since the batch is already in the index.
func (r *run) commit(ctx context.Context, size int, elapsed time.Duration, task *sink.Task) {
	snap := r.tracker.Snapshot()

	r.opts.Metrics.ObserveBatch(elapsed, size)
	r.opts.Metrics.SetETA(snap.Remaining)

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := r.opts.Checkpoint.Save(saveCtx, checkpoint.State{
		Cursor:    r.cursor,
		Scheme:    string(r.opts.Filter.Scheme),
		Fetched:   snap.Fetched,
		UpdatedAt: r.now().UTC(),
	})
	if err != nil {
		// The cursor is still logged; replaying a batch is an idempotent upsert.
		r.log.WithError(err).WithField("cursor", r.cursor).Warn("Failed to save checkpoint")
	}

	if r.opts.OnBatch != nil {
		r.opts.OnBatch(Event{
			Batch:    snap.Batches,
			Size:     size,
			Cursor:   r.cursor,
			Task:     task,
			Progress: snap,
		})
	}
}

func (r *run) done() (*Result, error) {
	r.state = StateDone
	r.clearCheckpoint()

	res := r.result()
	r.log.WithFields(logrus.Fields{
		"processed": res.Processed,
		"batches":   res.Batches,
		"cursor":    res.Cursor,
		"elapsed":   res.Elapsed,
	}).Info("Sync complete")

	return res, nil
}

func (r *run) clearCheckpoint() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.opts.Checkpoint.Clear(ctx); err != nil {
		r.log.WithError(err).Warn("Failed to clear checkpoint")
	}
}

func (r *run) cancel(err error) (*Result, error) {
	r.state = StateCancelled
	r.log.WithField("cursor", r.cursor).Warn("Sync cancelled")
	return r.result(), err
}

// failOrCancel attributes an I/O error to cancellation when the context is done.
func (r *run) failOrCancel(ctx context.Context, err error) (*Result, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return r.cancel(ctxErr)
	}
	return r.fail(err)
}

func (r *run) fail(err error) (*Result, error) {
	r.state = StateFailed
	r.log.WithError(err).WithField("cursor", r.cursor).Error("Sync failed")
	return r.result(), err
}

func (r *run) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.opts.Lock.Release(ctx); err != nil {
		r.log.WithError(err).Warn("Failed to release sync lock")
	}
}

func (r *run) result() *Result {
	return &Result{
		State:     r.state,
		Processed: r.tracker.Fetched(),
		Batches:   r.tracker.Batches(),
		Cursor:    r.cursor,
		Total:     r.tracker.Total(),
		Resumed:   r.resumed,
		Elapsed:   r.now().Sub(r.started),
	}
}
