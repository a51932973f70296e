// Package delivery drains the issue delivery queue.
//
// On PostgreSQL each cycle runs in one transaction: dequeue one due task
// with FOR UPDATE SKIP LOCKED, send the email while holding the row lock,
// then delete the task (delivered, skipped, abandoned) or record the failed
// attempt (retry) and commit. On SQLite the task is instead leased by moving
// its execute_after forward in a short transaction, sent with no
// transaction open, and settled in a second short transaction. A failure
// for one recipient never touches another recipient's task.
package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/email"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// Outcome is the result of one TryExecuteTask cycle.
type Outcome string

const (
	// OutcomeEmpty means no task was due.
	OutcomeEmpty Outcome = "empty"
	// OutcomeDelivered means the email was sent and the task retired.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeSkipped means a permanent failure retired the task.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeRetry means a transient failure was recorded for a later attempt.
	OutcomeRetry Outcome = "retry"
	// OutcomeAbandoned means the last allowed attempt failed and the task was retired.
	OutcomeAbandoned Outcome = "abandoned"
)

// Stats counts outcomes of a DrainOnce run.
type Stats struct {
	Delivered int
	Skipped   int
	Retried   int
	Abandoned int
}

func (s *Stats) add(o Outcome) {
	switch o {
	case OutcomeDelivered:
		s.Delivered++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeRetry:
		s.Retried++
	case OutcomeAbandoned:
		s.Abandoned++
	}
}

// Worker sends queued newsletter emails.
type Worker struct {
	db     *gorm.DB
	sender email.Sender
	cfg    Config
	log    zerolog.Logger

	// leased selects the claim-then-send cycle used on SQLite.
	leased bool

	sampleMu   sync.Mutex
	lastSample time.Time
}

// NewWorker builds a Worker over db and sender.
func NewWorker(db *gorm.DB, sender email.Sender, opts ...Option) *Worker {
	if db == nil {
		panic("delivery: nil db")
	}
	if sender == nil {
		panic("delivery: nil sender")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()
	return &Worker{
		db:     db,
		sender: sender,
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "delivery_worker").Logger(),
		leased: useLease(cfg.ClaimMode, db),
	}
}

func useLease(mode ClaimMode, db *gorm.DB) bool {
	switch mode {
	case ClaimLock:
		return false
	case ClaimLease:
		return true
	}
	return db.Config != nil && db.Dialector != nil && db.Dialector.Name() == "sqlite"
}

// Config returns the effective configuration.
func (w *Worker) Config() Config { return w.cfg }

// TryExecuteTask runs one dequeue-send-retire cycle. A non-nil error means
// the store failed; the task, if any, is left for a later cycle.
func (w *Worker) TryExecuteTask(ctx context.Context) (Outcome, error) {
	if w.leased {
		return w.tryLeased(ctx)
	}
	return w.tryLocked(ctx)
}

// tryLocked holds the task's row lock in one transaction across the send.
func (w *Worker) tryLocked(ctx context.Context) (Outcome, error) {
	// Store work outlives ctx so a shutdown after a successful send still
	// commits the task's removal.
	dbCtx := context.WithoutCancel(ctx)

	tx := w.db.WithContext(dbCtx).Begin()
	if tx.Error != nil {
		return OutcomeEmpty, tx.Error
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	task, err := repo.DequeueTask(dbCtx, tx, w.cfg.Clock())
	if errors.Is(err, repo.ErrNotFound) {
		return OutcomeEmpty, nil
	}
	if err != nil {
		return OutcomeEmpty, err
	}

	outcome, err := w.process(ctx, tx, func(fn func(*gorm.DB) error) error { return fn(tx) }, task)
	if err != nil {
		return OutcomeEmpty, err
	}
	if err := tx.Commit().Error; err != nil {
		return OutcomeEmpty, err
	}
	committed = true

	deliveries.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

// tryLeased claims the task in a short transaction, sends with no
// transaction open and retires the task in a second one. SQLite runs on a
// single connection, so holding a transaction across the send would stall
// every request behind it.
func (w *Worker) tryLeased(ctx context.Context) (Outcome, error) {
	dbCtx := context.WithoutCancel(ctx)

	var task *domain.DeliveryTask
	err := w.db.WithContext(dbCtx).Transaction(func(tx *gorm.DB) error {
		now := w.cfg.Clock()
		t, err := repo.DequeueTask(dbCtx, tx, now)
		if err != nil {
			return err
		}
		ok, err := repo.ClaimTask(dbCtx, tx, t, now, now.Add(w.cfg.LeaseDuration))
		if err != nil || !ok {
			return err
		}
		task = t
		return nil
	})
	if errors.Is(err, repo.ErrNotFound) || (err == nil && task == nil) {
		return OutcomeEmpty, nil
	}
	if err != nil {
		return OutcomeEmpty, err
	}

	write := func(fn func(*gorm.DB) error) error {
		return w.db.WithContext(dbCtx).Transaction(fn)
	}
	outcome, err := w.process(ctx, w.db, write, task)
	if err != nil {
		if rerr := repo.ReleaseTask(dbCtx, w.db, task, w.cfg.Clock()); rerr != nil {
			w.log.Warn().Err(rerr).Str("issue_id", task.NewsletterIssueID).Msg("release lease failed; task is due when the lease expires")
		}
		return OutcomeEmpty, err
	}

	deliveries.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

// process loads the issue through read, sends it and settles the task through
// write. On shutdown during a send it returns ctx's error and writes nothing:
// an interrupted send is not an attempt.
func (w *Worker) process(ctx context.Context, read *gorm.DB, write func(func(*gorm.DB) error) error, task *domain.DeliveryTask) (Outcome, error) {
	dbCtx := context.WithoutCancel(ctx)

	tr := otel.Tracer("delivery/Worker")
	ctx, span := tr.Start(ctx, "TryExecuteTask",
		trace.WithAttributes(
			attribute.String("issue.id", task.NewsletterIssueID),
			attribute.Int("delivery.n_retries", task.NRetries),
			attribute.Bool("delivery.leased", w.leased),
		),
	)
	defer span.End()

	lg := w.log.With().
		Str("issue_id", task.NewsletterIssueID).
		Str("recipient", task.SubscriberEmail).
		Int("attempt", task.NRetries+1).
		Logger()

	var outcome Outcome
	issue, err := repo.GetIssue(dbCtx, read, task.NewsletterIssueID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		lg.Warn().Msg("issue missing for queued delivery; dropping task")
		if err := write(func(tx *gorm.DB) error {
			return repo.DeleteTask(dbCtx, tx, task.NewsletterIssueID, task.SubscriberEmail)
		}); err != nil {
			return OutcomeEmpty, err
		}
		outcome = OutcomeSkipped
	case err != nil:
		return OutcomeEmpty, err
	default:
		sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
		start := time.Now()
		sendErr := w.sender.Send(sendCtx, task.SubscriberEmail, issue.Title, issue.TextContent, issue.HTMLContent)
		cancel()
		sendDuration.Observe(time.Since(start).Seconds())

		if sendErr != nil && !email.IsPermanent(sendErr) && ctx.Err() != nil {
			return OutcomeEmpty, ctx.Err()
		}

		if err := write(func(tx *gorm.DB) error {
			var err error
			outcome, err = w.settle(dbCtx, tx, lg, task.NewsletterIssueID, task.SubscriberEmail, task.NRetries, sendErr)
			return err
		}); err != nil {
			return OutcomeEmpty, err
		}
		if sendErr != nil {
			span.RecordError(sendErr)
		}
	}

	span.SetAttributes(attribute.String("delivery.outcome", string(outcome)))
	return outcome, nil
}

// settle applies the retry/skip policy for one send result inside tx.
func (w *Worker) settle(ctx context.Context, tx *gorm.DB, lg zerolog.Logger, issueID, recipient string, nRetries int, sendErr error) (Outcome, error) {
	switch {
	case sendErr == nil:
		if err := repo.DeleteTask(ctx, tx, issueID, recipient); err != nil {
			return "", err
		}
		lg.Debug().Msg("newsletter delivered")
		return OutcomeDelivered, nil

	case email.IsPermanent(sendErr):
		if err := repo.DeleteTask(ctx, tx, issueID, recipient); err != nil {
			return "", err
		}
		lg.Warn().Err(sendErr).Msg("skipping recipient after permanent delivery failure")
		return OutcomeSkipped, nil
	}

	attempts := nRetries + 1
	if attempts >= w.cfg.MaxAttempts {
		if err := repo.DeleteTask(ctx, tx, issueID, recipient); err != nil {
			return "", err
		}
		lg.Error().Err(sendErr).Int("max_attempts", w.cfg.MaxAttempts).Msg("abandoning delivery after exhausting retries")
		return OutcomeAbandoned, nil
	}

	retryAt := w.cfg.Clock().Add(w.retryDelay(attempts))
	if err := repo.RecordFailedAttempt(ctx, tx, issueID, recipient, retryAt, sendErr.Error()); err != nil {
		return "", err
	}
	lg.Warn().Err(sendErr).Time("retry_at", retryAt).Msg("delivery failed; will retry")
	return OutcomeRetry, nil
}

// retryDelay is RetryBackoff * 2^(attempts-1), capped at MaxRetryBackoff.
func (w *Worker) retryDelay(attempts int) time.Duration {
	d := w.cfg.RetryBackoff
	if d <= 0 {
		return 0
	}
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= w.cfg.MaxRetryBackoff {
			return w.cfg.MaxRetryBackoff
		}
	}
	if d > w.cfg.MaxRetryBackoff {
		d = w.cfg.MaxRetryBackoff
	}
	return d
}

// Run executes Concurrency independent polling loops until ctx is cancelled.
// Store errors are logged and retried after ErrorBackoff; they never stop
// the worker. Run returns nil on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().
		Int("concurrency", w.cfg.Concurrency).
		Dur("poll_interval", w.cfg.PollInterval).
		Int("max_attempts", w.cfg.MaxAttempts).
		Msg("delivery worker started")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error { return w.loop(gctx, id) })
	}
	err := g.Wait()

	w.log.Info().Msg("delivery worker stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (w *Worker) loop(ctx context.Context, id int) error {
	lg := w.log.With().Int("loop", id).Logger()
	for {
		if ctx.Err() != nil {
			return nil
		}
		outcome, err := w.TryExecuteTask(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			lg.Error().Err(err).Msg("delivery cycle failed")
			if !sleep(ctx, w.cfg.ErrorBackoff) {
				return nil
			}
			continue
		}
		if outcome == OutcomeEmpty {
			w.samplePending(ctx)
			if !sleep(ctx, w.cfg.PollInterval) {
				return nil
			}
		}
	}
}

// DrainOnce runs cycles until no task is due and reports what happened.
func (w *Worker) DrainOnce(ctx context.Context) (Stats, error) {
	var st Stats
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		outcome, err := w.TryExecuteTask(ctx)
		if err != nil {
			return st, err
		}
		if outcome == OutcomeEmpty {
			w.samplePending(ctx)
			return st, nil
		}
		st.add(outcome)
	}
}

// samplePending refreshes the queue-size gauge at most every PendingInterval.
func (w *Worker) samplePending(ctx context.Context) {
	w.sampleMu.Lock()
	now := time.Now()
	if !w.lastSample.IsZero() && now.Sub(w.lastSample) < w.cfg.PendingInterval {
		w.sampleMu.Unlock()
		return
	}
	w.lastSample = now
	w.sampleMu.Unlock()

	n, err := repo.CountPendingTasks(ctx, w.db)
	if err != nil {
		w.log.Debug().Err(err).Msg("pending sample failed")
		return
	}
	queuePending.Set(float64(n))
}

// sleep waits for d or ctx; it reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
