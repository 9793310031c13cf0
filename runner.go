package bookstore

import (
	"context"
	"os"
	"time"

	"github.com/asaidimu/bookstore-queries/core/docstore"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrorPolicy decides whether the batch continues after a failed operation.
type ErrorPolicy func(*OperationError) bool

// AbortOnError stops at the first failure.
func AbortOnError(*OperationError) bool { return false }

// ContinueOnError runs every operation regardless of failures.
func ContinueOnError(*OperationError) bool { return true }

// ContinueUnlessDisconnected keeps going past rejected or failed requests but
// stops once the store is unreachable, since every later operation would
// fail the same way.
func ContinueUnlessDisconnected(e *OperationError) bool {
	return e.Failure != FailureConnection
}

// OperationOutcome records what happened to one operation.
type OperationOutcome struct {
	Index    int
	Name     string
	Kind     Kind
	Duration time.Duration
	Result   Result
	Err      error
	Skipped  bool
}

// Summary is the per-operation record of a run, in execution order.
type Summary struct {
	Outcomes []OperationOutcome
}

// Outcome returns the outcome of the named operation.
func (s *Summary) Outcome(name string) (OperationOutcome, bool) {
	for _, o := range s.Outcomes {
		if o.Name == name {
			return o, true
		}
	}
	return OperationOutcome{}, false
}

// Counts returns how many operations succeeded, failed and were skipped.
func (s *Summary) Counts() (succeeded, failed, skipped int) {
	for _, o := range s.Outcomes {
		switch {
		case o.Skipped:
			skipped++
		case o.Err != nil:
			failed++
		default:
			succeeded++
		}
	}
	return succeeded, failed, skipped
}

// Runner executes an ordered batch of operations against one collection,
// holding a single store connection for the duration of the run.
type Runner struct {
	cfg      *Config
	connect  docstore.Connector
	ops      []Operation
	reporter Reporter
	policy   ErrorPolicy
}

// Option configures a Runner.
type Option func(*Runner)

// WithReporter sets where results are rendered. The default prints to stdout.
func WithReporter(r Reporter) Option {
	return func(rn *Runner) { rn.reporter = r }
}

// WithErrorPolicy overrides the policy derived from Config.ContinueOnError.
func WithErrorPolicy(p ErrorPolicy) Option {
	return func(rn *Runner) { rn.policy = p }
}

// WithOperations replaces the default batch.
func WithOperations(ops ...Operation) Option {
	return func(rn *Runner) { rn.ops = ops }
}

// NewRunner creates a Runner. A nil cfg means DefaultConfig.
func NewRunner(cfg *Config, connect docstore.Connector, opts ...Option) *Runner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	r := &Runner{
		cfg:     cfg,
		connect: connect,
		policy:  AbortOnError,
	}
	if cfg.ContinueOnError {
		r.policy = ContinueOnError
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ops == nil {
		r.ops = DefaultOperations(cfg.Queries)
	}
	if r.reporter == nil {
		r.reporter = NewTextReporter(os.Stdout)
	}
	return r
}

// Run connects, executes the batch and closes the connection exactly once on
// every path that opened it. Under the default policy the first failure stops
// the batch and is returned as an *OperationError; when the policy continues,
// all failures are combined. The summary is returned even on error.
func (r *Runner) Run(ctx context.Context) (summary *Summary, err error) {
	summary = &Summary{}
	if err := r.cfg.Validate(); err != nil {
		return summary, err
	}

	store, err := r.open(ctx)
	if err != nil {
		r.skip(summary, 0)
		return summary, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ConnectTimeout)
		defer cancel()
		if cerr := store.Close(closeCtx); cerr != nil {
			log.Warn("close document store failed", zap.Error(cerr))
			err = multierr.Append(err, WrapError(ErrCloseStore, cerr))
		}
		r.reporter.Closed()
		log.Info("document store connection closed", zap.String("database", r.cfg.Database))
	}()

	coll := store.Collection(r.cfg.Collection)
	for i, op := range r.ops {
		if cerr := ctx.Err(); cerr != nil {
			r.skip(summary, i)
			log.Warn("run cancelled", zap.Int("remaining", len(r.ops)-i), zap.Error(cerr))
			return summary, multierr.Append(err, errors.Trace(cerr))
		}

		outcome := r.runOperation(ctx, i+1, op, coll)
		summary.Outcomes = append(summary.Outcomes, outcome)
		if outcome.Err == nil {
			if rerr := r.reporter.Result(outcome.Index, op, outcome.Result); rerr != nil {
				log.Warn("render result failed", zap.String("operation", op.Name), zap.Error(rerr))
			}
			continue
		}

		opErr := outcome.Err.(*OperationError)
		err = multierr.Append(err, opErr)
		if !r.policy(opErr) {
			r.skip(summary, i+1)
			return summary, err
		}
	}

	succeeded, failed, _ := summary.Counts()
	log.Info("query batch finished",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed))
	return summary, err
}

func (r *Runner) open(ctx context.Context) (docstore.Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()

	start := time.Now()
	store, err := r.connect(connectCtx)
	if err == nil && store == nil {
		err = errors.Annotate(docstore.ErrUnavailable, "connector returned no store")
	}
	if err != nil {
		ConnectTotal.WithLabelValues(outcomeFailure).Inc()
		log.Error("connect to document store failed",
			zap.String("backend", r.cfg.Backend),
			zap.String("uri", r.cfg.RedactedURI()),
			zap.Error(err))
		return nil, WrapError(ErrConnectStore, err, r.cfg.Database)
	}

	ConnectTotal.WithLabelValues(outcomeSuccess).Inc()
	log.Info("connected to document store",
		zap.String("backend", r.cfg.Backend),
		zap.String("database", r.cfg.Database),
		zap.String("collection", r.cfg.Collection),
		zap.Duration("elapsed", time.Since(start)))
	r.reporter.Connected(r.cfg.Database)
	return store, nil
}

func (r *Runner) runOperation(ctx context.Context, index int, op Operation, coll docstore.Collection) OperationOutcome {
	opCtx, cancel := context.WithTimeout(ctx, r.cfg.OperationTimeout)
	defer cancel()

	start := time.Now()
	res, err := op.Exec(opCtx, coll)
	elapsed := time.Since(start)
	OperationDuration.WithLabelValues(op.Name, op.Kind.String()).Observe(elapsed.Seconds())

	outcome := OperationOutcome{
		Index:    index,
		Name:     op.Name,
		Kind:     op.Kind,
		Duration: elapsed,
		Result:   res,
	}
	if err != nil {
		OperationTotal.WithLabelValues(op.Name, outcomeFailure).Inc()
		opErr := &OperationError{
			Index:   index,
			Name:    op.Name,
			OpKind:  op.Kind,
			Failure: ClassifyError(err),
			Err:     err,
		}
		log.Error("operation failed",
			zap.Int("index", index),
			zap.String("operation", op.Name),
			zap.Stringer("kind", op.Kind),
			zap.Stringer("failure", opErr.Failure),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		outcome.Result = Result{}
		outcome.Err = opErr
		return outcome
	}

	OperationTotal.WithLabelValues(op.Name, outcomeSuccess).Inc()
	log.Info("operation finished",
		zap.Int("index", index),
		zap.String("operation", op.Name),
		zap.Stringer("kind", op.Kind),
		zap.Int("documents", len(res.Documents)),
		zap.Duration("elapsed", elapsed))
	return outcome
}

// skip marks operations from index from onward as not run.
func (r *Runner) skip(summary *Summary, from int) {
	for i := from; i < len(r.ops); i++ {
		op := r.ops[i]
		OperationTotal.WithLabelValues(op.Name, outcomeSkipped).Inc()
		summary.Outcomes = append(summary.Outcomes, OperationOutcome{
			Index:   i + 1,
			Name:    op.Name,
			Kind:    op.Kind,
			Skipped: true,
		})
	}
}
