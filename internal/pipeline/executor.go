// Package pipeline drains the broker and runs each claimed job through the
// five analysis stages: transcribe, retrieve, infer, validate, decide. The
// executor is the only component that moves a job from RUNNING to a terminal
// status, and it does so exactly once per job even under redelivery.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dispatch-cli/internal/config"
	"github.com/sells-group/dispatch-cli/internal/model"
	"github.com/sells-group/dispatch-cli/internal/provider"
	"github.com/sells-group/dispatch-cli/internal/queue"
	"github.com/sells-group/dispatch-cli/internal/resilience"
	"github.com/sells-group/dispatch-cli/internal/scoring"
	"github.com/sells-group/dispatch-cli/internal/store"
)

// Executor owns the worker pool. All collaborators are injected; the executor
// never constructs providers itself.
type Executor struct {
	cfg      config.PipelineConfig
	store    store.Store
	broker   queue.Broker
	registry *provider.Registry
	calc     *scoring.Calculator
	gate     *scoring.Gate
	retry    resilience.RetryConfig

	// One breaker per provider capability. An open circuit fails the stage
	// immediately; the nack/redelivery path supplies the backoff.
	breakers map[model.Stage]*resilience.CircuitBreaker

	nowFunc func() time.Time
}

// New creates an executor. The registry must already hold the configured
// transcriber, retriever, extractor, and dispatcher variants.
func New(
	cfg config.PipelineConfig,
	st store.Store,
	broker queue.Broker,
	registry *provider.Registry,
	calc *scoring.Calculator,
	gate *scoring.Gate,
) *Executor {
	breakers := make(map[model.Stage]*resilience.CircuitBreaker, 4)
	for _, s := range []model.Stage{model.StageTranscribe, model.StageRetrieve, model.StageInfer, model.StageDispatch} {
		stage := s
		breakers[stage] = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			ShouldTrip: resilience.IsTransient,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("executor: circuit state changed",
					zap.String("stage", string(stage)),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}
	return &Executor{
		cfg:      cfg,
		store:    st,
		broker:   broker,
		registry: registry,
		calc:     calc,
		gate:     gate,
		retry:    resilience.DefaultRetryConfig(),
		breakers: breakers,
		nowFunc:  time.Now,
	}
}

// Run starts the fixed-size worker pool and blocks until ctx is cancelled.
// Workers poll the broker; an idle worker sleeps for the poll interval rather
// than spinning. In-flight jobs are abandoned at the next stage boundary on
// shutdown; their leases lapse and the broker redelivers.
func (e *Executor) Run(ctx context.Context) error {
	zap.L().Info("executor: starting worker pool", zap.Int("workers", e.cfg.Workers))

	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return e.workerLoop(gCtx, worker)
		})
	}

	err := g.Wait()
	if eris.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Executor) workerLoop(ctx context.Context, worker int) error {
	log := zap.L().With(zap.Int("worker", worker))
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delivery, err := e.broker.Dequeue(ctx)
		if err != nil {
			if eris.Is(err, queue.ErrEmpty) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(e.cfg.PollInterval()):
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("executor: dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.PollInterval()):
			}
			continue
		}

		e.process(ctx, delivery, log)
	}
}

// process handles one delivery end to end. Errors are absorbed here: a worker
// never dies because one job misbehaved.
func (e *Executor) process(ctx context.Context, d *queue.Delivery, log *zap.Logger) {
	log = log.With(zap.String("job_id", d.JobID), zap.Int("delivery", d.DeliveryNo))

	job, err := e.store.GetJob(ctx, d.JobID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			// The queue item outlived its job row. Nothing to do but drop it.
			log.Warn("executor: delivery for unknown job, discarding")
			_ = e.broker.Ack(ctx, d.Lease)
			return
		}
		log.Warn("executor: job load failed, redelivering", zap.Error(err))
		_ = e.broker.Nack(ctx, d.Lease)
		return
	}
	log = log.With(zap.String("correlation_id", job.CorrelationID))

	// Claim. The CAS on the status column is the effective-execution gate:
	// whatever the broker redelivers, only one attempt at a time owns the job.
	if err := e.claim(ctx, job, d, log); err != nil {
		return
	}

	attempt, err := e.store.IncrementAttempt(ctx, job.ID)
	if err != nil {
		log.Warn("executor: attempt increment failed", zap.Error(err))
		_ = e.broker.Nack(ctx, d.Lease)
		return
	}
	if attempt > e.cfg.MaxAttempts {
		e.deadLetter(ctx, job, d, attempt, log)
		return
	}
	log.Info("executor: claimed job", zap.Int("attempt", attempt))

	e.runStages(ctx, job, d, log)
}

// claim transitions QUEUED -> RUNNING. On conflict the job is re-claimed when
// a prior attempt left it FAILED (schema failure, requeued for another try) or
// RUNNING (crashed attempt, our fresh lease is exclusive); anything else is a
// duplicate delivery of a finished job and is acked without effect.
func (e *Executor) claim(ctx context.Context, job *model.Job, d *queue.Delivery, log *zap.Logger) error {
	err := e.store.CompareAndSetStatus(ctx, job.ID, model.JobStatusQueued, model.JobStatusRunning)
	if err == nil {
		_ = e.store.AppendAudit(ctx, &model.AuditRecord{
			CorrelationID: job.CorrelationID,
			JobID:         job.ID,
			Stage:         model.StageClaim,
			Outcome:       model.OutcomeOK,
		})
		return nil
	}
	if !eris.Is(err, store.ErrStatusConflict) {
		log.Warn("executor: claim failed", zap.Error(err))
		_ = e.broker.Nack(ctx, d.Lease)
		return err
	}

	current, loadErr := e.store.GetJob(ctx, job.ID)
	if loadErr != nil {
		_ = e.broker.Nack(ctx, d.Lease)
		return loadErr
	}
	if current.Status == model.JobStatusFailed {
		if casErr := e.store.CompareAndSetStatus(ctx, job.ID, model.JobStatusFailed, model.JobStatusRunning); casErr == nil {
			_ = e.store.AppendAudit(ctx, &model.AuditRecord{
				CorrelationID: job.CorrelationID,
				JobID:         job.ID,
				Stage:         model.StageClaim,
				Outcome:       model.OutcomeOK,
				Detail:        "re-claimed after failed attempt",
			})
			return nil
		}
	}
	if current.Status == model.JobStatusRunning && d.DeliveryNo > 1 {
		// Previous attempt crashed or its lease lapsed mid-run. Our fresh
		// lease is the only live one, so resuming is safe.
		_ = e.store.AppendAudit(ctx, &model.AuditRecord{
			CorrelationID: job.CorrelationID,
			JobID:         job.ID,
			Stage:         model.StageClaim,
			Outcome:       model.OutcomeOK,
			Detail:        "re-claimed after interrupted attempt",
		})
		return nil
	}

	// Terminal job or a concurrent owner: duplicate delivery, no effect.
	log.Info("executor: duplicate delivery, acking without effect",
		zap.String("status", string(current.Status)))
	_ = e.store.AppendAudit(ctx, &model.AuditRecord{
		CorrelationID: job.CorrelationID,
		JobID:         job.ID,
		Stage:         model.StageClaim,
		Outcome:       model.OutcomeSkipped,
		Detail:        "duplicate delivery for status " + string(current.Status),
	})
	_ = e.broker.Ack(ctx, d.Lease)
	return store.ErrStatusConflict
}

func (e *Executor) deadLetter(ctx context.Context, job *model.Job, d *queue.Delivery, attempt int, log *zap.Logger) {
	msg := fmt.Sprintf("attempt %d exceeds limit %d", attempt, e.cfg.MaxAttempts)
	if err := e.store.SetStatus(ctx, job.ID, model.JobStatusDeadLettered, msg); err != nil {
		log.Error("executor: dead-letter mark failed", zap.Error(err))
		_ = e.broker.Nack(ctx, d.Lease)
		return
	}
	_ = e.store.AppendAudit(ctx, &model.AuditRecord{
		CorrelationID: job.CorrelationID,
		JobID:         job.ID,
		Stage:         model.StageTerminal,
		Outcome:       model.OutcomeFailed,
		ErrorKind:     model.ErrKindRetriesExhausted,
		Detail:        msg,
	})
	_ = e.broker.Ack(ctx, d.Lease)
	log.Warn("executor: job dead-lettered", zap.Int("attempt", attempt))
}

// runStages drives the five stages in order. Each stage runs under its own
// timeout, commits its output to the store, and appends an audit record
// before the next stage starts. Cancellation is honored at stage boundaries
// only; a stage already in flight finishes or times out.
func (e *Executor) runStages(ctx context.Context, job *model.Job, d *queue.Delivery, log *zap.Logger) {
	state := job.State
	if state == nil {
		state = &model.OperationalState{}
	}

	transcriber, err := e.registry.Transcriber()
	if err != nil {
		e.fail(ctx, job, d, model.StageTranscribe, model.ErrKindInvariantViolation, err, log)
		return
	}
	retriever, err := e.registry.Retriever()
	if err != nil {
		e.fail(ctx, job, d, model.StageRetrieve, model.ErrKindInvariantViolation, err, log)
		return
	}
	extractor, err := e.registry.Extractor()
	if err != nil {
		e.fail(ctx, job, d, model.StageInfer, model.ErrKindInvariantViolation, err, log)
		return
	}

	// Stage 1: transcribe.
	if e.cancelled(ctx, job, d, model.StageTranscribe, log) {
		return
	}
	transcript, err := stageCall(ctx, e, model.StageTranscribe, func(sctx context.Context) (*model.Transcript, error) {
		return transcriber.Transcribe(sctx, job.AudioPath, job.LanguageHint)
	})
	if err != nil {
		e.providerFault(ctx, job, d, model.StageTranscribe, err, log)
		return
	}
	state.Transcript = transcript
	if !e.commit(ctx, job, d, state, model.StageTranscribe, log) {
		return
	}
	_ = e.broker.Extend(ctx, d.Lease)

	// Stage 2: retrieve. A miss is a valid outcome with hit score 0, not an
	// error; only transport faults fail the stage.
	if e.cancelled(ctx, job, d, model.StageRetrieve, log) {
		return
	}
	text := transcript.Text
	if transcript.Normalized != "" {
		text = transcript.Normalized
	}
	retrieval, err := stageCall(ctx, e, model.StageRetrieve, func(sctx context.Context) (*model.RetrievalContext, error) {
		return retriever.Retrieve(sctx, text)
	})
	if err != nil {
		e.providerFault(ctx, job, d, model.StageRetrieve, err, log)
		return
	}
	state.Retrieval = retrieval
	if !e.commit(ctx, job, d, state, model.StageRetrieve, log) {
		return
	}
	_ = e.broker.Extend(ctx, d.Lease)

	// Stage 3: infer.
	if e.cancelled(ctx, job, d, model.StageInfer, log) {
		return
	}
	extraction, err := stageCall(ctx, e, model.StageInfer, func(sctx context.Context) (*model.Extraction, error) {
		return extractor.Extract(sctx, text, retrieval.Context, provider.PromptStandard)
	})
	if err != nil && !eris.Is(err, provider.ErrSchemaViolation) {
		e.providerFault(ctx, job, d, model.StageInfer, err, log)
		return
	}
	inferOutcome := model.OutcomeOK
	if err != nil {
		inferOutcome = model.OutcomeFailed
	}
	state.Extraction = extraction
	_ = e.store.AppendAudit(ctx, &model.AuditRecord{
		CorrelationID: job.CorrelationID,
		JobID:         job.ID,
		Stage:         model.StageInfer,
		Outcome:       inferOutcome,
	})

	// Stage 4: validate, with exactly one strict re-prompt on schema failure.
	if e.cancelled(ctx, job, d, model.StageValidate, log) {
		return
	}
	verdict := validateExtraction(extraction, err)
	if !verdict.Passed {
		log.Info("executor: schema validation failed, re-prompting strictly",
			zap.Strings("problems", verdict.Problems))
		verdict.Reprompted = true

		extraction, err = stageCall(ctx, e, model.StageInfer, func(sctx context.Context) (*model.Extraction, error) {
			return extractor.Extract(sctx, text, retrieval.Context, provider.PromptStrict)
		})
		if err != nil && !eris.Is(err, provider.ErrSchemaViolation) {
			e.providerFault(ctx, job, d, model.StageInfer, err, log)
			return
		}
		reVerdict := validateExtraction(extraction, err)
		verdict.Passed = reVerdict.Passed
		verdict.Problems = reVerdict.Problems
		state.Extraction = extraction
	}
	state.Validation = verdict

	if !verdict.Passed {
		// Deterministic failure: the model cannot produce schema-conformant
		// output for this input. Retrying the whole job would repeat it.
		_ = e.store.SaveState(ctx, job.ID, state)
		e.fail(ctx, job, d, model.StageValidate, model.ErrKindSchemaValidationFailed,
			eris.Errorf("schema violations after strict re-prompt: %v", verdict.Problems), log)
		return
	}
	if !e.commit(ctx, job, d, state, model.StageValidate, log) {
		return
	}
	_ = e.broker.Extend(ctx, d.Lease)

	// Stage 5: score and decide.
	if e.cancelled(ctx, job, d, model.StageDecide, log) {
		return
	}
	e.decide(ctx, job, d, state, log)
}

// decide scores the state, applies the gate, persists the terminal outcome,
// and only then acknowledges the delivery. The ack is last so a crash between
// commit and ack yields a redelivery that the claim logic drops harmlessly.
func (e *Executor) decide(ctx context.Context, job *model.Job, d *queue.Delivery, state *model.OperationalState, log *zap.Logger) {
	signals := scoring.Signals{
		ASRConfidence:     state.Transcript.Confidence,
		EntityMatchScore:  state.Extraction.EntityCoverage(),
		RetrievalHitScore: state.Retrieval.HitScore,
	}
	score := e.calc.Score(signals)
	state.ConfidenceScore = &score

	verdict := e.gate.Decide(score, signals, state.Extraction, e.nowFunc())
	state.Decision = &verdict.Decision

	if err := e.store.SaveState(ctx, job.ID, state); err != nil {
		log.Warn("executor: decision state save failed", zap.Error(err))
		_ = e.broker.Nack(ctx, d.Lease)
		return
	}
	if err := e.store.CompareAndSetStatus(ctx, job.ID, model.JobStatusRunning, verdict.Status); err != nil {
		log.Error("executor: terminal transition failed", zap.Error(err))
		_ = e.broker.Nack(ctx, d.Lease)
		return
	}

	_ = e.store.AppendAudit(ctx, &model.AuditRecord{
		CorrelationID: job.CorrelationID,
		JobID:         job.ID,
		Stage:         model.StageDecide,
		Outcome:       model.OutcomeOK,
		Detail:        verdict.Decision.ReasoningTrace,
	})

	if verdict.Decision.Action != model.ActionHumanEscalation {
		e.pushDownstream(ctx, job, &verdict.Decision, state, log)
	}

	_ = e.store.AppendAudit(ctx, &model.AuditRecord{
		CorrelationID: job.CorrelationID,
		JobID:         job.ID,
		Stage:         model.StageTerminal,
		Outcome:       model.OutcomeOK,
		Detail:        string(verdict.Status),
	})
	_ = e.broker.Ack(ctx, d.Lease)

	log.Info("executor: job finished",
		zap.Float64("score", score),
		zap.String("action", string(verdict.Decision.Action)),
		zap.String("status", string(verdict.Status)),
	)
}

// pushDownstream notifies the dispatch connector. Delivery failure never
// un-completes the job: the decision is committed, the push is best-effort
// with its own retries, and the audit trail records the miss.
func (e *Executor) pushDownstream(ctx context.Context, job *model.Job, decision *model.Decision, state *model.OperationalState, log *zap.Logger) {
	dispatcher, err := e.registry.Dispatcher()
	if err != nil {
		log.Warn("executor: no dispatcher registered", zap.Error(err))
		return
	}

	cfg := e.retry
	cfg.OnRetry = resilience.RetryLogger("dispatch", "push")
	err = resilience.Do(ctx, cfg, func(rctx context.Context) error {
		return e.breakers[model.StageDispatch].Execute(rctx, func(cctx context.Context) error {
			return dispatcher.Push(cctx, decision, state, job.CorrelationID)
		})
	})

	outcome := model.OutcomeOK
	var kind model.ErrorKind
	detail := "pushed to " + decision.Target
	if err != nil {
		outcome = model.OutcomeFailed
		kind = model.ErrKindProviderError
		detail = err.Error()
		log.Warn("executor: downstream push failed", zap.Error(err))
	}
	_ = e.store.AppendAudit(ctx, &model.AuditRecord{
		CorrelationID: job.CorrelationID,
		JobID:         job.ID,
		Stage:         model.StageDispatch,
		Outcome:       outcome,
		ErrorKind:     kind,
		Detail:        detail,
	})
}

// Resolve applies a human reviewer's decision to a job parked in
// AWAITING_HUMAN. The CAS guarantees a single effective resolution even if
// two reviewers race.
func (e *Executor) Resolve(ctx context.Context, jobID string, action model.DecisionAction, reviewer, note string) (*model.Job, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusAwaitingHuman {
		return nil, eris.Errorf("pipeline: job %s is %s, not awaiting human review", jobID, job.Status)
	}

	state := job.State
	if state == nil {
		state = &model.OperationalState{}
	}
	decision := model.Decision{
		Action:         action,
		Target:         "",
		ReasoningTrace: "human review: " + note,
		DecidedBy:      reviewer,
		DecidedAt:      e.nowFunc().UTC(),
	}
	if state.Decision != nil {
		decision.Target = state.Decision.Target
	}
	state.Decision = &decision

	if err := e.store.CompareAndSetStatus(ctx, jobID, model.JobStatusAwaitingHuman, model.JobStatusCompleted); err != nil {
		if eris.Is(err, store.ErrStatusConflict) {
			return nil, eris.Wrap(err, "pipeline: job already resolved")
		}
		return nil, err
	}
	if err := e.store.SaveState(ctx, jobID, state); err != nil {
		// Roll the status back so the job is never COMPLETED without the
		// human decision persisted; the reviewer can retry.
		_ = e.store.CompareAndSetStatus(ctx, jobID, model.JobStatusCompleted, model.JobStatusAwaitingHuman)
		return nil, eris.Wrap(err, "pipeline: persist human decision")
	}
	_ = e.store.AppendAudit(ctx, &model.AuditRecord{
		CorrelationID: job.CorrelationID,
		JobID:         job.ID,
		Stage:         model.StageResolve,
		Outcome:       model.OutcomeOK,
		Detail:        fmt.Sprintf("%s by %s: %s", action, reviewer, note),
	})

	if action != model.ActionHumanEscalation {
		e.pushDownstream(ctx, job, &decision, state, zap.L().With(zap.String("job_id", jobID)))
	}

	return e.store.GetJob(ctx, jobID)
}

// stageCall runs one provider call under the stage timeout with transient
// retries inside the window. Each call passes through the stage's circuit
// breaker; ErrCircuitOpen is not transient, so an open circuit fails the
// stage without burning the retry budget.
func stageCall[T any](ctx context.Context, e *Executor, stage model.Stage, fn func(ctx context.Context) (T, error)) (T, error) {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout())
	defer cancel()
	return resilience.DoVal(sctx, e.retry, func(rctx context.Context) (T, error) {
		return resilience.ExecuteVal(rctx, e.breakers[stage], fn)
	})
}

// cancelled checks two abort conditions at a stage boundary: process shutdown
// and an external dead-letter mark on the job row. Shutdown nacks the lease so
// another worker resumes promptly; an external cancellation is final, so the
// delivery is acked and the job never touches another provider.
func (e *Executor) cancelled(ctx context.Context, job *model.Job, d *queue.Delivery, stage model.Stage, log *zap.Logger) bool {
	if ctx.Err() != nil {
		log.Info("executor: shutdown at stage boundary", zap.String("stage", string(stage)))
		bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.store.AppendAudit(bg, &model.AuditRecord{
			CorrelationID: job.CorrelationID,
			JobID:         job.ID,
			Stage:         stage,
			Outcome:       model.OutcomeSkipped,
			ErrorKind:     model.ErrKindCancelled,
			Detail:        "shutdown before stage start",
		})
		_ = e.broker.Nack(bg, d.Lease)
		return true
	}

	current, err := e.store.GetJob(ctx, job.ID)
	if err != nil {
		// The next commit will surface a persistent store problem.
		log.Warn("executor: cancellation check failed", zap.Error(err))
		return false
	}
	if current.Status != model.JobStatusDeadLettered {
		return false
	}
	log.Info("executor: job cancelled externally", zap.String("stage", string(stage)))
	_ = e.store.AppendAudit(ctx, &model.AuditRecord{
		CorrelationID: job.CorrelationID,
		JobID:         job.ID,
		Stage:         stage,
		Outcome:       model.OutcomeSkipped,
		ErrorKind:     model.ErrKindCancelled,
		Detail:        "cancelled by external dead-letter mark",
	})
	_ = e.broker.Ack(ctx, d.Lease)
	return true
}

// commit persists the state produced by a stage and appends its audit record.
func (e *Executor) commit(ctx context.Context, job *model.Job, d *queue.Delivery, state *model.OperationalState, stage model.Stage, log *zap.Logger) bool {
	if err := e.store.SaveState(ctx, job.ID, state); err != nil {
		log.Warn("executor: state save failed", zap.String("stage", string(stage)), zap.Error(err))
		_ = e.broker.Nack(ctx, d.Lease)
		return false
	}
	_ = e.store.AppendAudit(ctx, &model.AuditRecord{
		CorrelationID: job.CorrelationID,
		JobID:         job.ID,
		Stage:         stage,
		Outcome:       model.OutcomeOK,
	})
	return true
}

// providerFault records a stage failure whose cause may be transient. The job
// stays RUNNING and the lease is nacked; the broker redelivers and the
// attempt counter bounds total retries.
func (e *Executor) providerFault(ctx context.Context, job *model.Job, d *queue.Delivery, stage model.Stage, err error, log *zap.Logger) {
	log.Warn("executor: stage failed", zap.String("stage", string(stage)), zap.Error(err))
	_ = e.store.AppendAudit(ctx, &model.AuditRecord{
		CorrelationID: job.CorrelationID,
		JobID:         job.ID,
		Stage:         stage,
		Outcome:       model.OutcomeFailed,
		ErrorKind:     model.ErrKindProviderError,
		Detail:        err.Error(),
	})
	_ = e.broker.Nack(ctx, d.Lease)
}

// fail marks the attempt FAILED and releases the lease. Redelivery re-claims
// a FAILED job for another attempt, so the attempt bound converts a
// persistent failure into a dead-letter rather than parking the job forever.
func (e *Executor) fail(ctx context.Context, job *model.Job, d *queue.Delivery, stage model.Stage, kind model.ErrorKind, cause error, log *zap.Logger) {
	log.Warn("executor: attempt failed", zap.String("stage", string(stage)), zap.Error(cause))
	if err := e.store.SetStatus(ctx, job.ID, model.JobStatusFailed, cause.Error()); err != nil {
		log.Error("executor: failure mark failed", zap.Error(err))
	}
	_ = e.store.AppendAudit(ctx, &model.AuditRecord{
		CorrelationID: job.CorrelationID,
		JobID:         job.ID,
		Stage:         stage,
		Outcome:       model.OutcomeFailed,
		ErrorKind:     kind,
		Detail:        cause.Error(),
	})
	_ = e.broker.Nack(ctx, d.Lease)
}
