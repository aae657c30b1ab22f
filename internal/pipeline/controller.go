package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mizutani/kakeibot/internal/common"
	"github.com/mizutani/kakeibot/internal/extract"
	"github.com/mizutani/kakeibot/internal/model"
	"github.com/mizutani/kakeibot/internal/resolve"
	"github.com/mizutani/kakeibot/internal/service"
)

// Budget defaults. The light phase gets a small slice of the total so
// a clean receipt answers fast; the full phase gets whatever is left
// minus a safety margin, and is skipped entirely when that remainder
// drops below the floor.
const (
	DefaultTotalBudget  = 2 * time.Second
	DefaultLightBudget  = 400 * time.Millisecond
	DefaultSafetyMargin = 100 * time.Millisecond
	DefaultMinFull      = 250 * time.Millisecond
)

// Config tunes the staged controller.
type Config struct {
	TotalBudget  time.Duration
	LightBudget  time.Duration
	SafetyMargin time.Duration
	MinFull      time.Duration
}

// DefaultConfig returns the default latency budget split.
func DefaultConfig() Config {
	return Config{
		TotalBudget:  DefaultTotalBudget,
		LightBudget:  DefaultLightBudget,
		SafetyMargin: DefaultSafetyMargin,
		MinFull:      DefaultMinFull,
	}
}

// Result is the outcome of a synchronous processing attempt.
type Result struct {
	Analysis               *model.ReceiptAnalysis
	Duplicate              bool
	CompletedSynchronously bool
}

// Controller drives OCR and resolution through the light and full
// phases, escalating to the async queue when the budget runs out.
type Controller struct {
	ocr       service.OCRProvider
	images    service.ImageStore
	queue     service.AsyncTaskQueue
	clock     service.Clock
	extractor *extract.Extractor
	resolver  *resolve.Resolver
	tracker   *Tracker
	cfg       Config
}

// NewController wires a staged controller from its collaborators.
func NewController(ocr service.OCRProvider, images service.ImageStore, queue service.AsyncTaskQueue, tracker *Tracker, clock service.Clock, cfg Config) *Controller {
	if cfg.TotalBudget <= 0 {
		cfg = DefaultConfig()
	}
	return &Controller{
		ocr:       ocr,
		images:    images,
		queue:     queue,
		clock:     clock,
		extractor: extract.New(),
		resolver:  resolve.New(),
		tracker:   tracker,
		cfg:       cfg,
	}
}

// Process runs the staged pipeline for one inbound image message. A
// duplicate message id returns Result.Duplicate without doing any
// work; that is a no-op outcome, not an error. When both phases
// exhaust the budget the job is enqueued and
// Result.CompletedSynchronously is false.
func (c *Controller) Process(ctx context.Context, ownerID, messageID, imageRef string, reply service.ReplyContext) (Result, error) {
	if !c.tracker.Claim(messageID) {
		slog.Debug("message already claimed, skipping", "message_id", messageID)
		return Result{Duplicate: true}, nil
	}

	start := c.clock.Now()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TotalBudget)
	defer cancel()

	image, err := c.images.Fetch(ctx, imageRef)
	if err != nil {
		c.tracker.Fail(messageID)
		if ctx.Err() != nil {
			return c.escalate(ownerID, messageID, imageRef, reply), nil
		}
		return Result{}, fmt.Errorf("fetching image %s: %w", imageRef, err)
	}

	analysis, err := c.runPhase(ctx, image, service.TierLight, c.cfg.LightBudget)
	if err == nil {
		c.tracker.Complete(messageID)
		return Result{CompletedSynchronously: true, Analysis: analysis}, nil
	}
	if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
		// The caller's context died, not a phase deadline.
		c.tracker.Fail(messageID)
		return Result{}, ctx.Err()
	}
	slog.Debug("light phase did not resolve", "message_id", messageID, "error", err)

	remaining := c.cfg.TotalBudget - c.clock.Now().Sub(start) - c.cfg.SafetyMargin
	if remaining < c.cfg.MinFull {
		c.tracker.Fail(messageID)
		return c.escalate(ownerID, messageID, imageRef, reply), nil
	}

	analysis, err = c.runPhase(ctx, image, service.TierFull, remaining)
	switch {
	case err == nil:
		c.tracker.Complete(messageID)
		return Result{CompletedSynchronously: true, Analysis: analysis}, nil
	case terminal(err):
		// The image was read and genuinely holds no usable amount.
		// Retrying asynchronously would reach the same answer.
		c.tracker.Complete(messageID)
		return Result{CompletedSynchronously: true}, common.ErrNoAmountFound
	case ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded):
		c.tracker.Fail(messageID)
		return Result{}, ctx.Err()
	default:
		c.tracker.Fail(messageID)
		return c.escalate(ownerID, messageID, imageRef, reply), nil
	}
}

// ProcessQueued re-runs an escalated job at full fidelity without a
// deadline. The queue worker is the only caller.
func (c *Controller) ProcessQueued(ctx context.Context, job service.ReceiptJob) (*model.ReceiptAnalysis, error) {
	messageID := "job:" + job.ID
	if !c.tracker.Claim(messageID) {
		return nil, nil
	}

	image, err := c.images.Fetch(ctx, job.ImageRef)
	if err != nil {
		c.tracker.Fail(messageID)
		return nil, fmt.Errorf("fetching image %s: %w", job.ImageRef, err)
	}

	text, err := c.ocr.ExtractText(ctx, image, service.TierFull)
	if err != nil {
		if terminal(err) {
			c.tracker.Complete(messageID)
			return nil, common.ErrNoAmountFound
		}
		c.tracker.Fail(messageID)
		return nil, err
	}

	analysis, err := c.resolver.Analyze(text, c.extractor.Candidates(text))
	if err != nil {
		c.tracker.Complete(messageID)
		return nil, err
	}
	c.tracker.Complete(messageID)
	return &analysis, nil
}

type phaseOutcome struct {
	analysis model.ReceiptAnalysis
	err      error
}

// runPhase races one OCR+resolution attempt against its deadline.
// Whichever settles first wins; the loser's context is cancelled so
// in-flight calls unwind at their next suspension point instead of
// leaking.
func (c *Controller) runPhase(ctx context.Context, image []byte, tier service.QualityTier, budget time.Duration) (*model.ReceiptAnalysis, error) {
	phaseCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan phaseOutcome, 1)
	go func() {
		text, err := c.ocr.ExtractText(phaseCtx, image, tier)
		if err != nil {
			done <- phaseOutcome{err: err}
			return
		}
		if err := phaseCtx.Err(); err != nil {
			done <- phaseOutcome{err: err}
			return
		}
		analysis, err := c.resolver.Analyze(text, c.extractor.Candidates(text))
		done <- phaseOutcome{analysis: analysis, err: err}
	}()

	select {
	case outcome := <-done:
		if outcome.err != nil {
			return nil, outcome.err
		}
		if outcome.analysis.ResolvedTotal == nil {
			return nil, common.ErrNoAmountFound
		}
		return &outcome.analysis, nil
	case <-phaseCtx.Done():
		// Hard deadline: a late result is discarded even if the
		// goroutine finishes right after this.
		return nil, phaseCtx.Err()
	}
}

func (c *Controller) escalate(ownerID, messageID, imageRef string, reply service.ReplyContext) Result {
	job := service.ReceiptJob{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		ImageRef: imageRef,
		Reply:    reply,
	}
	c.queue.EnqueueReceiptJob(job)
	slog.Info("escalated receipt to async queue",
		"message_id", messageID,
		"job_id", job.ID,
		"owner_id", ownerID)
	return Result{CompletedSynchronously: false}
}

// terminal reports whether a phase error is a final answer about the
// image rather than a transient failure worth another phase.
func terminal(err error) bool {
	return errors.Is(err, common.ErrNoAmountFound) || errors.Is(err, common.ErrNoTextDetected)
}
