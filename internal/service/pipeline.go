package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/profile-letterbox/internal/fetcher"
	"github.com/MimeLyc/profile-letterbox/internal/jobs"
	"github.com/MimeLyc/profile-letterbox/internal/media"
	"github.com/MimeLyc/profile-letterbox/internal/metrics"
	"github.com/MimeLyc/profile-letterbox/internal/notify"
	"github.com/MimeLyc/profile-letterbox/pkg/log"
)

// Progress checkpoints of the job state machine.
const (
	progressDownloadStart = 0
	progressDownloadEnd   = 25
	progressProcessEnd    = 75
	progressArchived      = 90
	progressFinalizeEnd   = 95
)

const notifyTimeout = 30 * time.Second

type Normalizer interface {
	Normalize(ctx context.Context, item media.Item, opts media.Options) (media.Outcome, error)
}

type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) error
}

type PipelineConfig struct {
	// Parallelism bounds concurrent normalizations inside one job.
	Parallelism int
	// KeepOriginals keeps the uncompressed download directory next to the archive.
	KeepOriginals bool
}

// Pipeline drives one job from download to archive.
type Pipeline struct {
	fetcher       fetcher.Fetcher
	normalizer    Normalizer
	notifier      Notifier
	parallelism   int
	keepOriginals bool
	tracer        trace.Tracer
	notifyWG      sync.WaitGroup
}

func NewPipeline(f fetcher.Fetcher, n Normalizer, notifier Notifier, cfg PipelineConfig) *Pipeline {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	return &Pipeline{
		fetcher:       f,
		normalizer:    n,
		notifier:      notifier,
		parallelism:   cfg.Parallelism,
		keepOriginals: cfg.KeepOriginals,
		tracer:        otel.Tracer("letterbox.pipeline"),
	}
}

// Execute is a jobs.Executor.
func (p *Pipeline) Execute(ctx context.Context, job *jobs.Job, r jobs.Reporter) (jobs.Result, error) {
	ctx, span := p.tracer.Start(ctx, "letterbox.job")
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.profile", job.Profile),
	)
	defer span.End()

	logger := log.WithComponent("pipeline").With("job_id", job.ID)
	logger.Info("Starting job for profile %s", job.Profile)

	res, err := p.run(ctx, job, r, logger)
	if err != nil {
		if ctx.Err() != nil && !IsErrorType(err, ErrCancelled) {
			err = cancelled(ctx)
		}
		var svcErr *Error
		if errors.As(err, &svcErr) {
			logger.Debug("Job failed: %s", svcErr.Detail())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if rmErr := os.RemoveAll(job.WorkingDir); rmErr != nil {
			logger.Warn("Failed to release working directory %s: %v", job.WorkingDir, rmErr)
		}
		return jobs.Result{}, err
	}

	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.Int("job.processed", res.Processed))
	p.notifyAsync(job, res)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, job *jobs.Job, r jobs.Reporter, logger *log.Logger) (jobs.Result, error) {
	downloadDir := filepath.Join(job.WorkingDir, job.Profile)

	items, err := p.download(ctx, job, downloadDir, r, logger)
	if err != nil {
		return jobs.Result{}, err
	}

	processed, err := p.process(ctx, job, items, r, logger)
	if err != nil {
		return jobs.Result{}, err
	}

	archivePath, err := p.finalize(ctx, job, downloadDir, processed, r, logger)
	if err != nil {
		return jobs.Result{}, err
	}
	return jobs.Result{ArchivePath: archivePath, Processed: len(processed)}, nil
}

func (p *Pipeline) download(ctx context.Context, job *jobs.Job, downloadDir string, r jobs.Reporter, logger *log.Logger) ([]media.Item, error) {
	if err := p.advance(ctx, r, jobs.StateDownloading, progressDownloadStart); err != nil {
		return nil, err
	}
	ctx, span := p.tracer.Start(ctx, "letterbox.download")
	defer span.End()
	defer observeStage(string(jobs.StateDownloading), time.Now())

	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, NewErrorWithCause(ErrFetch, fmt.Sprintf("create download directory: %v", err), err)
	}

	items, err := p.fetcher.Fetch(ctx, job.Profile, downloadDir)
	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}
	switch {
	case errors.Is(err, fetcher.ErrProfileNotFound):
		return nil, NewErrorWithCause(ErrProfileNotFound, fmt.Sprintf("profile %s does not exist", job.Profile), err).
			WithContext("profile", job.Profile)
	case err != nil && len(items) == 0:
		return nil, NewErrorWithCause(ErrFetch, err.Error(), err).WithContext("profile", job.Profile)
	case err != nil:
		logger.Warn("Fetch for %s ended early, continuing with %d items: %v", job.Profile, len(items), err)
		span.AddEvent("partial fetch", trace.WithAttributes(attribute.String("error", err.Error())))
	}
	span.SetAttributes(attribute.Int("items", len(items)))
	logger.Info("Downloaded %d items for %s", len(items), job.Profile)

	if err := p.advance(ctx, r, jobs.StateDownloading, progressDownloadEnd); err != nil {
		return nil, err
	}
	return items, nil
}

func (p *Pipeline) process(ctx context.Context, job *jobs.Job, items []media.Item, r jobs.Reporter, logger *log.Logger) ([]media.Item, error) {
	if err := p.advance(ctx, r, jobs.StateProcessing, progressDownloadEnd); err != nil {
		return nil, err
	}
	ctx, span := p.tracer.Start(ctx, "letterbox.process")
	defer span.End()
	defer observeStage(string(jobs.StateProcessing), time.Now())

	ok := make([]bool, len(items))
	var (
		mu       sync.Mutex
		finished int
		failed   int
	)
	opts := media.Options{SkipVideo: job.SkipVideo}

	var g errgroup.Group
	g.SetLimit(p.parallelism)
	for i, item := range items {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			var outcome media.Outcome
			err := SafeExecute(func() error {
				var err error
				outcome, err = p.normalizer.Normalize(ctx, item, opts)
				return err
			})

			mu.Lock()
			defer mu.Unlock()
			finished++
			if err != nil {
				failed++
				metrics.IncItemNormalized(string(item.Kind), "error")
				logger.Warn("Skipping %s: %v", filepath.Base(item.Path), WrapError(err, ErrTransform, "normalize failed").Detail())
			} else {
				ok[i] = true
				metrics.IncItemNormalized(string(item.Kind), string(outcome))
				logger.Debug("Normalized %s: %s", filepath.Base(item.Path), outcome)
			}
			progress := progressDownloadEnd + (progressProcessEnd-progressDownloadEnd)*finished/len(items)
			if err := r.Advance(jobs.StateProcessing, progress); err != nil {
				logger.Warn("Progress update rejected: %v", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}

	processed := make([]media.Item, 0, len(items))
	for i, item := range items {
		if ok[i] {
			processed = append(processed, item)
		}
	}
	span.SetAttributes(attribute.Int("processed", len(processed)), attribute.Int("failed", failed))
	if len(processed) == 0 {
		return nil, NewError(ErrNoFilesProcessed, "no files were processed").
			WithContext("fetched", len(items)).
			WithContext("failed", failed)
	}
	logger.Info("Normalized %d of %d items", len(processed), len(items))

	if err := p.advance(ctx, r, jobs.StateProcessing, progressProcessEnd); err != nil {
		return nil, err
	}
	return processed, nil
}

func (p *Pipeline) finalize(ctx context.Context, job *jobs.Job, downloadDir string, items []media.Item, r jobs.Reporter, logger *log.Logger) (string, error) {
	if err := p.advance(ctx, r, jobs.StateFinalizing, progressProcessEnd); err != nil {
		return "", err
	}
	ctx, span := p.tracer.Start(ctx, "letterbox.finalize")
	defer span.End()
	defer observeStage(string(jobs.StateFinalizing), time.Now())

	paths := make([]string, len(items))
	for i, item := range items {
		paths[i] = item.Path
	}

	archivePath := filepath.Join(job.WorkingDir, ArchiveName(job.Profile))
	if err := WriteArchive(ctx, archivePath, downloadDir, paths); err != nil {
		if ctx.Err() != nil {
			return "", cancelled(ctx)
		}
		return "", NewErrorWithCause(ErrArchive, err.Error(), err)
	}
	if err := p.advance(ctx, r, jobs.StateFinalizing, progressArchived); err != nil {
		return "", err
	}

	if !p.keepOriginals {
		if err := os.RemoveAll(downloadDir); err != nil {
			logger.Warn("Failed to remove originals in %s: %v", downloadDir, err)
		}
	}
	logger.Info("Archived %d items to %s", len(items), archivePath)

	if err := p.advance(ctx, r, jobs.StateFinalizing, progressFinalizeEnd); err != nil {
		return "", err
	}
	return archivePath, nil
}

// advance is the cancellation checkpoint between steps.
func (p *Pipeline) advance(ctx context.Context, r jobs.Reporter, state jobs.State, progress int) error {
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	if err := r.Advance(state, progress); err != nil {
		return NewErrorWithCause(ErrUnknown, err.Error(), err)
	}
	return nil
}

func (p *Pipeline) notifyAsync(job *jobs.Job, res jobs.Result) {
	if p.notifier == nil {
		return
	}
	ev := notify.Event{
		Event:     notify.EventJobSucceeded,
		JobID:     job.ID,
		Profile:   job.Profile,
		Processed: res.Processed,
		Archive:   res.ArchivePath,
	}
	p.notifyWG.Add(1)
	go func() {
		defer p.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := p.notifier.Notify(ctx, ev); err != nil {
			metrics.IncNotifyFailure()
			log.Warn("Notification for job %s failed: %v", job.ID, err)
		}
	}()
}

// Wait blocks until in-flight notifications are done.
func (p *Pipeline) Wait() {
	p.notifyWG.Wait()
}

func cancelled(ctx context.Context) *Error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	msg := "job cancelled"
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = "job timed out"
	}
	return NewErrorWithCause(ErrCancelled, msg, cause)
}

func observeStage(stage string, start time.Time) {
	metrics.ObserveStage(stage, time.Since(start))
}
