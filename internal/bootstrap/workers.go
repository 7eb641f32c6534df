package bootstrap

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/bidmatch/internal/observability/metrics"
)

const documentJobTimeout = 5 * time.Minute

// RunWorkers consumes document indexing and analysis jobs until ctx ends.
// wm may be nil.
func (a *App) RunWorkers(ctx context.Context, wm *metrics.WorkerMetrics) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Queue.SubscribeDocumentIngested(gctx, a.jobHandler(wm, metrics.JobDocument, a.processDocument))
	})
	g.Go(func() error {
		return a.AnalysisQueue.SubscribeAnalysisJobs(gctx, a.jobHandler(wm, metrics.JobAnalysis, a.runAnalysis))
	})
	return g.Wait()
}

// lagFunc reports when the job was created.
type lagFunc func(created time.Time)

func (a *App) processDocument(ctx context.Context, documentID string, observeLag lagFunc) error {
	if doc, err := a.Documents.GetByID(ctx, documentID); err == nil {
		observeLag(doc.CreatedAt)
	}
	ctx, cancel := context.WithTimeout(ctx, documentJobTimeout)
	defer cancel()
	return a.Processor.ProcessByID(ctx, documentID)
}

func (a *App) runAnalysis(ctx context.Context, jobID string, observeLag lagFunc) error {
	if job, err := a.Analysis.GetJob(ctx, jobID); err == nil {
		observeLag(job.CreatedAt)
	}
	timeout := time.Duration(a.Config.AnalysisTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = documentJobTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return a.Analysis.RunJob(ctx, jobID)
}

func (a *App) jobHandler(
	wm *metrics.WorkerMetrics,
	kind string,
	run func(context.Context, string, lagFunc) error,
) func(context.Context, string) error {
	logger := a.Logger.Named("worker").With(zap.String("kind", kind))
	observeLag := func(created time.Time) {
		if wm != nil && !created.IsZero() {
			wm.ObserveQueueLag(a.service, kind, time.Since(created))
		}
	}
	return func(ctx context.Context, id string) error {
		started := time.Now()
		if wm != nil {
			wm.StartJob(kind)
		}
		err := run(ctx, id, observeLag)
		if wm != nil {
			wm.FinishJob(a.service, kind, time.Since(started), err)
		}
		if err != nil {
			logger.Error("job_failed", zap.String("id", id), zap.Duration("elapsed", time.Since(started)), zap.Error(err))
			return err
		}
		logger.Info("job_done", zap.String("id", id), zap.Duration("elapsed", time.Since(started)))
		return nil
	}
}
