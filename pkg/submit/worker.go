package submit

import (
	"context"
	"time"

	"github.com/beam-cloud/contestfs/pkg/filestore"
	"github.com/beam-cloud/contestfs/pkg/metrics"
	"github.com/rs/zerolog/log"
)

const DefaultDelay = time.Second

// Submitter sends a submission's bytes to the server and returns the
// assigned run id.
type Submitter interface {
	SubmitRun(ctx context.Context, s Submission, data []byte) (int, error)
}

type WorkerOpts struct {
	Queue     *Queue
	Store     *filestore.Store
	Submitter Submitter
	Metrics   *metrics.Metrics

	// Delay is the pause after every submission.
	Delay time.Duration
}

// Worker is the single consumer of a Queue.
type Worker struct {
	opts WorkerOpts
}

func NewWorker(opts WorkerOpts) *Worker {
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	return &Worker{opts: opts}
}

// Run drains the queue until ctx is cancelled. Cancelling ctx closes the
// queue; submissions already queued at that point are dropped.
func (w *Worker) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, w.opts.Queue.Close)
	defer stop()

	for {
		s, ok := w.opts.Queue.Dequeue()
		if !ok || ctx.Err() != nil {
			return nil
		}

		w.process(ctx, s)

		if w.opts.Delay > 0 {
			t := time.NewTimer(w.opts.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, s Submission) {
	logger := log.With().
		Str("submission", s.ID.String()).
		Int("contest", s.ContestID).
		Int("problem", s.ProblemID).
		Int("lang", s.LangID).
		Str("file", s.FileName).
		Logger()

	node, ok := w.opts.Store.GetNode(s.NodeID)
	if !ok {
		logger.Debug().Msg("staged file is gone, skipping")
		return
	}
	data := node.Bytes()
	node.Release()

	runID, err := w.opts.Submitter.SubmitRun(ctx, s, data)
	if w.opts.Metrics != nil {
		w.opts.Metrics.RecordSubmit(int64(len(data)), err)
	}
	if err != nil {
		logger.Error().Err(err).Msg("submission failed")
		return
	}

	logger.Info().Int("run", runID).Int("bytes", len(data)).Msg("submission accepted")
	if s.Dir != nil {
		if err := s.Dir.UnlinkIf(s.FileName, s.NodeID); err != nil {
			logger.Debug().Err(err).Msg("staged file already replaced")
		}
	}
}
