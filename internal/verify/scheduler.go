package verify

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSpec re-checks unverified pools every ten minutes, with a leading
// seconds field.
const DefaultSpec = "0 */10 * * * *"

// Scheduler runs VerifyAll on a cron spec.
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	logger *zap.Logger
}

// NewScheduler registers the verification job. Each run is bounded by
// timeout.
func NewScheduler(ctx context.Context, spec string, timeout time.Duration, submitter *Submitter, logger *zap.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger), cron.Recover(cron.DefaultLogger)))
	_, err := c.AddFunc(spec, func() {
		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if _, err := submitter.VerifyAll(rctx); err != nil {
			logger.Warn("scheduled verification failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: c, spec: spec, logger: logger}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("verification cron started", zap.String("spec", s.spec))
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
