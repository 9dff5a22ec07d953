// Package job holds the background work scheduled with cron.
package job

import (
	"context"
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/lib/logger/sl"
	"github.com/robfig/cron/v3"
	"go.uber.org/atomic"
	"golang.org/x/exp/slog"
)

type Sweeper interface {
	ExpireSweep(ctx context.Context) (domain.SweepResult, error)
}

const defaultSweepTimeout = 30 * time.Second

// ExpirySweepJob releases numbers held by purchases whose payment window closed.
// A run that starts while the previous one is still going is skipped.
type ExpirySweepJob struct {
	sweeper Sweeper
	log     *slog.Logger
	timeout time.Duration

	running  atomic.Bool
	runs     atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64
	expired  atomic.Int64
	released atomic.Int64
}

var _ cron.Job = (*ExpirySweepJob)(nil)

func NewExpirySweepJob(sweeper Sweeper, log *slog.Logger) *ExpirySweepJob {
	if log == nil {
		log = sl.Discard()
	}
	return &ExpirySweepJob{
		sweeper: sweeper,
		log:     log.With(slog.String("job", "expiry_sweep")),
		timeout: defaultSweepTimeout,
	}
}

func (j *ExpirySweepJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	j.RunOnce(ctx)
}

// RunOnce sweeps unless a sweep is already in progress; it reports whether it ran.
func (j *ExpirySweepJob) RunOnce(ctx context.Context) bool {
	if !j.running.CompareAndSwap(false, true) {
		j.skipped.Inc()
		j.log.Debug("previous sweep still running, skipping")
		return false
	}
	defer j.running.Store(false)

	j.runs.Inc()
	res, err := j.sweeper.ExpireSweep(ctx)
	j.expired.Add(int64(res.Expired))
	j.released.Add(int64(res.Released))
	if err != nil {
		j.failures.Inc()
		j.log.Error("expiry sweep failed", sl.Err(err))
	}
	return true
}

type SweepStats struct {
	Runs     int64 `json:"runs"`
	Skipped  int64 `json:"skipped"`
	Failures int64 `json:"failures"`
	Expired  int64 `json:"expired"`
	Released int64 `json:"released"`
}

func (j *ExpirySweepJob) Stats() SweepStats {
	return SweepStats{
		Runs:     j.runs.Load(),
		Skipped:  j.skipped.Load(),
		Failures: j.failures.Load(),
		Expired:  j.expired.Load(),
		Released: j.released.Load(),
	}
}

// Schedule registers job on a new cron scheduler. The caller starts and stops it.
func Schedule(spec string, job cron.Job) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddJob(spec, job); err != nil {
		return nil, err
	}
	return c, nil
}
