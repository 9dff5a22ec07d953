package job

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
)

type blockingSweeper struct {
	started chan struct{}
	release chan struct{}
	err     error
}

func (b *blockingSweeper) ExpireSweep(ctx context.Context) (domain.SweepResult, error) {
	if b.started != nil {
		close(b.started)
		<-b.release
	}
	return domain.SweepResult{Expired: 2, Released: 5}, b.err
}

func TestExpirySweepJob_RunOnce(t *testing.T) {
	t.Parallel()

	j := NewExpirySweepJob(&blockingSweeper{}, nil)
	if !j.RunOnce(context.Background()) {
		t.Fatalf("expected sweep to run")
	}
	j.Run()

	stats := j.Stats()
	if stats.Runs != 2 || stats.Expired != 4 || stats.Released != 10 || stats.Failures != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestExpirySweepJob_SkipsOverlappingRuns(t *testing.T) {
	t.Parallel()

	sweeper := &blockingSweeper{started: make(chan struct{}), release: make(chan struct{})}
	j := NewExpirySweepJob(sweeper, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		j.RunOnce(context.Background())
	}()
	<-sweeper.started

	if j.RunOnce(context.Background()) {
		t.Fatalf("expected overlapping run to be skipped")
	}
	close(sweeper.release)
	wg.Wait()

	if stats := j.Stats(); stats.Runs != 1 || stats.Skipped != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestExpirySweepJob_CountsFailures(t *testing.T) {
	t.Parallel()

	j := NewExpirySweepJob(&blockingSweeper{err: errors.New("db down")}, nil)
	j.RunOnce(context.Background())
	if stats := j.Stats(); stats.Failures != 1 {
		t.Fatalf("expected one failure, got %+v", stats)
	}
}

func TestSchedule(t *testing.T) {
	t.Parallel()

	j := NewExpirySweepJob(&blockingSweeper{}, nil)
	if _, err := Schedule("@every 1m", j); err != nil {
		t.Fatalf("expected valid schedule, got %v", err)
	}
	if _, err := Schedule("every minute", j); err == nil {
		t.Fatalf("expected invalid schedule to fail")
	}
}
