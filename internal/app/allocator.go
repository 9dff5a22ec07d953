package app

import (
	"context"
	"fmt"
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/patrickmn/go-cache"
)

// PoolReader exposes the read side of a raffle's number pool.
type PoolReader interface {
	GetRaffle(ctx context.Context, raffleID string) (domain.Raffle, error)
	PoolStats(ctx context.Context, raffleID string) (domain.PoolStats, error)
	ListTakenNumbers(ctx context.Context, raffleID string) ([]int, error)
}

const (
	defaultOccupancyThreshold = 0.75
	defaultAttemptsPerNumber  = 20
	defaultPoolSizeCacheTTL   = 10 * time.Minute
)

// Allocator proposes free numbers for a raffle. Proposals are not reservations:
// the ledger commits them and may reject numbers a concurrent request claimed first.
type Allocator struct {
	pool              PoolReader
	random            Random
	poolSizes         *cache.Cache
	threshold         float64
	attemptsPerNumber int
}

type AllocatorOption func(*Allocator)

func WithAllocatorRandom(r Random) AllocatorOption {
	return func(a *Allocator) {
		if r != nil {
			a.random = r
		}
	}
}

// WithOccupancyThreshold sets the occupancy at which sampling gives way to enumeration.
func WithOccupancyThreshold(t float64) AllocatorOption {
	return func(a *Allocator) {
		if t > 0 && t <= 1 {
			a.threshold = t
		}
	}
}

func NewAllocator(pool PoolReader, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		pool:              pool,
		random:            NewCryptoSeededRandom(),
		poolSizes:         cache.New(defaultPoolSizeCacheTTL, 2*defaultPoolSizeCacheTTL),
		threshold:         defaultOccupancyThreshold,
		attemptsPerNumber: defaultAttemptsPerNumber,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate returns count distinct numbers in [1, total_numbers] that had no record when the
// taken set was read, skipping anything in exclude.
func (a *Allocator) Allocate(ctx context.Context, raffleID string, count int, exclude []int) ([]int, error) {
	const op = "app.Allocator.Allocate"

	if count <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	total, err := a.poolSize(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	stats, err := a.pool.PoolStats(ctx, raffleID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	stats.Total = total
	if stats.Available() < count {
		return nil, domain.ErrInsufficientAvailability
	}

	taken, err := a.pool.ListTakenNumbers(ctx, raffleID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	blocked := make(map[int]struct{}, len(taken)+len(exclude))
	for _, n := range taken {
		blocked[n] = struct{}{}
	}
	for _, n := range exclude {
		blocked[n] = struct{}{}
	}

	if stats.Occupancy() < a.threshold {
		if picked, ok := a.sample(total, count, blocked); ok {
			return picked, nil
		}
	}
	return a.complement(total, count, blocked)
}

// sample draws uniformly and rejects blocked or repeated numbers. It gives up after
// attemptsPerNumber*count draws.
func (a *Allocator) sample(total, count int, blocked map[int]struct{}) ([]int, bool) {
	picked := make([]int, 0, count)
	seen := make(map[int]struct{}, count)
	budget := a.attemptsPerNumber * count
	for attempt := 0; attempt < budget && len(picked) < count; attempt++ {
		n := a.random.Intn(total) + 1
		if _, ok := blocked[n]; ok {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		picked = append(picked, n)
	}
	return picked, len(picked) == count
}

// complement enumerates every free number and selects count of them with a partial
// Fisher-Yates shuffle.
func (a *Allocator) complement(total, count int, blocked map[int]struct{}) ([]int, error) {
	capacity := total - len(blocked)
	if capacity < 0 {
		capacity = 0
	}
	free := make([]int, 0, capacity)
	for n := 1; n <= total; n++ {
		if _, ok := blocked[n]; !ok {
			free = append(free, n)
		}
	}
	if len(free) < count {
		return nil, domain.ErrInsufficientAvailability
	}
	for i := 0; i < count; i++ {
		j := i + a.random.Intn(len(free)-i)
		free[i], free[j] = free[j], free[i]
	}
	out := make([]int, count)
	copy(out, free[:count])
	return out, nil
}

func (a *Allocator) poolSize(ctx context.Context, raffleID string) (int, error) {
	if v, ok := a.poolSizes.Get(raffleID); ok {
		return v.(int), nil
	}
	raffle, err := a.pool.GetRaffle(ctx, raffleID)
	if err != nil {
		return 0, err
	}
	a.poolSizes.Set(raffleID, raffle.TotalNumbers, cache.DefaultExpiration)
	return raffle.TotalNumbers, nil
}
