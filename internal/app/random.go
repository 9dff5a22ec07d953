package app

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"
)

// Random is the randomness the allocator, draws and spin wheel depend on.
type Random interface {
	Intn(n int) int
	Float64() float64
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandom returns a goroutine-safe source. Use a fixed seed for reproducible tests.
func NewRandom(seed int64) Random {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

// NewCryptoSeededRandom seeds a source from crypto/rand.
func NewCryptoSeededRandom() Random {
	var b [8]byte
	seed := time.Now().UnixNano()
	if _, err := crand.Read(b[:]); err == nil {
		seed = int64(binary.LittleEndian.Uint64(b[:]))
	}
	return NewRandom(seed)
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
