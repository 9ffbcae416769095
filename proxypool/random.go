package manager

import (
	"math/rand"
	"sync/atomic"
	"time"
)

// Clock is the time source of the manager. Tests inject a fake one.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// splitmixSource 是一个无锁的 rand.Source64 (SplitMix64)，
// 允许多个 Select 调用并发使用同一个 *rand.Rand。
type splitmixSource struct {
	state atomic.Uint64
}

const splitmixGamma = 0x9e3779b97f4a7c15

func (s *splitmixSource) Seed(seed int64) {
	s.state.Store(uint64(seed))
}

func (s *splitmixSource) Uint64() uint64 {
	z := s.state.Add(splitmixGamma)
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func (s *splitmixSource) Int63() int64 {
	return int64(s.Uint64() >> 1)
}

// NewRand returns a seeded generator that is safe for concurrent Float64/Intn calls.
// The same seed yields the same sequence for sequential callers.
func NewRand(seed int64) *rand.Rand {
	src := &splitmixSource{}
	src.Seed(seed)
	return rand.New(src)
}
