// Package playback schedules assistant audio chunks on a gapless timeline
// and derives the "speaking" status the UI shows.
package playback

import (
	"sync"
	"time"
)

const (
	// OutputRate is the sample rate of assistant audio.
	OutputRate = 24000

	bytesPerSample = 2

	// speakingEpsilon keeps the status in speaking across the small gaps
	// between consecutive chunks so it does not flicker.
	speakingEpsilon = 150 * time.Millisecond
)

// Clock abstracts the audio clock so tests can drive time by hand.
type Clock interface {
	Now() time.Duration
}

// SystemClock reads the monotonic clock, anchored at construction.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Now() time.Duration {
	return time.Since(c.start)
}

// Sink receives a PCM16 chunk together with the timeline offset it should
// start playing at.
type Sink interface {
	Play(pcm []byte, startAt time.Duration)
}

// Scheduler places incoming chunks back to back on a monotonic cursor.
// Chunks never overlap and never reorder; a chunk that arrives while the
// previous one is still playing starts exactly when it ends. Safe for
// concurrent use: chunks arrive from the read loop while the render loop
// polls Speaking.
type Scheduler struct {
	clock Clock
	sink  Sink

	mu           sync.Mutex
	nextPlayTime time.Duration
}

func NewScheduler(clock Clock, sink Sink) *Scheduler {
	return &Scheduler{clock: clock, sink: sink}
}

// ChunkDuration reports how long a PCM16 chunk plays for at OutputRate.
func ChunkDuration(nbytes int) time.Duration {
	samples := nbytes / bytesPerSample
	return time.Duration(samples) * time.Second / OutputRate
}

// Enqueue schedules a chunk. If the timeline has drained, the chunk starts
// now; otherwise it starts when the previous chunk ends.
func (s *Scheduler) Enqueue(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	now := s.clock.Now()

	s.mu.Lock()
	start := now
	if s.nextPlayTime > start {
		start = s.nextPlayTime
	}
	s.nextPlayTime = start + ChunkDuration(len(pcm))
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.Play(pcm, start)
	}
}

// Reset abandons everything scheduled. The next chunk starts immediately.
// Used when the assistant is interrupted by the user.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.nextPlayTime = 0
	s.mu.Unlock()
}

// Speaking reports whether scheduled audio is still audible, with a small
// grace window so back-to-back chunks read as one continuous utterance.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	next := s.nextPlayTime
	s.mu.Unlock()
	return DerivePlaybackStatus(s.clock.Now(), next)
}

// DerivePlaybackStatus is the pure form of Speaking, split out so the
// status rule is testable without a scheduler.
func DerivePlaybackStatus(now, nextPlayTime time.Duration) bool {
	if nextPlayTime == 0 {
		return false
	}
	return now < nextPlayTime+speakingEpsilon
}
