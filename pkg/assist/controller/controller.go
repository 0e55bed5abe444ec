// Package controller owns the client-side session lifecycle: it holds the
// capture, playback, and transcript components, interprets backend events,
// and archives the session exactly once on termination.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/clearline/assist/pkg/assist/playback"
	"github.com/clearline/assist/pkg/assist/transcript"
)

// ArchivedSession is the snapshot handed to the archival collaborator when
// a session ends.
type ArchivedSession struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Summary   string
	Entries   []transcript.Entry
}

// Archiver persists a finished session. Implementations live outside the
// live-session core.
type Archiver interface {
	Archive(ctx context.Context, s ArchivedSession) error
}

// Callbacks notify the surrounding application. All fields are optional.
type Callbacks struct {
	OnReady           func()
	OnStateChange     func(State)
	OnTranscriptEntry func(transcript.Entry)
	OnEnded           func(ArchivedSession)
	OnError           func(message string)
}

// Hardware abstracts the capture devices so teardown can be exercised in
// tests. Stop must be safe to call more than once.
type Hardware interface {
	Stop()
}

type Dependencies struct {
	Scheduler *playback.Scheduler
	Archiver  Archiver
	Hardware  Hardware
	Logger    *slog.Logger
	Callbacks Callbacks
	Now       func() time.Time
}

// Controller is the session state machine. All mutable session state lives
// here; there is no process-wide current session.
type Controller struct {
	deps Dependencies

	mu         sync.Mutex
	state      State
	id         string
	startedAt  time.Time
	aggregator *transcript.Aggregator
	summary    string

	isClosing atomic.Bool
}

func New(deps Dependencies) (*Controller, error) {
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("controller: scheduler is required")
	}
	if deps.Archiver == nil {
		return nil, fmt.Errorf("controller: archiver is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Controller{
		deps:       deps,
		state:      StateConnecting,
		id:         "sess_" + uuid.NewString(),
		startedAt:  deps.Now(),
		aggregator: transcript.NewAggregator(deps.Now),
	}, nil
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HandleEvent runs one event through the dispatch table and applies the
// resulting effects.
func (c *Controller) HandleEvent(ctx context.Context, ev Event) {
	c.mu.Lock()
	next, effects := Dispatch(c.state, ev)
	changed := next != c.state
	c.state = next
	c.mu.Unlock()

	for _, eff := range effects {
		c.apply(ctx, eff)
	}
	if changed {
		c.notifyState(next)
	}
}

// Tick re-derives the listening/speaking split from the playback clock.
// Call it from the render loop; speech status must decay even when no new
// chunk arrives.
func (c *Controller) Tick() {
	speaking := c.deps.Scheduler.Speaking()

	c.mu.Lock()
	next := DeriveSpeechState(c.state, speaking)
	changed := next != c.state
	c.state = next
	c.mu.Unlock()

	if changed {
		c.notifyState(next)
	}
}

// End terminates the session on behalf of the user. Safe to call while a
// backend-initiated close is racing in.
func (c *Controller) End(ctx context.Context) {
	c.HandleEvent(ctx, Event{Kind: EventUserEnd})
}

func (c *Controller) apply(ctx context.Context, eff Effect) {
	switch eff.Kind {
	case EffectNotifyReady:
		if c.deps.Callbacks.OnReady != nil {
			c.deps.Callbacks.OnReady()
		}

	case EffectSchedulePlayback:
		c.deps.Scheduler.Enqueue(eff.Audio)

	case EffectResetPlayback:
		c.deps.Scheduler.Reset()

	case EffectStageFragment:
		c.mu.Lock()
		c.aggregator.AddAgentFragment(eff.Text)
		c.mu.Unlock()

	case EffectCompleteTurn:
		c.mu.Lock()
		entry, ok := c.aggregator.CompleteAgentTurn()
		c.mu.Unlock()
		if ok && c.deps.Callbacks.OnTranscriptEntry != nil {
			c.deps.Callbacks.OnTranscriptEntry(entry)
		}

	case EffectStageUserFragment:
		c.mu.Lock()
		c.aggregator.AddUserFragment(eff.Text)
		c.mu.Unlock()

	case EffectCompleteUserTurn:
		c.mu.Lock()
		entry, ok := c.aggregator.CompleteUserTurn()
		c.mu.Unlock()
		if ok && c.deps.Callbacks.OnTranscriptEntry != nil {
			c.deps.Callbacks.OnTranscriptEntry(entry)
		}

	case EffectStopHardware:
		if c.deps.Hardware != nil {
			c.deps.Hardware.Stop()
		}

	case EffectArchive:
		c.archiveOnce(ctx, eff.Summary)

	case EffectSurfaceError:
		c.deps.Logger.Warn("session error", "session_id", c.id, "message", eff.Message)
		if c.deps.Callbacks.OnError != nil {
			c.deps.Callbacks.OnError(eff.Message)
		}
	}
}

// archiveOnce snapshots and persists the session. The closing latch makes
// it a no-op on every call after the first, so a user close racing a
// backend close still archives exactly once.
func (c *Controller) archiveOnce(ctx context.Context, summary string) {
	if c.isClosing.Swap(true) {
		return
	}

	c.mu.Lock()
	// Turns still in flight when the session ends are flushed so their
	// text is not lost.
	if entry, ok := c.aggregator.CompleteUserTurn(); ok && c.deps.Callbacks.OnTranscriptEntry != nil {
		c.mu.Unlock()
		c.deps.Callbacks.OnTranscriptEntry(entry)
		c.mu.Lock()
	}
	if entry, ok := c.aggregator.CompleteAgentTurn(); ok && c.deps.Callbacks.OnTranscriptEntry != nil {
		c.mu.Unlock()
		c.deps.Callbacks.OnTranscriptEntry(entry)
		c.mu.Lock()
	}
	c.summary = summary
	snapshot := ArchivedSession{
		ID:        c.id,
		StartedAt: c.startedAt,
		EndedAt:   c.deps.Now(),
		Summary:   summary,
		Entries:   c.aggregator.Entries(),
	}
	c.mu.Unlock()

	if err := c.deps.Archiver.Archive(ctx, snapshot); err != nil {
		c.deps.Logger.Error("archive failed", "session_id", c.id, "error", err)
	}
	if c.deps.Callbacks.OnEnded != nil {
		c.deps.Callbacks.OnEnded(snapshot)
	}
}

func (c *Controller) notifyState(s State) {
	if c.deps.Callbacks.OnStateChange != nil {
		c.deps.Callbacks.OnStateChange(s)
	}
}
