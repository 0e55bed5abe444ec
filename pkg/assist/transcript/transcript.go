// Package transcript assembles partial text fragments into complete,
// chronological conversation entries.
package transcript

import (
	"strings"
	"time"
)

type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Entry is one finished utterance. Partial fragments never appear here.
type Entry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Aggregator stages in-flight text until the turn completes, then appends
// one entry per turn. Both sides stage: agent turns close on turnComplete,
// user turns close when the agent's reply begins. Entries are append-only.
type Aggregator struct {
	now func() time.Time

	pendingAgent strings.Builder
	pendingUser  strings.Builder
	entries      []Entry
}

func NewAggregator(now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{now: now}
}

// AddAgentFragment stages a partial fragment of the agent's current turn.
func (a *Aggregator) AddAgentFragment(text string) {
	a.pendingAgent.WriteString(text)
}

// CompleteAgentTurn flushes the staged agent text as one entry. A turn
// with no text produces no entry.
func (a *Aggregator) CompleteAgentTurn() (Entry, bool) {
	if a.pendingAgent.Len() == 0 {
		return Entry{}, false
	}
	e := Entry{
		Speaker:   SpeakerAgent,
		Text:      a.pendingAgent.String(),
		Timestamp: a.now(),
	}
	a.pendingAgent.Reset()
	a.entries = append(a.entries, e)
	return e, true
}

// AddUserFragment stages a partial fragment of the user's current
// utterance as the backend transcribes it.
func (a *Aggregator) AddUserFragment(text string) {
	a.pendingUser.WriteString(text)
}

// CompleteUserTurn flushes the staged user text as one entry. Called when
// the agent starts replying, so the entry lands as a complete unit and in
// chronological order. A turn with no text produces no entry.
func (a *Aggregator) CompleteUserTurn() (Entry, bool) {
	if a.pendingUser.Len() == 0 {
		return Entry{}, false
	}
	e := Entry{
		Speaker:   SpeakerUser,
		Text:      a.pendingUser.String(),
		Timestamp: a.now(),
	}
	a.pendingUser.Reset()
	a.entries = append(a.entries, e)
	return e, true
}

// Entries returns a snapshot of the finished entries in order.
func (a *Aggregator) Entries() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *Aggregator) Len() int { return len(a.entries) }
