// Package upstream connects one relay session to the streaming speech
// backend and normalizes its message stream into a small event set.
package upstream

import "context"

type EventKind string

const (
	EventReady        EventKind = "ready"
	EventAudio        EventKind = "audio"
	EventText         EventKind = "text"
	EventUserText     EventKind = "user_text"
	EventTurnComplete EventKind = "turn_complete"
	EventInterrupted  EventKind = "interrupted"
	EventToolCall     EventKind = "tool_call"
	EventError        EventKind = "error"
)

// ToolInvocation is the validated form of a backend tool call. Only
// endSession is meaningful to this system; anything else fails validation
// at the backend boundary instead of propagating as an untyped map.
type ToolInvocation struct {
	ID      string
	Name    string
	Summary string
}

// Event is one normalized backend message.
type Event struct {
	Kind  EventKind
	Audio []byte // raw PCM16 @24kHz mono, EventAudio only
	Text  string // transcript fragment, EventText and EventUserText
	Tool  ToolInvocation
	Err   error
}

// Session is one live backend conversation. Events is closed when the
// backend side ends; after that Err on the final event carries the cause,
// if any.
type Session interface {
	Events() <-chan Event
	SendAudio(pcm []byte) error
	SendImage(jpeg []byte) error
	AckTool(inv ToolInvocation) error
	Close() error
}

// Dialer opens backend sessions. The relay holds exactly one Session per
// client connection.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}
