// Package protocol defines the JSON wire messages exchanged between an
// assist client and the relay over one full-duplex websocket.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Message type tags. The client sends audio and image frames; everything
// else flows relay -> client.
const (
	TypeAudio        = "audio"
	TypeImage        = "image"
	TypeReady        = "ready"
	TypeText         = "text"
	TypeUserText     = "userText"
	TypeTurnComplete = "turnComplete"
	TypeInterrupted  = "interrupted"
	TypeEndSession   = "endSession"
	TypeError        = "error"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// ClientAudio carries one capture frame: base64 PCM16 @16kHz mono.
type ClientAudio struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ClientImage carries one camera snapshot: base64 JPEG.
type ClientImage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type ServerReady struct {
	Type string `json:"type"`
}

// ServerAudio carries one playback chunk: base64 PCM16 @24kHz mono.
type ServerAudio struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ServerText carries one partial transcript fragment of the agent's
// in-flight turn.
type ServerText struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ServerUserText carries a fragment of the user's own speech, transcribed
// by the backend.
type ServerUserText struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type ServerTurnComplete struct {
	Type string `json:"type"`
}

type ServerInterrupted struct {
	Type string `json:"type"`
}

// ServerEndSession signals that the agent invoked the endSession tool.
type ServerEndSession struct {
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewServerReady() ServerReady              { return ServerReady{Type: TypeReady} }
func NewServerAudio(b64 string) ServerAudio    { return ServerAudio{Type: TypeAudio, Data: b64} }
func NewServerText(fragment string) ServerText { return ServerText{Type: TypeText, Data: fragment} }

func NewServerUserText(fragment string) ServerUserText {
	return ServerUserText{Type: TypeUserText, Data: fragment}
}
func NewServerTurnComplete() ServerTurnComplete { return ServerTurnComplete{Type: TypeTurnComplete} }
func NewServerInterrupted() ServerInterrupted   { return ServerInterrupted{Type: TypeInterrupted} }

func NewServerEndSession(summary string) ServerEndSession {
	return ServerEndSession{Type: TypeEndSession, Summary: summary}
}

func NewServerError(message string) ServerError {
	return ServerError{Type: TypeError, Message: message}
}

// DecodeClientMessage parses one client frame. It returns ClientAudio or
// ClientImage, or a *DecodeError describing why the frame is unusable.
// Callers are expected to drop undecodable frames rather than close the
// connection.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeAudio:
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio frame", "")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, badRequest("audio.data is required", "data")
		}
		if !validBase64(msg.Data) {
			return nil, badRequest("audio.data must be base64", "data")
		}
		return msg, nil
	case TypeImage:
		var msg ClientImage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid image frame", "")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, badRequest("image.data is required", "data")
		}
		if !validBase64(msg.Data) {
			return nil, badRequest("image.data must be base64", "data")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// DecodeServerMessage parses one relay frame on the client side. It returns
// one of the Server* message types.
func DecodeServerMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}

	switch strings.TrimSpace(envelope.Type) {
	case TypeReady:
		return ServerReady{Type: TypeReady}, nil
	case TypeAudio:
		var msg ServerAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio frame", "")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, badRequest("audio.data is required", "data")
		}
		return msg, nil
	case TypeText:
		var msg ServerText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text frame", "")
		}
		return msg, nil
	case TypeUserText:
		var msg ServerUserText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid userText frame", "")
		}
		return msg, nil
	case TypeTurnComplete:
		return ServerTurnComplete{Type: TypeTurnComplete}, nil
	case TypeInterrupted:
		return ServerInterrupted{Type: TypeInterrupted}, nil
	case TypeEndSession:
		var msg ServerEndSession
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid endSession frame", "")
		}
		return msg, nil
	case TypeError:
		var msg ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid error frame", "")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

func validBase64(s string) bool {
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}
