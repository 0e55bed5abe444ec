package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"google.golang.org/genai"
)

const (
	// EndSessionTool is the single tool declared to the backend. The agent
	// calls it to finish the conversation with a wrap-up summary.
	EndSessionTool = "endSession"

	inputAudioMIME = "audio/pcm;rate=16000"
	imageMIME      = "image/jpeg"

	assistInstructions = "You are a live technical support assistant. Help the user " +
		"diagnose and resolve their issue over voice, one step at a time. Speak " +
		"plainly and keep each reply short. When the issue is resolved or the user " +
		"asks to stop, call endSession with a one-sentence summary of what happened."
)

// GeminiConfig configures the Gemini Live dialer.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiDialer opens Gemini Live sessions configured for this system:
// audio responses, input/output transcription, and the endSession tool.
type GeminiDialer struct {
	cfg    GeminiConfig
	client *genai.Client
}

func NewGeminiDialer(ctx context.Context, cfg GeminiConfig) (*GeminiDialer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("gemini model is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiDialer{cfg: cfg, client: client}, nil
}

func (d *GeminiDialer) Dial(ctx context.Context) (Session, error) {
	live, err := d.client.Live.Connect(ctx, d.cfg.Model, &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assistInstructions}},
		},
		Tools: []*genai.Tool{{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        EndSessionTool,
				Description: "End the assist session once the issue is resolved or the user asks to stop.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"summary": {
							Type:        genai.TypeString,
							Description: "One-sentence summary of the session outcome.",
						},
					},
					Required: []string{"summary"},
				},
			}},
		}},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	})
	if err != nil {
		return nil, fmt.Errorf("connect gemini live: %w", err)
	}

	s := &geminiSession{
		live:   live,
		events: make(chan Event, 32),
		done:   make(chan struct{}),
	}
	go s.receiveLoop()
	return s, nil
}

type geminiSession struct {
	live      *genai.Session
	events    chan Event
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

func (s *geminiSession) Events() <-chan Event { return s.events }

func (s *geminiSession) SendAudio(pcm []byte) error {
	if s.closed.Load() {
		return errors.New("upstream session is closed")
	}
	return s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{MIMEType: inputAudioMIME, Data: pcm},
	})
}

func (s *geminiSession) SendImage(jpeg []byte) error {
	if s.closed.Load() {
		return errors.New("upstream session is closed")
	}
	return s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{MIMEType: imageMIME, Data: jpeg},
	})
}

func (s *geminiSession) AckTool(inv ToolInvocation) error {
	if s.closed.Load() {
		return errors.New("upstream session is closed")
	}
	return s.live.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{{
			ID:       inv.ID,
			Name:     inv.Name,
			Response: map[string]any{"status": "ok"},
		}},
	})
}

func (s *geminiSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		if s.live != nil {
			_ = s.live.Close()
		}
	})
	return nil
}

func (s *geminiSession) receiveLoop() {
	defer close(s.events)
	for {
		msg, err := s.live.Receive()
		if err != nil {
			if s.closed.Load() || errors.Is(err, io.EOF) {
				return
			}
			s.emit(Event{Kind: EventError, Err: err})
			return
		}
		for _, ev := range translateServerMessage(msg) {
			if !s.emit(ev) {
				return
			}
		}
	}
}

// emit delivers an event unless the session was closed. Selecting on done
// keeps the receive loop from blocking forever when the consumer has
// already gone away with a full buffer.
func (s *geminiSession) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// translateServerMessage flattens one backend message into zero or more
// normalized events, in arrival order.
func translateServerMessage(msg *genai.LiveServerMessage) []Event {
	if msg == nil {
		return nil
	}
	var out []Event

	if msg.SetupComplete != nil {
		out = append(out, Event{Kind: EventReady})
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			out = append(out, Event{Kind: EventUserText, Text: sc.InputTranscription.Text})
		}
		if sc.Interrupted {
			out = append(out, Event{Kind: EventInterrupted})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			out = append(out, Event{Kind: EventText, Text: sc.OutputTranscription.Text})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil {
					continue
				}
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					out = append(out, Event{Kind: EventAudio, Audio: part.InlineData.Data})
				}
			}
		}
		if sc.TurnComplete {
			out = append(out, Event{Kind: EventTurnComplete})
		}
	}

	if tc := msg.ToolCall; tc != nil {
		for _, call := range tc.FunctionCalls {
			inv, err := validateToolCall(call)
			if err != nil {
				// Unknown or malformed tool calls stop at this boundary.
				continue
			}
			out = append(out, Event{Kind: EventToolCall, Tool: inv})
		}
	}

	return out
}

func validateToolCall(call *genai.FunctionCall) (ToolInvocation, error) {
	if call == nil {
		return ToolInvocation{}, errors.New("nil function call")
	}
	if call.Name != EndSessionTool {
		return ToolInvocation{}, fmt.Errorf("unsupported tool %q", call.Name)
	}
	summary := ""
	if raw, ok := call.Args["summary"]; ok {
		s, ok := raw.(string)
		if !ok {
			return ToolInvocation{}, errors.New("endSession summary must be a string")
		}
		summary = strings.TrimSpace(s)
	}
	return ToolInvocation{ID: call.ID, Name: call.Name, Summary: summary}, nil
}
