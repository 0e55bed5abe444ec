// Command assist is a terminal client for a live assist session: it streams
// the microphone to the relay, plays the assistant's speech, and prints the
// transcript as turns complete.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/clearline/assist/pkg/assist/archive"
	"github.com/clearline/assist/pkg/assist/capture"
	"github.com/clearline/assist/pkg/assist/client"
	"github.com/clearline/assist/pkg/assist/controller"
	"github.com/clearline/assist/pkg/assist/playback"
	"github.com/clearline/assist/pkg/assist/transcript"
)

type options struct {
	relayURL   string
	nativeRate int
	archiveDir string
	archiveDSN string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("assist", flag.ContinueOnError)
	fs.StringVar(&opts.relayURL, "relay-url", "ws://localhost:8080/v1/assist", "relay websocket URL")
	fs.IntVar(&opts.nativeRate, "native-rate", 48000, "microphone capture rate in Hz")
	fs.StringVar(&opts.archiveDir, "archive-dir", "sessions", "directory for archived session JSON")
	fs.StringVar(&opts.archiveDSN, "archive-dsn", "", "Postgres DSN; overrides -archive-dir when set")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func newArchiver(ctx context.Context, opts options) (controller.Archiver, func(), error) {
	if opts.archiveDSN != "" {
		store, err := archive.NewStore(ctx, opts.archiveDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return archive.FileArchiver{Dir: opts.archiveDir}, func() {}, nil
}

// session bundles the pieces one live conversation needs.
type session struct {
	mic       *ffmpegMic
	speaker   *ffplaySpeaker
	pipeline  *capture.Pipeline
	scheduler *playback.Scheduler
	conn      *client.Client
	ctrl      *controller.Controller

	stopped atomic.Bool

	// micLevel holds the float64 bits of the most recent frame's RMS level.
	// Muted capture produces no frames, so the meter freezes at its last
	// value while muted.
	micLevel atomic.Uint64
}

func (s *session) setLevel(l float64) { s.micLevel.Store(math.Float64bits(l)) }
func (s *session) level() float64     { return math.Float64frombits(s.micLevel.Load()) }

// Stop implements controller.Hardware. Safe to call more than once.
func (s *session) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	_ = s.mic.Close()
	_ = s.speaker.Close()
	_ = s.conn.Close()
}

func run(ctx context.Context, opts options, logger *slog.Logger, out io.Writer) error {
	archiver, closeArchiver, err := newArchiver(ctx, opts)
	if err != nil {
		return fmt.Errorf("init archiver: %w", err)
	}
	defer closeArchiver()

	// Hardware acquisition comes first; a missing device means the session
	// never reaches the relay.
	mic, err := newFFmpegMic(opts.nativeRate)
	if err != nil {
		return err
	}
	speaker, err := newFFplaySpeaker()
	if err != nil {
		_ = mic.Close()
		return err
	}

	pipeline, err := capture.NewPipeline(opts.nativeRate)
	if err != nil {
		_ = mic.Close()
		_ = speaker.Close()
		return err
	}
	scheduler := playback.NewScheduler(playback.NewSystemClock(), speaker)

	conn, err := client.Dial(ctx, opts.relayURL)
	if err != nil {
		_ = mic.Close()
		_ = speaker.Close()
		return err
	}

	sess := &session{
		mic:       mic,
		speaker:   speaker,
		pipeline:  pipeline,
		scheduler: scheduler,
		conn:      conn,
	}

	done := make(chan struct{})
	ctrl, err := controller.New(controller.Dependencies{
		Scheduler: scheduler,
		Archiver:  archiver,
		Hardware:  sess,
		Logger:    logger,
		Callbacks: controller.Callbacks{
			OnReady: func() {
				fmt.Fprintln(out, "session ready. Speak when you like (type /mute, /unmute, /level, /snap <jpeg>, or /end)")
			},
			OnTranscriptEntry: func(e transcript.Entry) {
				fmt.Fprintf(out, "[%s] %s\n", e.Speaker, e.Text)
			},
			OnEnded: func(s controller.ArchivedSession) {
				fmt.Fprintf(out, "session ended: %s\n", s.Summary)
				close(done)
			},
			OnError: func(msg string) {
				fmt.Fprintf(out, "session error: %s\n", msg)
			},
		},
	})
	if err != nil {
		sess.Stop()
		return err
	}
	sess.ctrl = ctrl

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go micLoop(runCtx, sess, logger)
	go readLoop(runCtx, sess)
	go tickLoop(runCtx, ctrl)
	go commandLoop(runCtx, sess, os.Stdin, out)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-done:
	case <-sigCh:
		ctrl.End(context.Background())
		<-done
	case <-ctx.Done():
		ctrl.End(context.Background())
		<-done
	}
	return nil
}

// micLoop pushes captured samples through the resampling pipeline and ships
// complete frames to the relay.
func micLoop(ctx context.Context, sess *session, logger *slog.Logger) {
	buf := make([]byte, 16384)
	for ctx.Err() == nil {
		samples, err := sess.mic.ReadSamples(buf)
		for _, frame := range sess.pipeline.Push(samples) {
			sess.setLevel(capture.Level(frame))
			if sendErr := sess.conn.SendAudioFrame(frame); sendErr != nil {
				return
			}
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				logger.Warn("mic read failed", "error", err)
			}
			return
		}
	}
}

// readLoop feeds relay messages into the state machine.
func readLoop(ctx context.Context, sess *session) {
	for ctx.Err() == nil {
		ev, err := sess.conn.ReadEvent()
		sess.ctrl.HandleEvent(ctx, ev)
		if err != nil {
			return
		}
	}
}

// tickLoop re-derives the speaking/listening status so it decays when the
// assistant goes quiet.
func tickLoop(ctx context.Context, ctrl *controller.Controller) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ctrl.Tick()
		}
	}
}

func commandLoop(ctx context.Context, sess *session, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "/mute":
			sess.pipeline.SetMuted(true)
			fmt.Fprintln(out, "mic muted")
		case "/unmute":
			sess.pipeline.SetMuted(false)
			fmt.Fprintln(out, "mic live")
		case "/level":
			fmt.Fprintf(out, "input level: %.3f\n", sess.level())
		case "/snap":
			if err := sendSnapshot(sess, strings.TrimSpace(arg)); err != nil {
				fmt.Fprintf(out, "snapshot failed: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "snapshot sent")
		case "/end":
			sess.ctrl.End(ctx)
			return
		}
	}
}

// sendSnapshot ships a JPEG from disk to the relay so the assistant can see
// what the user is looking at.
func sendSnapshot(sess *session, path string) error {
	if path == "" {
		return errors.New("usage: /snap <path-to-jpeg>")
	}
	jpeg, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return sess.conn.SendImage(jpeg)
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "assist: load .env: %v\n", err)
		os.Exit(1)
	}

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if err := run(context.Background(), opts, logger, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "assist: %v\n", err)
		os.Exit(1)
	}
}
