package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/clearline/assist/pkg/assist/playback"
)

// ffmpegMic captures the default microphone as 32-bit float mono PCM at the
// requested native rate, the format the resampling pipeline consumes.
type ffmpegMic struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	// carry holds the tail bytes of a sample that straddled a pipe read,
	// so the stream never loses 4-byte alignment.
	carry []byte
}

func newFFmpegMic(nativeRate int) (*ffmpegMic, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for mic capture (install ffmpeg and ensure it is in PATH)")
	}
	args, err := micFFmpegArgs(runtime.GOOS, nativeRate)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg mic capture: %w", err)
	}
	return &ffmpegMic{cmd: cmd, stdout: stdout}, nil
}

func micFFmpegArgs(goos string, nativeRate int) ([]string, error) {
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", fmt.Sprintf("%d", nativeRate),
			"-f", "f32le", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", fmt.Sprintf("%d", nativeRate),
			"-f", "f32le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("mic capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

// ReadSamples blocks for the next block of float samples. Block size varies
// with whatever ffmpeg flushed; bytes that straddle a read boundary are
// carried into the next call.
func (m *ffmpegMic) ReadSamples(buf []byte) ([]float32, error) {
	n, err := m.stdout.Read(buf)
	if n <= 0 {
		return nil, err
	}
	data := append(m.carry, buf[:n]...)
	whole := len(data) - len(data)%4

	samples := make([]float32, whole/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[4*i:])
		samples[i] = math.Float32frombits(bits)
	}
	m.carry = append(m.carry[:0], data[whole:]...)
	return samples, err
}

func (m *ffmpegMic) Close() error {
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
	}
	return nil
}

// ffplaySpeaker streams 24 kHz PCM16 to an ffplay subprocess. It doubles as
// the playback scheduler's sink: ffplay plays writes back to back, which
// matches the gapless timeline the scheduler maintains.
type ffplaySpeaker struct {
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func newFFplaySpeaker() (*ffplaySpeaker, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	s := &ffplaySpeaker{}
	if err := s.startLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ffplaySpeaker) startLocked() error {
	s.cmd = exec.Command("ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", playback.OutputRate),
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	s.cmd.Stdout = io.Discard
	s.cmd.Stderr = io.Discard
	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}
	s.stdin = stdin
	return nil
}

// Play implements playback.Sink. ffplay consumes the stream in arrival
// order, so the scheduler's start offset needs no further handling here.
func (s *ffplaySpeaker) Play(pcm []byte, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return
	}
	_, _ = s.stdin.Write(pcm)
}

func (s *ffplaySpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.stdin = nil
	return nil
}
