package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/autopeer-io/devgate/internal/pkg/metrics"
	"github.com/autopeer-io/devgate/pkg/log"
	"github.com/autopeer-io/devgate/pkg/options"
)

// Transcoder converts arbitrary audio into an Ogg Opus stream.
type Transcoder interface {
	Transcode(ctx context.Context, src []byte, mimeType string) ([]byte, error)
}

// maxStderr caps the ffmpeg diagnostics kept for error messages.
const maxStderr = 512

// FFmpegTranscoder shells out to ffmpeg. It produces mono Opus tuned for
// speech at the configured sample rate and bitrate.
type FFmpegTranscoder struct {
	path       string
	sampleRate int
	bitrate    string
	timeout    time.Duration
	sem        *semaphore.Weighted
}

var _ Transcoder = (*FFmpegTranscoder)(nil)

func NewFFmpegTranscoder(opts *options.AudioOptions) *FFmpegTranscoder {
	return &FFmpegTranscoder{
		path:       opts.FFmpegPath,
		sampleRate: opts.SampleRate,
		bitrate:    opts.Bitrate,
		timeout:    opts.TranscodeTimeout,
		sem:        semaphore.NewWeighted(max(opts.MaxConcurrent, 1)),
	}
}

// Args returns the ffmpeg arguments for an input file.
func (t *FFmpegTranscoder) Args(input string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(t.sampleRate),
		"-c:a", "libopus",
		"-b:a", t.bitrate,
		"-vbr", "on",
		"-compression_level", "10",
		"-application", "voip",
		"-f", "opus",
		"pipe:1",
	}
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, src []byte, mimeType string) ([]byte, error) {
	if len(src) == 0 {
		return nil, errors.New("source audio is empty")
	}
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.sem.Release(1)

	// Containers such as mp4 need a seekable input, so stage through a file.
	in, err := os.CreateTemp("", "devgate-alert-*"+extensionFor(mimeType))
	if err != nil {
		return nil, fmt.Errorf("create temp input: %w", err)
	}
	defer os.Remove(in.Name())
	if _, err := in.Write(src); err != nil {
		in.Close()
		return nil, fmt.Errorf("write temp input: %w", err)
	}
	if err := in.Close(); err != nil {
		return nil, fmt.Errorf("close temp input: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, t.path, t.Args(in.Name())...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	metrics.TranscodeDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("ffmpeg exceeded %s", t.timeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String(), maxStderr))
	}

	log.Debug("Transcoded audio alert", "inputBytes", len(src), "outputBytes", stdout.Len(),
		"duration", time.Since(start))
	return stdout.Bytes(), nil
}

func extensionFor(mimeType string) string {
	mt, _, _ := strings.Cut(strings.ToLower(mimeType), ";")
	switch strings.TrimSpace(mt) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a", "audio/aac":
		return ".m4a"
	case "audio/webm":
		return ".webm"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	}
	return ""
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
