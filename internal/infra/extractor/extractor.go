// Package extractor opens audio streams by piping yt-dlp into ffmpeg.
package extractor

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/szmak/djszmak-bot/internal/app/playback"
	"github.com/szmak/djszmak-bot/internal/domain/failure"
)

// Config represents extractor configuration.
type Config struct {
	YtDlpPath  string // yt-dlp executable (default "yt-dlp")
	FFmpegPath string // ffmpeg executable (default "ffmpeg")
	Format     string // yt-dlp format selector (default "bestaudio")
	SampleRate int    // Output sample rate (default 48000)
	Channels   int    // Output channels (default 2)
}

// Extractor turns video URLs into raw PCM (s16le) streams.
type Extractor struct {
	cfg Config
}

// New creates a new extractor.
func New(cfg Config) *Extractor {
	if cfg.YtDlpPath == "" {
		cfg.YtDlpPath = "yt-dlp"
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Format == "" {
		cfg.Format = "bestaudio"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	return &Extractor{cfg: cfg}
}

// Open starts yt-dlp and ffmpeg for sourceURL and returns ffmpeg's PCM output.
// The processes are killed when ctx is cancelled or the stream is closed.
func (e *Extractor) Open(ctx context.Context, sourceURL string) (playback.Stream, error) {
	// yt-dlp -f bestaudio -o - -- <url>: best audio-only format to stdout
	dl := exec.CommandContext(ctx, e.cfg.YtDlpPath,
		"-f", e.cfg.Format,
		"--quiet",
		"--no-playlist",
		"-o", "-",
		"--", sourceURL)

	// ffmpeg decodes whatever container yt-dlp produced into s16le PCM
	ff := exec.CommandContext(ctx, e.cfg.FFmpegPath,
		"-loglevel", "error", // Only show errors
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(e.cfg.SampleRate),
		"-ac", strconv.Itoa(e.cfg.Channels),
		"pipe:1")

	pipeR, pipeW, err := os.Pipe()
	if err != nil {
		return nil, failure.Stream(err, "failed to create pipe")
	}
	dl.Stdout = pipeW
	ff.Stdin = pipeR

	s := &Stream{
		sourceURL: sourceURL,
		dl:        dl,
		ff:        ff,
	}
	dl.Stderr = &s.dlStderr
	ff.Stderr = &s.ffStderr

	out, err := ff.StdoutPipe()
	if err != nil {
		pipeR.Close()
		pipeW.Close()
		return nil, failure.Stream(err, "failed to get ffmpeg stdout")
	}
	s.out = out

	if err := ff.Start(); err != nil {
		pipeR.Close()
		pipeW.Close()
		return nil, failure.Stream(err, "failed to start ffmpeg")
	}
	if err := dl.Start(); err != nil {
		pipeR.Close()
		pipeW.Close()
		_ = ff.Process.Kill()
		_ = ff.Wait()
		return nil, failure.Stream(err, "failed to start yt-dlp")
	}

	// The children hold their own copies of the pipe ends.
	pipeR.Close()
	pipeW.Close()

	zlog.Debug().Msgf("extractor: stream opened: url=%s ytdlp_pid=%d ffmpeg_pid=%d", sourceURL, dl.Process.Pid, ff.Process.Pid)
	return s, nil
}

// Stream is the PCM output of one yt-dlp | ffmpeg pipeline.
type Stream struct {
	sourceURL string
	dl        *exec.Cmd
	ff        *exec.Cmd
	out       io.ReadCloser

	dlStderr bytes.Buffer
	ffStderr bytes.Buffer

	read   atomic.Int64
	closed atomic.Bool

	waitOnce sync.Once
	waitErr  error
}

// Read reads PCM bytes from ffmpeg.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.out.Read(p)
	s.read.Add(int64(n))
	return n, err
}

// Close kills both processes and reaps them.
func (s *Stream) Close() error {
	s.closed.Store(true)
	if s.dl.Process != nil {
		_ = s.dl.Process.Kill()
	}
	if s.ff.Process != nil {
		_ = s.ff.Process.Kill()
	}
	_ = s.Wait()
	return nil
}

// Wait blocks until both processes have exited. It returns a stream error if
// the pipeline produced no data, either because a process failed or because the
// output was empty. A failure after some data was read is logged and treated as
// a normal end, as is any exit caused by Close.
func (s *Stream) Wait() error {
	s.waitOnce.Do(func() {
		ffErr := s.ff.Wait()
		dlErr := s.dl.Wait()

		if s.closed.Load() {
			return
		}

		procErr := dlErr
		stderr := s.dlStderr.String()
		if procErr == nil && ffErr != nil {
			procErr = ffErr
			stderr = s.ffStderr.String()
		}

		if s.read.Load() == 0 {
			if procErr != nil {
				s.waitErr = failure.Stream(
					errors.Wrapf(procErr, "stderr: %s", lastLine(stderr)),
					"audio extraction failed")
				return
			}
			s.waitErr = failure.Stream(errors.New("no audio data produced"), "audio extraction failed")
			return
		}

		if procErr != nil {
			zlog.Warn().Msgf("extractor: pipeline exited with error after data: url=%s bytes=%d err=%v stderr=%s",
				s.sourceURL, s.read.Load(), procErr, lastLine(stderr))
		}
	})
	return s.waitErr
}

// lastLine returns the last non-empty line of process output.
func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
