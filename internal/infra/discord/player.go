package discord

import (
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/hraban/opus.v2"

	"github.com/szmak/djszmak-bot/internal/app/playback"
	"github.com/szmak/djszmak-bot/internal/domain/failure"
)

// Voice audio format: 20ms frames of 48kHz stereo s16le.
const (
	sampleRate    = 48000
	channels      = 2
	frameSize     = 960 // samples per channel per frame
	maxPacketSize = 4000
)

// frameEncoder encodes one PCM frame into an Opus packet.
type frameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// newEncoder creates a music-tuned Opus encoder.
func newEncoder(bitrate int) (frameEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create opus encoder")
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			zlog.Warn().Msgf("discord: failed to set opus bitrate: bitrate=%d err=%v", bitrate, err)
		}
	}
	return enc, nil
}

// opusPlayer reads PCM from a stream, encodes it and sends the packets to a
// voice connection.
type opusPlayer struct {
	stream   playback.Stream
	encoder  frameEncoder
	send     chan<- []byte
	speaking func(bool) error

	mu       sync.Mutex
	state    playback.PlayerState
	resumeCh chan struct{}
	volume   atomic.Int32

	stop      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan error
}

func newOpusPlayer(stream playback.Stream, encoder frameEncoder, send chan<- []byte, speaking func(bool) error) *opusPlayer {
	p := &opusPlayer{
		stream:   stream,
		encoder:  encoder,
		send:     send,
		speaking: speaking,
		state:    playback.PlayerIdle,
		stop:     make(chan struct{}),
		done:     make(chan error, 1),
	}
	p.volume.Store(100)
	return p
}

// start begins sending in the background.
func (p *opusPlayer) start() {
	p.mu.Lock()
	p.state = playback.PlayerPlaying
	p.mu.Unlock()
	go p.run()
}

// fail ends a player that never started.
func (p *opusPlayer) fail(err error) {
	p.closeStream()
	p.finish(failure.Stream(err, "failed to start voice playback"))
}

func (p *opusPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == playback.PlayerPlaying {
		p.state = playback.PlayerPaused
		p.resumeCh = make(chan struct{})
	}
}

func (p *opusPlayer) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == playback.PlayerPaused {
		p.state = playback.PlayerPlaying
		close(p.resumeCh)
		p.resumeCh = nil
	}
}

func (p *opusPlayer) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	// Unblocks a pending Read.
	p.closeStream()
}

func (p *opusPlayer) SetVolume(percent int) {
	p.volume.Store(int32(percent))
}

func (p *opusPlayer) State() playback.PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *opusPlayer) Done() <-chan error {
	return p.done
}

func (p *opusPlayer) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

func (p *opusPlayer) closeStream() {
	p.closeOnce.Do(func() {
		_ = p.stream.Close()
	})
}

func (p *opusPlayer) finish(err error) {
	p.mu.Lock()
	p.state = playback.PlayerStopped
	p.mu.Unlock()
	p.done <- err
}

// run owns the speaking flag and the encoder.
func (p *opusPlayer) run() {
	p.setSpeaking(true)

	sendErr := p.pump()

	p.setSpeaking(false)
	if p.stopped() {
		p.closeStream()
		p.finish(nil)
		return
	}

	// Wait before Close so a failed extraction is still reported.
	waitErr := p.stream.Wait()
	p.closeStream()
	if waitErr != nil {
		p.finish(waitErr)
		return
	}
	p.finish(sendErr)
}

// pump sends frames until the stream ends, the player is stopped, or a frame
// fails to decode or encode.
func (p *opusPlayer) pump() error {
	raw := make([]byte, frameSize*channels*2)
	pcm := make([]int16, frameSize*channels)
	packet := make([]byte, maxPacketSize)

	for {
		if !p.waitWhilePaused() {
			return nil
		}

		if _, err := io.ReadFull(p.stream, raw); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || p.stopped() {
				return nil
			}
			return failure.Stream(err, "failed to read audio stream")
		}

		decodeFrame(raw, pcm, int(p.volume.Load()))

		n, err := p.encoder.Encode(pcm, packet)
		if err != nil {
			return failure.Stream(err, "opus encode failed")
		}
		frame := make([]byte, n)
		copy(frame, packet[:n])

		select {
		case p.send <- frame:
		case <-p.stop:
			return nil
		}
	}
}

// waitWhilePaused blocks while paused. It returns false if the player was stopped.
func (p *opusPlayer) waitWhilePaused() bool {
	p.mu.Lock()
	resumeCh := p.resumeCh
	p.mu.Unlock()
	if resumeCh == nil {
		return !p.stopped()
	}

	p.setSpeaking(false)
	select {
	case <-resumeCh:
		p.setSpeaking(true)
		return true
	case <-p.stop:
		return false
	}
}

func (p *opusPlayer) setSpeaking(on bool) {
	if p.speaking == nil {
		return
	}
	if err := p.speaking(on); err != nil {
		zlog.Debug().Msgf("discord: failed to set speaking: on=%t err=%v", on, err)
	}
}

// decodeFrame converts little-endian s16 PCM to samples scaled by volume percent.
func decodeFrame(raw []byte, pcm []int16, volume int) {
	for i := range pcm {
		sample := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		if volume != 100 {
			sample = int16(int32(sample) * int32(volume) / 100)
		}
		pcm[i] = sample
	}
}
