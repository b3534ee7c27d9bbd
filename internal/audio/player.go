package audio

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"
)

// Player starts playback of a buffer and returns without waiting for it.
type Player interface {
	Play(buf *Buffer) error
}

// OtoPlayer plays buffers on the system audio device.
type OtoPlayer struct {
	ctx        *oto.Context
	sampleRate int
	channels   int
	logger     *zap.Logger

	mu     sync.Mutex
	active *oto.Player
}

// NewOtoPlayer initializes the audio device. Only one oto context may exist
// per process.
func NewOtoPlayer(sampleRate, channels int, logger *zap.Logger) (*OtoPlayer, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio device: %w", err)
	}
	<-readyChan

	logger.Info("audio player initialized", zap.Int("sample_rate", sampleRate), zap.Int("channels", channels))
	return &OtoPlayer{ctx: ctx, sampleRate: sampleRate, channels: channels, logger: logger}, nil
}

// Play interrupts any current playback and starts buf.
func (p *OtoPlayer) Play(buf *Buffer) error {
	if buf.SampleRate != p.sampleRate || len(buf.Channels) != p.channels {
		return fmt.Errorf("audio: buffer format %dHz/%dch does not match device %dHz/%dch",
			buf.SampleRate, len(buf.Channels), p.sampleRate, p.channels)
	}

	player := p.ctx.NewPlayer(bytes.NewReader(buf.Float32LE()))

	p.mu.Lock()
	if p.active != nil {
		p.active.Pause()
	}
	p.active = player
	p.mu.Unlock()

	player.Play()
	p.logger.Debug("audio playback started", zap.Duration("duration", buf.Duration()))

	go p.release(player)
	return nil
}

func (p *OtoPlayer) release(player *oto.Player) {
	for player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}

	p.mu.Lock()
	if p.active == player {
		p.active = nil
	}
	p.mu.Unlock()

	if err := player.Close(); err != nil {
		p.logger.Warn("failed to close audio player", zap.Error(err))
	}
}

// NoopPlayer discards audio. Used when no device is configured.
type NoopPlayer struct {
	logger *zap.Logger
}

// NewNoopPlayer creates a NoopPlayer.
func NewNoopPlayer(logger *zap.Logger) *NoopPlayer {
	return &NoopPlayer{logger: logger}
}

// Play logs and drops buf.
func (p *NoopPlayer) Play(buf *Buffer) error {
	p.logger.Debug("audio playback skipped", zap.Duration("duration", buf.Duration()))
	return nil
}
