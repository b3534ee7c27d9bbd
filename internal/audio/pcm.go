// Package audio decodes synthesized speech and plays it on the local device.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Speech output format.
const (
	SpeechSampleRate   = 24000
	SpeechChannelCount = 1
)

// ErrOddLength is returned when PCM data is not a whole number of 16-bit samples.
var ErrOddLength = errors.New("audio: pcm data has odd length")

// Buffer holds de-interleaved float samples in [-1, 1).
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames is the number of samples per channel.
func (b *Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration is the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// DecodePCM16 converts little-endian signed 16-bit interleaved PCM into a
// Buffer. Each sample is divided by 32768. Trailing samples that do not fill a
// whole frame are dropped.
func DecodePCM16(data []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	if len(data)%2 != 0 {
		return nil, ErrOddLength
	}

	samples := len(data) / 2
	frames := samples / channels
	buf := &Buffer{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}

	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(data[off:]))
			buf.Channels[ch][i] = float32(s) / 32768.0
		}
	}
	return buf, nil
}

// Float32LE interleaves the buffer into little-endian float32 bytes.
func (b *Buffer) Float32LE() []byte {
	frames := b.Frames()
	var out bytes.Buffer
	out.Grow(frames * len(b.Channels) * 4)
	var word [4]byte
	for i := 0; i < frames; i++ {
		for _, ch := range b.Channels {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(ch[i]))
			out.Write(word[:])
		}
	}
	return out.Bytes()
}
