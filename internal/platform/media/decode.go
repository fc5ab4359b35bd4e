// Package media turns synthesized MP3 audio into playback handles. The
// handle keeps a wall clock for progress and delegates audio output to a
// Sink, so the same handle drives a real speaker or a silent device.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always decodes to 16-bit stereo.
const (
	ChannelCount   = 2
	bytesPerSample = 2
	bytesPerFrame  = ChannelCount * bytesPerSample
)

var ErrEmptyAudio = errors.New("empty audio")

// Clip is decoded audio ready for a sink.
type Clip struct {
	SampleRate int
	Duration   time.Duration
	// Decoder yields signed 16-bit little-endian stereo PCM and supports Seek.
	Decoder *mp3.Decoder
}

// Decode parses an MP3 stream and measures its duration.
func Decode(audio []byte) (*Clip, error) {
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	dec, err := mp3.NewDecoder(bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	length := dec.Length()
	if length <= 0 || dec.SampleRate() <= 0 {
		return nil, fmt.Errorf("decode mp3: no audio frames")
	}
	return &Clip{
		SampleRate: dec.SampleRate(),
		Duration:   PCMDuration(length, dec.SampleRate()),
		Decoder:    dec,
	}, nil
}

// PCMDuration is the play time of n bytes of decoded PCM at rate Hz.
func PCMDuration(n int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	frames := n / bytesPerFrame
	return time.Duration(frames) * time.Second / time.Duration(rate)
}
