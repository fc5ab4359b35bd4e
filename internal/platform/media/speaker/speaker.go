// Package speaker plays media through the system audio device.
package speaker

import (
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"

	"chatvoice/internal/domain/playback"
	"chatvoice/internal/platform/media"
)

// Factory opens handles on a shared oto context. oto allows one context per
// process, so the sample rate is fixed by the first clip played.
type Factory struct {
	opts media.Options

	mu   sync.Mutex
	ctx  *oto.Context
	rate int
}

func New(opts media.Options) *Factory {
	return &Factory{opts: opts}
}

func (f *Factory) Open(audio []byte, events playback.MediaEvents) (playback.Media, error) {
	return media.Open(audio, events, f.opts, f.newSink), nil
}

func (f *Factory) newSink(clip *media.Clip) (media.Sink, error) {
	ctx, err := f.context(clip.SampleRate)
	if err != nil {
		return nil, err
	}
	return &sink{player: ctx.NewPlayer(clip.Decoder)}, nil
}

func (f *Factory) context(rate int) (*oto.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ctx != nil {
		if rate != f.rate {
			return nil, fmt.Errorf("audio device runs at %d Hz, clip is %d Hz", f.rate, rate)
		}
		return f.ctx, nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: media.ChannelCount,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	f.ctx = ctx
	f.rate = rate
	if f.opts.Logger != nil {
		f.opts.Logger.InfoTag("Media", "audio device ready (rate=%d, channels=%d)", rate, media.ChannelCount)
	}
	return ctx, nil
}

type sink struct {
	player *oto.Player
}

func (s *sink) Play() error {
	s.player.Play()
	return nil
}

func (s *sink) Pause() error {
	s.player.Pause()
	return nil
}

func (s *sink) Rewind() error {
	_, err := s.player.Seek(0, io.SeekStart)
	return err
}

func (s *sink) Close() error {
	return s.player.Close()
}

func (s *sink) Drained() bool {
	return !s.player.IsPlaying()
}

func (s *sink) Err() error {
	return s.player.Err()
}
