package media

import "chatvoice/internal/domain/playback"

// SilentFactory plays audio on a clock without an output device. Hosts
// without a sound card use it, and it keeps highlighting and sequencing
// working the same way.
type SilentFactory struct {
	opts   Options
	decode func([]byte) (*Clip, error)
}

func NewSilentFactory(opts Options) *SilentFactory {
	return &SilentFactory{opts: opts.withDefaults(), decode: Decode}
}

func (f *SilentFactory) Open(audio []byte, events playback.MediaEvents) (playback.Media, error) {
	return open(audio, events, f.opts, f.decode, func(*Clip) (Sink, error) {
		return silentSink{}, nil
	}), nil
}

type silentSink struct{}

func (silentSink) Play() error   { return nil }
func (silentSink) Pause() error  { return nil }
func (silentSink) Rewind() error { return nil }
func (silentSink) Close() error  { return nil }
func (silentSink) Drained() bool { return true }
func (silentSink) Err() error    { return nil }
