// Package playback drives reply audio through a media device while tracking
// the sentence being spoken, and sequences playback across a conversation.
package playback

import "time"

// MediaEvents are delivered by a Media from its own goroutines. A Media must
// never invoke them synchronously from inside one of its methods.
type MediaEvents struct {
	OnReady      func()
	OnTimeUpdate func(elapsed time.Duration)
	OnError      func(err error)
	OnEnded      func()
}

// Media is one loaded audio handle.
type Media interface {
	Play() error
	Pause() error
	SeekStart() error
	// Release frees the device and stops all further events.
	Release()
	// Duration is valid once OnReady has fired.
	Duration() time.Duration
}

// MediaFactory opens audio for playback. Loading completes asynchronously
// with OnReady or OnError.
type MediaFactory interface {
	Open(audio []byte, events MediaEvents) (Media, error)
}
