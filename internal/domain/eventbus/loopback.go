package eventbus

import (
	"errors"
	"sync/atomic"
)

// ErrChannelClosed is returned by Emit after Close.
var ErrChannelClosed = errors.New("event channel closed")

// Loopback is an in-process Channel: every emitted event is delivered to the
// handlers registered on the same Loopback, asynchronously and in emit order.
// An embedded synthesizer listens for tts:start and emits tts:audio on it.
type Loopback struct {
	dispatcher *Dispatcher
	queue      *orderedQueue
	closed     atomic.Bool
}

func NewLoopback() *Loopback {
	return &Loopback{
		dispatcher: NewDispatcher(),
		queue:      newOrderedQueue(),
	}
}

func (l *Loopback) Emit(event string, payload any) error {
	if l.closed.Load() {
		return ErrChannelClosed
	}
	data, err := Encode(payload)
	if err != nil {
		return err
	}
	if !l.queue.Push(func() { l.dispatcher.Dispatch(event, data) }) {
		return ErrChannelClosed
	}
	return nil
}

func (l *Loopback) On(event string, h Handler) *Subscription {
	return l.dispatcher.On(event, h)
}

// HandlerCount reports attached handlers for event.
func (l *Loopback) HandlerCount(event string) int {
	return l.dispatcher.HandlerCount(event)
}

// Fail raises a local channel:error, as a transport does when it breaks.
func (l *Loopback) Fail(reason string) {
	data, _ := Encode(ChannelErrorData{Reason: reason})
	l.queue.Push(func() { l.dispatcher.Dispatch(EventChannelError, data) })
}

// Close stops delivery. Later emits fail with ErrChannelClosed.
func (l *Loopback) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.queue.Stop()
	return nil
}
