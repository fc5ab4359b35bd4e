package eventbus

import "sync"

// Handler receives the JSON data of one event.
type Handler func(data []byte)

// Channel is the bidirectional event channel to the synthesis server.
type Channel interface {
	Emit(event string, payload any) error
	On(event string, h Handler) *Subscription
}

// Subscription detaches one handler. Unsubscribe is idempotent.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Dispatcher fans channel events out to registered handlers. Handlers can be
// removed individually, including from inside a running handler. Dispatches
// on different goroutines do not wait for each other.
type Dispatcher struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string]map[uint64]Handler
}

// NewDispatcher creates a dispatcher with every known channel event wired.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]map[uint64]Handler)}
	for _, event := range ChannelEvents {
		d.handlers[event] = make(map[uint64]Handler)
	}
	return d
}

// On registers h for event.
func (d *Dispatcher) On(event string, h Handler) *Subscription {
	d.mu.Lock()
	set, known := d.handlers[event]
	if !known {
		set = make(map[uint64]Handler)
		d.handlers[event] = set
	}
	d.nextID++
	id := d.nextID
	set[id] = h
	d.mu.Unlock()

	return &Subscription{cancel: func() {
		d.mu.Lock()
		delete(d.handlers[event], id)
		d.mu.Unlock()
	}}
}

// Dispatch delivers data to every handler of event on the calling goroutine.
func (d *Dispatcher) Dispatch(event string, data []byte) {
	d.deliver(event, data)
}

// HandlerCount reports how many handlers are attached to event.
func (d *Dispatcher) HandlerCount(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[event])
}

func (d *Dispatcher) deliver(event string, data []byte) {
	d.mu.RLock()
	set := d.handlers[event]
	hs := make([]Handler, 0, len(set))
	for _, h := range set {
		hs = append(hs, h)
	}
	d.mu.RUnlock()

	for _, h := range hs {
		h(data)
	}
}
