// Package eventbus carries the event channel contract between the playback
// client and the synthesis server, and the in-process presentation events
// that report playback state.
package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// New creates a synchronous bus for presentation events. Handlers run on the
// publisher's goroutine and must not publish on the same bus.
func New() evbus.Bus {
	return evbus.New()
}

// Bus is the presentation bus type shared by publishers and subscribers.
type Bus = evbus.Bus
