// Package synthesis turns streamed tts:audio chunks into cached reply audio.
package synthesis

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"chatvoice/internal/domain/audiocache"
	"chatvoice/internal/platform/logging"
)

const logTag = "Synthesis"

// Assembler buffers fragments per message id until the final chunk arrives.
// Buffers for different messages are independent, so interleaved streams are
// safe.
type Assembler struct {
	mu      sync.Mutex
	buffers map[string][][]byte
	cache   *audiocache.Cache
	logger  *logging.Logger
}

// NewAssembler creates an assembler that persists finished audio to cache.
// A nil cache skips persistence.
func NewAssembler(cache *audiocache.Cache, logger *logging.Logger) *Assembler {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Assembler{
		buffers: make(map[string][][]byte),
		cache:   cache,
		logger:  logger,
	}
}

// Add appends a fragment to the message's buffer, creating it if needed.
func (a *Assembler) Add(messageID string, fragment []byte) {
	if messageID == "" {
		return
	}
	a.mu.Lock()
	a.buffers[messageID] = append(a.buffers[messageID], fragment)
	a.mu.Unlock()
}

// Finalize concatenates the buffered fragments in arrival order, stores the
// result in the cache and drops the buffer. It reports false when there was
// no buffer or nothing in it.
func (a *Assembler) Finalize(ctx context.Context, messageID string) ([]byte, bool) {
	a.mu.Lock()
	fragments, ok := a.buffers[messageID]
	delete(a.buffers, messageID)
	a.mu.Unlock()

	if !ok || len(fragments) == 0 {
		return nil, false
	}
	audio := bytes.Join(fragments, nil)
	if len(audio) == 0 {
		return nil, false
	}

	if a.cache != nil {
		result := a.cache.Put(ctx, messageID, audio)
		a.logger.DebugTag(logTag, "assembled %s: %d fragments, %d bytes, cache %s",
			messageID, len(fragments), len(audio), result)
	}
	return audio, true
}

// Discard drops a buffer without assembling it.
func (a *Assembler) Discard(messageID string) {
	a.mu.Lock()
	delete(a.buffers, messageID)
	a.mu.Unlock()
}

// Pending lists message ids with an open buffer, sorted.
func (a *Assembler) Pending() []string {
	a.mu.Lock()
	ids := make([]string, 0, len(a.buffers))
	for id := range a.buffers {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	sort.Strings(ids)
	return ids
}
