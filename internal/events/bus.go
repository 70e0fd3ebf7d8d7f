// Package events is an in-process publish/subscribe bus for pipeline
// outcomes. The chat pipeline, summarizer, and transcript upload handler
// publish; the MQTT forwarder subscribes. Publishing on a nil *Bus is a no-op,
// so components run the same with or without a bus wired in.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceChat       = "chat"
	SourceSummary    = "summary"
	SourceTranscript = "transcript"
)

// Kinds.
const (
	// KindReply is one answered message or one-shot question.
	// Data: session_id, video_id, user_id, outcome, provider, model,
	// elapsed_ms.
	KindReply = "reply"
	// KindQuotaExceeded is a request rejected by the daily limit.
	// Data: user_id, video_id, used, limit.
	KindQuotaExceeded = "quota_exceeded"
	// KindFallback is a generation failure replaced by fallback text.
	// Data: video_id, error.
	KindFallback = "fallback"
	// KindSummarized is a completed video summary.
	// Data: video_id, sections, provider, elapsed_ms.
	KindSummarized = "summarized"
	// KindIngested is a stored transcript.
	// Data: video_id, strategy, segments, words.
	KindIngested = "ingested"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus broadcasts events to buffered subscriber channels. A subscriber
// whose buffer is full misses the event; publishers never block.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish delivers e to every subscriber with room for it.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel of future events with the given buffer.
// Callers must Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown or
// already removed channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(send)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
