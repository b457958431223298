// Package events carries engine notifications to subscribers such as the
// websocket hub and the log.
package events

import (
	"sync"
	"time"
)

// Type names an engine event
type Type string

const (
	AreaAdded      Type = "area_added"
	AreaRemoved    Type = "area_removed"
	AreaEnabled    Type = "area_enabled"
	AreaDisabled   Type = "area_disabled"
	TextRecognized Type = "text_recognized"
	RuleMatched    Type = "rule_matched"
	EngineStarted  Type = "engine_started"
	EngineStopped  Type = "engine_stopped"
	TaskAdded      Type = "task_added"
	TaskRemoved    Type = "task_removed"
	TaskStarted    Type = "task_started"
	TaskCompleted  Type = "task_completed"
	TaskFailed     Type = "task_failed"
	ActionStarted  Type = "action_started"
	ActionDone     Type = "action_completed"
	SequenceDone   Type = "sequence_completed"
	Notification   Type = "notification"
	ErrorOccurred  Type = "error_occurred"
)

// Event is a single notification. Data holds event specific fields.
type Event struct {
	Type Type                   `json:"type"`
	Time time.Time              `json:"time"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// Publisher is the sending side of the bus
type Publisher interface {
	Publish(t Type, data map[string]interface{})
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	now    func() time.Time
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event), now: time.Now}
}

// Publish sends an event to every subscriber
func (b *Bus) Publish(t Type, data map[string]interface{}) {
	if b == nil {
		return
	}
	ev := Event{Type: t, Time: b.now(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel receiving future events and a function that
// unsubscribes and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Discard is a Publisher that drops everything
type Discard struct{}

func (Discard) Publish(Type, map[string]interface{}) {}
