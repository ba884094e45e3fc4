package engine

import (
	"sync"
	"time"
)

// EventKind identifies a task event.
type EventKind string

const (
	EventTaskStart   EventKind = "task_start"
	EventTaskEnd     EventKind = "task_end"
	EventStateChange EventKind = "state_change"
	EventStepStart   EventKind = "step_start"
	EventStepEnd     EventKind = "step_end"
	EventObservation EventKind = "observation"
	EventConfirm     EventKind = "confirm_requested"
	EventWarning     EventKind = "warning"
)

// Event is a typed notification emitted while a task runs.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	TaskID    string         `json:"task_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter delivers events to the host over a buffered channel.
// Emission never blocks the engine: when the consumer falls behind,
// events are dropped.
type EventEmitter struct {
	taskID string
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

// NewEventEmitter creates an emitter with the given buffer.
func NewEventEmitter(taskID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		taskID: taskID,
		ch:     make(chan Event, bufferSize),
	}
}

// Emit sends an event. Dropped when closed or the buffer is full.
func (e *EventEmitter) Emit(kind EventKind, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		TaskID:    e.taskID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.ch
}

// Close closes the channel. Safe to call more than once.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
