package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seantiz/taskloop/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Event is a status change of one task.
type Event struct {
	ID     string       `json:"id"`
	TaskID model.ID     `json:"task_id"`
	Status model.Status `json:"status"`
	Error  string       `json:"error,omitempty"`
	Time   time.Time    `json:"time"`
}

func newEvent(t *model.Task, at time.Time) Event {
	return Event{
		ID:     uuid.NewString(),
		TaskID: t.ID,
		Status: t.Status,
		Error:  t.Error,
		Time:   at,
	}
}

// EventBroker fans out task events to subscribers. It is safe for concurrent
// use.
//
// Closed topics are retained as markers until Forget so that late subscribers
// receive a closed channel instead of blocking forever.
type EventBroker struct {
	mu     sync.Mutex
	topics map[model.ID]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[model.ID]*eventTopic),
	}
}

// Subscribe returns a channel that receives events for the given task and an
// unsubscribe function. If the task's stream is already closed, the returned
// channel is closed.
func (b *EventBroker) Subscribe(id model.ID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[id]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan Event)}
		b.topics[id] = t
	}

	ch := make(chan Event, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	subID := t.nextID
	t.nextID++
	t.subs[subID] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := t.subs[subID]; ok {
			delete(t.subs, subID)
			close(ch)
		}
	}
}

// Publish sends ev to all subscribers of its task. Events are dropped for
// subscribers whose buffers are full.
func (b *EventBroker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.TaskID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Drop the event rather than block the update loop.
		}
	}
}

// Close signals that no more events will be published for the task. All
// subscriber channels are closed and future Subscribe calls return a closed
// channel.
func (b *EventBroker) Close(id model.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[id]
	if !ok {
		b.topics[id] = &eventTopic{subs: make(map[int]chan Event), closed: true}
		return
	}
	if t.closed {
		return
	}

	t.closed = true
	for subID, ch := range t.subs {
		close(ch)
		delete(t.subs, subID)
	}
}

// Forget closes the task's stream and drops its topic entirely.
func (b *EventBroker) Forget(id model.ID) {
	b.Close(id)

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, id)
}
