package eventbus

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventNodeJoined     EventType = "NODE_JOINED"
	EventNodeLeft       EventType = "NODE_LEFT"
	EventIDAssigned     EventType = "ID_ASSIGNED"
	EventParentChosen   EventType = "PARENT_CHOSEN"
	EventRouteLearned   EventType = "ROUTE_LEARNED"
	EventRouteForgot    EventType = "ROUTE_FORGOT"
	EventFrameSent      EventType = "FRAME_SENT"
	EventFrameRelayed   EventType = "FRAME_RELAYED"
	EventFrameDelivered EventType = "FRAME_DELIVERED"
	EventFrameDropped   EventType = "FRAME_DROPPED"
	EventSendFailed     EventType = "SEND_FAILED"
)

// Event holds details that the front end and the metrics collector need.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      EventType `json:"type"`
	NodeID    byte      `json:"node_id"`
	OtherID   byte      `json:"other_id"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus manages a set of subscribers and publishes events to them.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
}

func New() *Bus {
	return &Bus{subscribers: make([]chan Event, 0)}
}

// Publish stamps e with an id and timestamp and sends it to all
// subscribers. Sends are non-blocking; a full subscriber drops events.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	e.ID = uuid.New()
	e.Timestamp = time.Now()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub <- e:
		default:
			log.Println("Dropping event: subscriber channel is full")
		}
	}
}

// Subscribe returns a new channel that will receive published events.
func (b *Bus) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 100)
	b.subscribers = append(b.subscribers, ch)
	return ch
}
