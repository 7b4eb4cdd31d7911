package console

import (
	"sync"
	"time"

	"github.com/faqbot/console/internal/models"
)

type EventType string

const (
	EventAnswer       EventType = "answer"
	EventChannelState EventType = "channel_state"
	EventSessionEnded EventType = "session_ended"
)

// Event is a local notification for attached UIs. It reports what this
// console observed; backend-side changes still require a refresh.
type Event struct {
	Type    EventType `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

const subscriberBuffer = 32

// Hub fans events out to subscribers. A subscriber that falls behind loses
// events rather than blocking the publisher.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func NewHub() *Hub {
	return &Hub{subs: map[int]chan Event{}}
}

// Subscribe returns a channel of events and a function that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(t EventType, payload any) {
	ev := Event{Type: t, At: time.Now(), Payload: payload}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Console) wireEvents() {
	c.Query.OnAnswer(func(h models.HistoryEntry) {
		c.Events.Publish(EventAnswer, h)
	})
	c.Telegram.OnStateChange(func(from, to models.ServiceState) {
		c.Events.Publish(EventChannelState, map[string]any{
			"channel": c.Telegram.Channel(),
			"from":    from,
			"to":      to,
		})
	})
	c.Session.OnLogout(func() {
		c.Events.Publish(EventSessionEnded, nil)
	})
}
