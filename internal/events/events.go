package events

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

const (
	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingRejected  = "booking.rejected"
	EventBookingCancelled = "booking.cancelled"
	EventBookingCompleted = "booking.completed"
	EventBookingNoShow    = "booking.no_show"

	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"

	EventCreditsEarned = "credits.earned"
	EventCaseOpened    = "reconciliation.case_opened"

	// AllEvents subscribes a handler to every event type.
	AllEvents = "*"
)

// BookingEventPayload describes the booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID    int64  `json:"booking_id"`
	PropertyID   int64  `json:"property_id"`
	GuestID      int64  `json:"guest_id"`
	HostID       int64  `json:"host_id"`
	Status       string `json:"status"`
	CheckIn      string `json:"check_in"`
	CheckOut     string `json:"check_out"`
	TotalAmount  int64  `json:"total_amount"`
	RefundAmount int64  `json:"refund_amount,omitempty"`
	Reason       string `json:"reason,omitempty"`
	ChangedByID  int64  `json:"changed_by_id,omitempty"`
}

func (p BookingEventPayload) EventKey() string { return keyFor("booking", p.BookingID) }

// PaymentEventPayload describes a payment or refund outcome.
type PaymentEventPayload struct {
	PaymentID    int64  `json:"payment_id"`
	BookingID    int64  `json:"booking_id"`
	OrderID      string `json:"order_id"`
	GuestID      int64  `json:"guest_id"`
	Amount       int64  `json:"amount"`
	RefundAmount int64  `json:"refund_amount"`
	Status       string `json:"status"`
	Detail       string `json:"detail,omitempty"`
}

func (p PaymentEventPayload) EventKey() string { return keyFor("booking", p.BookingID) }

// CreditEventPayload describes an awarded credit.
type CreditEventPayload struct {
	UserID   int64 `json:"user_id"`
	Amount   int64 `json:"amount"`
	ReviewID int64 `json:"review_id"`
	Balance  int64 `json:"balance"`
}

func (p CreditEventPayload) EventKey() string { return keyFor("user", p.UserID) }

// CaseEventPayload describes a newly opened reconciliation case.
type CaseEventPayload struct {
	CaseID    int64  `json:"case_id"`
	PaymentID int64  `json:"payment_id"`
	Kind      string `json:"kind"`
	Amount    int64  `json:"amount"`
}

func (p CaseEventPayload) EventKey() string { return keyFor("payment", p.PaymentID) }

type keyed interface {
	EventKey() string
}

func keyFor(prefix string, id int64) string {
	return prefix + ":" + strconv.FormatInt(id, 10)
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type, or AllEvents.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[AllEvents]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	event := Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}
	if k, ok := payload.(keyed); ok {
		event.Key = k.EventKey()
	}
	return event, nil
}
