/*
events.go - Side-effect boundary of the booking engine

PURPOSE:
  Everything that leaves the process after a commit: domain events for
  notification/CRM consumers, meeting links and IELTS test sessions. These
  run only after the store transaction committed. A failure is logged and
  never undoes the booking change.

PORTS:
  Emitter:       publishes Event (notify.Queue pushes to Redis)
  MeetingLinker: produces the join URL of a new lesson
  TestSessions:  provisions the IELTS test session of a unit
  SlotLocker:    optional distributed lock around booking creation

SEE ALSO:
  - notify/: Redis-backed Emitter and TestSessions
  - lock/: Redis-backed SlotLocker
*/
package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/lesson-booking/generic"
)

// =============================================================================
// EVENTS
// =============================================================================

type EventType string

const (
	EventBookingCreated  EventType = "booking.created"
	EventStatusChanged   EventType = "booking.status_changed"
	EventTimeChanged     EventType = "booking.time_changed"
	EventMemoSubmitted   EventType = "booking.memo_submitted"
	EventBestMemoChanged EventType = "booking.best_memo_changed"
	EventUnitChanged     EventType = "booking.unit_changed"
	EventRecommendation  EventType = "booking.recommendation_letter"
)

// Event is published after a committed change.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	BookingID  generic.BookingID `json:"booking_id"`
	StudentID  generic.StudentID `json:"student_id"`
	TeacherID  generic.TeacherID `json:"teacher_id"`
	From       generic.Status    `json:"from,omitempty"`
	To         generic.Status    `json:"to,omitempty"`
	ActorID    int64             `json:"actor_id"`
	ActorRole  generic.Role      `json:"actor_role"`
	Reason     string            `json:"reason,omitempty"`
	RelatedID  generic.BookingID `json:"related_id,omitempty"`
	OccurredAt int64             `json:"occurred_at"`
}

func newEvent(typ EventType, b generic.Booking, actor generic.Actor, now int64) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		BookingID:  b.ID,
		StudentID:  b.StudentID,
		TeacherID:  b.TeacherID,
		To:         b.Status,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		OccurredAt: now,
	}
}

// =============================================================================
// PORTS
// =============================================================================

type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

type MeetingLinker interface {
	GenerateJoinURL(ctx context.Context, b generic.Booking) (string, error)
}

type TestSessions interface {
	CreateOrUpdateSession(ctx context.Context, b generic.Booking, topicID string) error
}

// SlotLocker serializes creation attempts on one key across processes.
// The returned func releases the lock. Lock returns generic.ErrSlotLocked
// when the key is held elsewhere.
type SlotLocker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// =============================================================================
// IN-PROCESS IMPLEMENTATIONS
// =============================================================================

// NopEmitter drops every event.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) error { return nil }

// MemoryEmitter records events. Used by tests and the demo server.
type MemoryEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryEmitter) Emit(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (m *MemoryEmitter) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// URLLinker builds join URLs from a base URL and the booking uid.
type URLLinker struct {
	BaseURL string
}

func (l URLLinker) GenerateJoinURL(_ context.Context, b generic.Booking) (string, error) {
	if l.BaseURL == "" {
		return "", fmt.Errorf("meeting base url not configured")
	}
	return fmt.Sprintf("%s/%s", l.BaseURL, b.UID), nil
}
