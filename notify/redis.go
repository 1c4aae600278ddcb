/*
redis.go - Redis-backed outbound queues

PURPOSE:
  Publishes booking events and IELTS test-session requests as JSON onto
  Redis lists. Downstream workers (notifications, CRM sync, the test
  platform) pop from the other end. Writes happen after the booking
  transaction committed; a failure here is logged by the caller and the
  booking change stands.

KEYS:
  <prefix>:events         booking.Event documents, RPUSH
  <prefix>:test_sessions  testSessionJob documents, RPUSH

SEE ALSO:
  - booking/events.go: Emitter and TestSessions ports
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/warp/lesson-booking/booking"
	"github.com/warp/lesson-booking/generic"
)

const defaultPrefix = "lesson-booking"

type Queue struct {
	client redis.UniversalClient
	prefix string
	// maxLen caps each list; zero keeps everything.
	maxLen int64
}

type Option func(*Queue)

func WithPrefix(p string) Option { return func(q *Queue) { q.prefix = p } }
func WithMaxLen(n int64) Option  { return func(q *Queue) { q.maxLen = n } }

func NewQueue(client redis.UniversalClient, opts ...Option) *Queue {
	q := &Queue{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) EventsKey() string       { return q.prefix + ":events" }
func (q *Queue) TestSessionsKey() string { return q.prefix + ":test_sessions" }

// Emit implements booking.Emitter.
func (q *Queue) Emit(ctx context.Context, e booking.Event) error {
	return q.push(ctx, q.EventsKey(), e)
}

type testSessionJob struct {
	BookingID generic.BookingID `json:"booking_id"`
	UID       string            `json:"uid"`
	StudentID generic.StudentID `json:"student_id"`
	TeacherID generic.TeacherID `json:"teacher_id"`
	TopicID   string            `json:"topic_id"`
	StartTime int64             `json:"start_time"`
	EndTime   int64             `json:"end_time"`
}

// CreateOrUpdateSession implements booking.TestSessions. The consumer
// upserts by booking id, so repeated unit edits are safe.
func (q *Queue) CreateOrUpdateSession(ctx context.Context, b generic.Booking, topicID string) error {
	return q.push(ctx, q.TestSessionsKey(), testSessionJob{
		BookingID: b.ID,
		UID:       b.UID,
		StudentID: b.StudentID,
		TeacherID: b.TeacherID,
		TopicID:   topicID,
		StartTime: b.SlotStart(),
		EndTime:   b.SlotEnd(),
	})
}

// Depth returns the number of queued events.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.EventsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("notify.Depth: %w", err)
	}
	return n, nil
}

func (q *Queue) push(ctx context.Context, key string, v any) error {
	const op = "notify.push"

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	if q.maxLen > 0 {
		pipe.LTrim(ctx, key, -q.maxLen, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
	return nil
}
