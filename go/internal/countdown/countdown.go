package countdown

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// QueryParam carries the countdown start across the navigation to the play route.
const QueryParam = "countdown"

var ErrBadPayload = errors.New("invalid countdown payload")

// Event is the only payload sent on the countdown channel.
type Event struct {
	StartedAt int64 `json:"started_at"` // unix milliseconds, server clock
}

// NewEvent builds an Event from a server timestamp.
func NewEvent(startedAt time.Time) Event {
	return Event{StartedAt: startedAt.UnixMilli()}
}

// Time returns the start instant.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.StartedAt)
}

// Validate rejects zero and negative timestamps.
func (e Event) Validate() error {
	if e.StartedAt <= 0 {
		return fmt.Errorf("%w: started_at must be positive", ErrBadPayload)
	}
	return nil
}

// Broadcaster fans countdown events out to every listener of a session. Delivery is
// fire-and-forget: late subscribers do not see earlier events.
type Broadcaster interface {
	Broadcast(ctx context.Context, sessionID uuid.UUID, evt Event) error
	Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan Event, func(), error)
}

// Remaining is how much of the countdown is left at now. Every client computing it
// with the same event and the same synchronized clock gets the same answer.
func Remaining(startedAt time.Time, total time.Duration, now time.Time) time.Duration {
	left := startedAt.Add(total).Sub(now)
	if left < 0 {
		return 0
	}
	if left > total {
		return total
	}
	return left
}

// SecondsLeft rounds Remaining up to whole seconds for display.
func SecondsLeft(startedAt time.Time, total time.Duration, now time.Time) int {
	left := Remaining(startedAt, total, now)
	return int(math.Ceil(left.Seconds()))
}

// PlayQuery encodes an event as query parameters for the play route.
func PlayQuery(evt Event) url.Values {
	q := url.Values{}
	q.Set(QueryParam, strconv.FormatInt(evt.StartedAt, 10))
	return q
}

// ParsePlayQuery reads the countdown start from play route parameters.
// ok is false when the navigation came without a countdown.
func ParsePlayQuery(q url.Values) (Event, bool, error) {
	raw := q.Get(QueryParam)
	if raw == "" {
		return Event{}, false, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Event{}, false, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	evt := Event{StartedAt: ms}
	if err := evt.Validate(); err != nil {
		return Event{}, false, err
	}
	return evt, true, nil
}
