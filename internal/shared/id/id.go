// Package id generates the identifiers carried by trace spans and kernel snapshots.
//
// Trace and span IDs are ULIDs behind a short type prefix ("trace_", "span_"), so the span
// feed sorts by creation time and a reader can tell the two apart. A kernel boot is named by a
// random UUID.
package id

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// TraceID identifies one traced request or IPC exchange
type TraceID string

// SpanID identifies one operation within a trace
type SpanID string

// InstanceID identifies one kernel boot
type InstanceID string

const (
	TracePrefix = "trace"
	SpanPrefix  = "span"
)

func (id TraceID) String() string    { return string(id) }
func (id SpanID) String() string     { return string(id) }
func (id InstanceID) String() string { return string(id) }

// source hands out ULIDs that increase strictly even within one millisecond.
type source struct {
	mu      sync.Mutex
	entropy io.Reader
}

var ids = &source{entropy: ulid.Monotonic(rand.Reader, 0)}

func (s *source) next(prefix string, now time.Time) string {
	s.mu.Lock()
	u := ulid.MustNew(ulid.Timestamp(now), s.entropy)
	s.mu.Unlock()
	return prefix + "_" + u.String()
}

// NewTraceID generates a new trace ID
func NewTraceID() TraceID {
	return TraceID(ids.next(TracePrefix, time.Now()))
}

// NewSpanID generates a new span ID
func NewSpanID() SpanID {
	return SpanID(ids.next(SpanPrefix, time.Now()))
}

// NewInstanceID generates a random boot identifier.
func NewInstanceID() InstanceID {
	return InstanceID(uuid.NewString())
}

// Parse returns the ULID inside a prefixed ID.
func Parse(id string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return ulid.Parse(id)
}

// IsValid reports whether id is a ULID, prefixed or not.
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// Time returns the creation time encoded in id.
func Time(id string) (time.Time, error) {
	u, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
