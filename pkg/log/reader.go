package log

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events from a capture. Zero-valued fields match
// everything; set fields must all match.
type Filter struct {
	// ConnectionID matches a link ID by prefix, so the eight characters
	// shown by the viewer are enough.
	ConnectionID string

	Direction *Direction
	Layer     *Layer
	Category  *Category

	// Since and Until bound the timestamp to [Since, Until).
	Since time.Time
	Until time.Time

	// PeerSystemID matches the system ID announced by the peer.
	PeerSystemID uint8

	// MessageName matches wire events for one schema message.
	MessageName string

	// StateEntity matches state changes of one entity, for example only
	// the lifecycle manager's transitions.
	StateEntity *StateEntity

	// Control matches one control message type (ping, pong, close).
	Control *ControlMsgType
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	switch {
	case f.ConnectionID != "" && !strings.HasPrefix(e.ConnectionID, f.ConnectionID):
		return false
	case f.Direction != nil && e.Direction != *f.Direction:
		return false
	case f.Layer != nil && e.Layer != *f.Layer:
		return false
	case f.Category != nil && e.Category != *f.Category:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && !e.Timestamp.Before(f.Until):
		return false
	case f.PeerSystemID != 0 && e.PeerSystemID != f.PeerSystemID:
		return false
	case f.MessageName != "" && (e.Message == nil || e.Message.Name != f.MessageName):
		return false
	case f.StateEntity != nil && (e.StateChange == nil || e.StateChange.Entity != *f.StateEntity):
		return false
	case f.Control != nil && (e.ControlMsg == nil || e.ControlMsg.Type != *f.Control):
		return false
	}
	return true
}

// Reader streams events from a .vlog capture.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
	read    int
}

// NewReader opens path for reading every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens path for reading the events that match filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, decoder: NewDecoder(f), filter: filter}, nil
}

// Next returns the next matching event, or io.EOF at the end of the
// capture. A damaged record is reported with its position.
func (r *Reader) Next() (Event, error) {
	for {
		var e Event
		if err := r.decoder.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("event %d: %w", r.read+1, err)
		}
		r.read++

		if r.filter.Match(e) {
			return e, nil
		}
	}
}

// Each calls fn for every remaining matching event. It stops at the end of
// the capture, on a read error or when fn returns an error.
func (r *Reader) Each(fn func(Event) error) error {
	for {
		e, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

// Count returns the number of events decoded so far, matching or not.
func (r *Reader) Count() int {
	return r.read
}

// Close closes the capture file.
func (r *Reader) Close() error {
	return r.file.Close()
}
