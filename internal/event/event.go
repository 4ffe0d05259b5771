// Package event defines the sequenced social-graph event wire format and
// the reorder queue that restores sequence order over an arbitrarily
// out-of-order stream of them.
package event

import (
	"fmt"
	"strconv"
	"strings"
)

// Code identifies the kind of routing a parsed Event requires.
type Code byte

const (
	Follow       Code = 'F'
	Unfollow     Code = 'U'
	Broadcast    Code = 'B'
	Private      Code = 'P'
	StatusUpdate Code = 'S'
)

// commandLengths is the exact pipe-delimited token count required per code:
// F/U/P need a from and to user, B carries no user ids, S carries only a
// from user.
var commandLengths = map[Code]int{
	Follow:       4,
	Unfollow:     4,
	Broadcast:    2,
	Private:      4,
	StatusUpdate: 3,
}

// Event is an immutable record parsed from one event-source line.
type Event struct {
	Raw      string // original payload, retained byte-for-byte for re-emission
	Seq      int
	Code     Code
	FromUser string
	ToUser   string
}

// Less orders events by sequence number; it backs the reorder queue's heap.
func (e *Event) Less(other *Event) bool {
	return e.Seq < other.Seq
}

// ParseError reports why a line failed validation. The event source
// connection is dropped whenever this is returned.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid event %q: %s", e.Line, e.Reason)
}

// FromString parses a pipe-delimited event line, or returns a *ParseError
// if the line is malformed in any of the ways the wire protocol forbids.
func FromString(line string) (*Event, error) {
	tokens := strings.Split(line, "|")

	if len(tokens) < 2 {
		return nil, &ParseError{Line: line, Reason: "fewer than 2 tokens"}
	}

	seq, err := strconv.Atoi(tokens[0])
	if err != nil {
		return nil, &ParseError{Line: line, Reason: "first token is not an integer"}
	}
	if seq <= 0 {
		return nil, &ParseError{Line: line, Reason: "sequence number must be positive"}
	}

	if len(tokens[1]) != 1 {
		return nil, &ParseError{Line: line, Reason: "invalid command code"}
	}
	code := Code(tokens[1][0])
	wantLen, ok := commandLengths[code]
	if !ok {
		return nil, &ParseError{Line: line, Reason: "invalid command code"}
	}
	if len(tokens) != wantLen {
		return nil, &ParseError{Line: line, Reason: "invalid command length"}
	}

	for i := 2; i < wantLen; i++ {
		if tokens[i] == "" {
			return nil, &ParseError{Line: line, Reason: "empty value for user id"}
		}
	}

	ev := &Event{Raw: line, Seq: seq, Code: code}
	if wantLen >= 3 {
		ev.FromUser = tokens[2]
	}
	if wantLen >= 4 {
		ev.ToUser = tokens[3]
	}
	return ev, nil
}
