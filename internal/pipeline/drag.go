package pipeline

import (
	"context"
	"errors"
	"math"

	loopfsm "github.com/looplab/fsm"
)

// DragState is the phase of a drag gesture.
type DragState string

const (
	DragIdle       DragState = "idle"
	DragPressed    DragState = "pressed"
	DragDragging   DragState = "dragging"
	DragCommitting DragState = "committing"
)

const (
	eventPress    = "press"
	eventActivate = "activate"
	eventDrop     = "drop"
	eventSettle   = "settle"
	eventCancel   = "cancel"
)

// DefaultActivationDistance is how far the pointer must travel after
// pressing before a press becomes a drag.
const DefaultActivationDistance = 8.0

var dragEvents = loopfsm.Events{
	{Name: eventPress, Src: []string{string(DragIdle)}, Dst: string(DragPressed)},
	{Name: eventActivate, Src: []string{string(DragPressed)}, Dst: string(DragDragging)},
	{Name: eventDrop, Src: []string{string(DragDragging)}, Dst: string(DragCommitting)},
	{Name: eventSettle, Src: []string{string(DragCommitting)}, Dst: string(DragIdle)},
	{Name: eventCancel, Src: []string{string(DragPressed), string(DragDragging)}, Dst: string(DragIdle)},
}

// Point is a pointer position in board coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Drop is a requested stage change produced by a completed gesture.
type Drop struct {
	ItemID string
	From   Stage
	To     Stage
}

// DragSession tracks one gesture from press to release. It is not safe for
// concurrent use; Board serialises access.
type DragSession struct {
	machine   *loopfsm.FSM
	threshold float64
	itemID    string
	origin    Stage
	start     Point
}

// NewDragSession returns an idle session. A non-positive threshold selects
// DefaultActivationDistance.
func NewDragSession(threshold float64) *DragSession {
	if threshold <= 0 {
		threshold = DefaultActivationDistance
	}
	return &DragSession{
		machine:   loopfsm.NewFSM(string(DragIdle), dragEvents, nil),
		threshold: threshold,
	}
}

// State returns the current phase.
func (s *DragSession) State() DragState {
	return DragState(s.machine.Current())
}

// ItemID returns the pressed or dragged item, empty when idle.
func (s *DragSession) ItemID() string {
	if s.State() == DragIdle {
		return ""
	}
	return s.itemID
}

// Origin returns the stage the gesture started from.
func (s *DragSession) Origin() Stage {
	if s.State() == DragIdle {
		return ""
	}
	return s.origin
}

// Press starts a gesture on itemID. An unfinished press or drag is
// abandoned first; a committing gesture rejects new presses.
func (s *DragSession) Press(ctx context.Context, itemID string, origin Stage, at Point) error {
	switch s.State() {
	case DragCommitting:
		return ErrCommitInFlight
	case DragPressed, DragDragging:
		s.Cancel(ctx)
	}
	if err := s.fire(ctx, eventPress); err != nil {
		return err
	}
	s.itemID = itemID
	s.origin = origin
	s.start = at
	return nil
}

// Move reports whether the gesture is a drag after the pointer moved to at.
// The press turns into a drag once the pointer has travelled at least the
// activation distance from where it was pressed.
func (s *DragSession) Move(ctx context.Context, at Point) (bool, error) {
	switch s.State() {
	case DragDragging:
		return true, nil
	case DragPressed:
		if math.Hypot(at.X-s.start.X, at.Y-s.start.Y) < s.threshold {
			return false, nil
		}
		if err := s.fire(ctx, eventActivate); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// Release ends the gesture over the container of stage over, or over no
// container when valid is false. A Drop is returned, and the session moves to
// committing, only when a drag ends over a valid stage other than its origin.
// Every other release returns to idle without a drop.
func (s *DragSession) Release(ctx context.Context, over Stage, valid bool) (Drop, bool, error) {
	switch s.State() {
	case DragCommitting:
		return Drop{}, false, ErrCommitInFlight
	case DragIdle:
		return Drop{}, false, nil
	case DragPressed:
		s.Cancel(ctx)
		return Drop{}, false, nil
	}
	if !valid || over == s.origin {
		s.Cancel(ctx)
		return Drop{}, false, nil
	}
	if err := s.fire(ctx, eventDrop); err != nil {
		return Drop{}, false, err
	}
	return Drop{ItemID: s.itemID, From: s.origin, To: over}, true, nil
}

// Settle returns a committing session to idle once the remote call resolved.
func (s *DragSession) Settle(ctx context.Context) error {
	if s.State() != DragCommitting {
		return nil
	}
	if err := s.fire(ctx, eventSettle); err != nil {
		return err
	}
	s.reset()
	return nil
}

// Cancel abandons an uncommitted gesture. It has no effect while idle or
// committing.
func (s *DragSession) Cancel(ctx context.Context) {
	if !s.machine.Can(eventCancel) {
		return
	}
	if err := s.fire(ctx, eventCancel); err == nil {
		s.reset()
	}
}

func (s *DragSession) reset() {
	s.itemID = ""
	s.origin = ""
	s.start = Point{}
}

func (s *DragSession) fire(ctx context.Context, event string) error {
	err := s.machine.Event(ctx, event)
	var noTransition loopfsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return err
	}
	return nil
}
