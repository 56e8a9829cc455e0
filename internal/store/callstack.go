package store

import "github.com/cxapython/armtrace/internal/traceevent"

// CallAnnotator assigns (call_id, call_depth) to each event via a running
// call stack. The call event is annotated with the caller's context, then
// pushes; the return event is annotated with the callee's context, then
// pops — that ordering is deliberate, not incidental.
type CallAnnotator struct {
	stack      []uint32
	nextCallID uint32
}

// NewCallAnnotator creates an annotator with an empty stack and
// next_call_id = 1.
func NewCallAnnotator() *CallAnnotator {
	return &CallAnnotator{nextCallID: 1}
}

// Annotate sets ev.CallID/CallDepth and advances the stack. isCall/isReturn
// are evaluated by the caller (classify.IsCall/IsReturn, optionally backed
// by the native decoder) so this type stays independent of the instruction
// vocabulary.
func (c *CallAnnotator) Annotate(ev *traceevent.Event, isCall, isReturn bool) {
	ev.CallDepth = uint16(len(c.stack))
	if len(c.stack) > 0 {
		ev.CallID = c.stack[len(c.stack)-1]
	} else {
		ev.CallID = 0
	}

	switch {
	case isCall:
		c.stack = append(c.stack, c.nextCallID)
		c.nextCallID++
	case isReturn:
		if len(c.stack) > 0 {
			c.stack = c.stack[:len(c.stack)-1]
		}
	}
}
