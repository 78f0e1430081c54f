package runtime

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sonilabs/soni/internal/state"
)

// EventKind discriminates stream events.
type EventKind string

const (
	// EventToken is reserved for understanders that stream generated text;
	// the built-in executors emit whole messages.
	EventToken   EventKind = "token"
	EventMessage EventKind = "message"
	EventHandoff EventKind = "handoff"
	EventError   EventKind = "error"
	EventDone    EventKind = "done"
)

// Event is one item on a turn's event stream.
type Event struct {
	Kind    EventKind
	Text    string
	Queue   string
	Context map[string]any
	Err     error

	// State accompanies the done event.
	State state.ConversationState
}

// StreamTurn processes a turn and delivers its outbound messages as an event
// stream. The channel is closed after the done (or error) event. The stream
// respects context cancellation: an abandoned consumer does not leak the
// producing goroutine.
func (r *Runtime) StreamTurn(ctx context.Context, sessionID, message string) <-chan Event {
	ch := make(chan Event, r.streamBuffer)

	emit := func(ev Event) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := r.ProcessTurn(ctx, sessionID, message)
		if err != nil {
			emit(Event{Kind: EventError, Err: err})
			return err
		}
		for _, m := range res.Messages {
			var ev Event
			switch m.Kind {
			case state.OutHandoff:
				ev = Event{Kind: EventHandoff, Queue: m.Queue, Context: m.Context}
			default:
				ev = Event{Kind: EventMessage, Text: m.Text}
			}
			if !emit(ev) {
				return ctx.Err()
			}
		}
		emit(Event{Kind: EventDone, State: res.State})
		return nil
	})

	go func() {
		_ = g.Wait()
		close(ch)
	}()
	return ch
}
