package runtime

import (
	"context"
	"fmt"

	"github.com/sonilabs/soni/internal/state"
)

// StartSession creates a fresh session, auto-starting the configured default
// flow so the assistant speaks first. Returns the opening messages, if any.
func (r *Runtime) StartSession(ctx context.Context, sessionID, language string) (*TurnResult, error) {
	release, err := r.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if language == "" {
		language = r.cfg.Settings().I18n.DefaultLanguage
	}
	d := state.New(sessionID, language)
	t := &turn{rt: r, d: d}

	if name := r.cfg.Settings().Conversation.DefaultFlow; name != "" {
		if err := t.d.Transition(state.Understanding); err != nil {
			return nil, err
		}
		if _, err := t.startFlow(name, nil); err != nil {
			return nil, err
		}
		if t.d.Top() != nil {
			if err := t.stepCurrent(ctx); err != nil {
				return nil, err
			}
		}
	}

	if err := r.store.Save(ctx, t.d); err != nil {
		return nil, fmt.Errorf("runtime: checkpointing session %q: %w", sessionID, err)
	}
	return &TurnResult{SessionID: sessionID, Messages: t.out, State: t.d.Conversation, Revision: t.d.Revision}, nil
}

// EndSession removes the session's checkpoint.
func (r *Runtime) EndSession(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	delete(r.locks, sessionID)
	r.mu.Unlock()
	return r.store.Delete(ctx, sessionID)
}

// Sessions lists the checkpointed session ids.
func (r *Runtime) Sessions(ctx context.Context) ([]string, error) {
	return r.store.Sessions(ctx)
}

// Dialogue returns a snapshot of a session's saved state.
func (r *Runtime) Dialogue(ctx context.Context, sessionID string) (*state.Dialogue, error) {
	return r.store.Load(ctx, sessionID)
}
