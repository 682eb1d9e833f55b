package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/arrdeck/arrdeck/internal/navigation"
)

var errUnknownPrompt = errors.New("bridge: unknown or expired prompt")

// Guard asks the client that requested a navigation what to do with
// unsaved changes. No answer within the prompt timeout, a disconnect, or
// a navigation that did not come from a client all mean Stay.
func (s *Server) Guard(ctx context.Context, p navigation.Prompt) navigation.Decision {
	c := clientFrom(ctx)
	if c == nil {
		s.logger.Printf("[Bridge] unsaved changes in %v with no client to ask, staying on %s", p.Scopes, p.From)
		return navigation.Stay
	}

	id := uuid.NewString()
	reply := make(chan navigation.Decision, 1)
	s.promptsMu.Lock()
	s.prompts[id] = pendingPrompt{client: c, reply: reply}
	s.promptsMu.Unlock()
	defer func() {
		s.promptsMu.Lock()
		delete(s.prompts, id)
		s.promptsMu.Unlock()
	}()

	sent := c.enqueue(Message{
		Type: TypeNavigationPrompt,
		ID:   id,
		Data: promptPayload{
			PromptID: id,
			From:     string(p.From),
			To:       string(p.To),
			Scopes:   p.Scopes,
		},
		Timestamp: time.Now().UTC(),
	})
	if !sent {
		return navigation.Stay
	}

	timer := time.NewTimer(s.promptTimeout)
	defer timer.Stop()

	select {
	case d := <-reply:
		return d
	case <-timer.C:
		s.logger.Printf("[Bridge] prompt %s for client %s timed out, staying on %s", id, c.id, p.From)
	case <-c.done:
	case <-ctx.Done():
	}
	return navigation.Stay
}

// resolvePrompt delivers a decision to the waiting guard. Only the client
// that was asked may answer.
func (s *Server) resolvePrompt(c *Client, req decisionRequest) error {
	s.promptsMu.Lock()
	pending, ok := s.prompts[req.PromptID]
	if ok && pending.client == c {
		delete(s.prompts, req.PromptID)
	}
	s.promptsMu.Unlock()

	if !ok || pending.client != c {
		return errUnknownPrompt
	}
	pending.reply <- navigation.ParseDecision(req.Decision)
	return nil
}
