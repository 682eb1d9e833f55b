package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arrdeck/arrdeck/internal/navigation"
	"github.com/arrdeck/arrdeck/internal/registry"
	"github.com/arrdeck/arrdeck/internal/session"
	"github.com/arrdeck/arrdeck/internal/validator"
)

var (
	errNoValidator = errors.New("bridge: connection validation not available")
	errNoNavigator = errors.New("bridge: navigation not available")
	errReloadDirty = errors.New("bridge: unsaved changes; save or discard before reloading")
)

func errUnknownScope(scope string) error {
	return fmt.Errorf("bridge: unknown scope %q", scope)
}

func errBadFrame(err error) error {
	return fmt.Errorf("bridge: malformed frame: %w", err)
}

// dispatch runs one command. Commands that mutate a session run inline so
// a client's edits apply in the order it sent them; commands that can
// block on the network or on a prompt answer run on their own goroutine.
func (s *Server) dispatch(c *Client, msg inbound) {
	switch msg.Type {
	case CmdNavigate:
		var req navigateRequest
		if !decode(c, msg, &req) {
			return
		}
		s.life.Go(func(ctx context.Context) {
			s.navigate(withClient(ctx, c), c, msg.ID, req)
		})

	case CmdSave:
		var req scopeRequest
		if !decode(c, msg, &req) {
			return
		}
		s.life.Go(func(ctx context.Context) {
			s.save(ctx, c, msg.ID, req)
		})

	case CmdInstanceValidate:
		var req instanceRequest
		if !decode(c, msg, &req) {
			return
		}
		s.life.Go(func(ctx context.Context) {
			s.validate(ctx, c, msg.ID, req)
		})

	case CmdEdit:
		var req editRequest
		if !decode(c, msg, &req) {
			return
		}
		s.edit(s.life.Context(), c, msg.ID, req)

	case CmdInstanceAdd:
		var req scopeRequest
		if !decode(c, msg, &req) {
			return
		}
		sess, err := s.session(req.Scope)
		if err != nil {
			c.replyError(msg.ID, err)
			return
		}
		index, err := sess.AddInstance()
		if err != nil {
			c.replyError(msg.ID, err)
			return
		}
		c.reply(msg.ID, indexResult{Scope: req.Scope, Index: index})

	case CmdInstanceRemove:
		var req instanceRequest
		if !decode(c, msg, &req) {
			return
		}
		sess, err := s.session(req.Scope)
		if err != nil {
			c.replyError(msg.ID, err)
			return
		}
		count := len(sess.Instances())
		if err := sess.RemoveInstance(req.Index); err != nil {
			c.replyError(msg.ID, err)
			return
		}
		if s.validator != nil {
			s.validator.Remove(req.Scope, req.Index, count)
		}
		c.reply(msg.ID, indexResult{Scope: req.Scope, Index: req.Index})

	case CmdInstanceUpdate:
		var req instanceUpdateRequest
		if !decode(c, msg, &req) {
			return
		}
		sess, err := s.session(req.Scope)
		if err != nil {
			c.replyError(msg.ID, err)
			return
		}
		patch := registry.Patch{
			Name:       req.Name,
			URL:        req.URL,
			Credential: req.Credential,
			Enabled:    req.Enabled,
			Options:    req.Options,
		}
		if err := sess.UpdateInstance(req.Index, patch); err != nil {
			c.replyError(msg.ID, err)
			return
		}
		c.reply(msg.ID, indexResult{Scope: req.Scope, Index: req.Index})

	case CmdDiscard:
		var req scopeRequest
		if !decode(c, msg, &req) {
			return
		}
		sess, err := s.session(req.Scope)
		if err != nil {
			c.replyError(msg.ID, err)
			return
		}
		sess.Discard()
		c.reply(msg.ID, viewOf(sess))

	case CmdSessionGet:
		var req scopeRequest
		if !decode(c, msg, &req) {
			return
		}
		sess, err := s.session(req.Scope)
		if err != nil {
			c.replyError(msg.ID, err)
			return
		}
		c.reply(msg.ID, viewOf(sess))

	case CmdSessionTouch:
		var req scopeRequest
		if !decode(c, msg, &req) {
			return
		}
		sess, err := s.session(req.Scope)
		if err != nil {
			c.replyError(msg.ID, err)
			return
		}
		if err := sess.MarkDirty(); err != nil {
			c.replyError(msg.ID, err)
			return
		}
		c.reply(msg.ID, viewOf(sess))

	case CmdSessionReload:
		var req scopeRequest
		if !decode(c, msg, &req) {
			return
		}
		sess, err := s.session(req.Scope)
		if err != nil {
			c.replyError(msg.ID, err)
			return
		}
		if sess.IsDirty() {
			c.replyError(msg.ID, errReloadDirty)
			return
		}
		s.life.Go(func(ctx context.Context) {
			s.reload(ctx, c, msg.ID, sess)
		})

	case CmdPromptDecision:
		var req decisionRequest
		if !decode(c, msg, &req) {
			return
		}
		if err := s.resolvePrompt(c, req); err != nil {
			c.replyError(msg.ID, err)
			return
		}
		c.reply(msg.ID, req)

	default:
		c.replyError(msg.ID, fmt.Errorf("bridge: unknown command %q", msg.Type))
	}
}

func decode(c *Client, msg inbound, dst interface{}) bool {
	if len(msg.Data) == 0 {
		c.replyError(msg.ID, fmt.Errorf("bridge: %s: missing data", msg.Type))
		return false
	}
	if err := json.Unmarshal(msg.Data, dst); err != nil {
		c.replyError(msg.ID, fmt.Errorf("bridge: %s: %w", msg.Type, err))
		return false
	}
	return true
}

func (s *Server) navigate(ctx context.Context, c *Client, id string, req navigateRequest) {
	if s.controller == nil {
		c.replyError(id, errNoNavigator)
		return
	}
	target, err := navigation.ParseSection(req.Section)
	if err != nil {
		c.replyError(id, err)
		return
	}
	outcome, err := s.controller.Navigate(ctx, target)
	res := navigateResult{Outcome: string(outcome), Section: string(s.controller.Current())}
	if err != nil {
		res.Error = err.Error()
	}
	c.reply(id, res)
}

func (s *Server) edit(ctx context.Context, c *Client, id string, req editRequest) {
	sess, err := s.session(req.Scope)
	if err != nil {
		c.replyError(id, err)
		return
	}
	if err := sess.Edit(ctx, req.Field, req.Value); err != nil {
		c.replyError(id, err)
		return
	}
	c.reply(id, viewOf(sess))
}

func (s *Server) save(ctx context.Context, c *Client, id string, req scopeRequest) {
	sess, err := s.session(req.Scope)
	if err != nil {
		c.replyError(id, err)
		return
	}
	if _, err := sess.Save(ctx); err != nil {
		c.replyError(id, err)
		return
	}
	c.reply(id, saveResult{Scope: req.Scope, StillDirty: sess.IsDirty()})
}

func (s *Server) validate(ctx context.Context, c *Client, id string, req instanceRequest) {
	if s.validator == nil {
		c.replyError(id, errNoValidator)
		return
	}
	sess, err := s.session(req.Scope)
	if err != nil {
		c.replyError(id, err)
		return
	}
	inst, err := sess.Instance(req.Index)
	if err != nil {
		c.replyError(id, err)
		return
	}

	key := validator.FieldKey(req.Scope, req.Index)
	res, err := s.validator.Validate(ctx, key, validator.Candidate{
		Scope:      req.Scope,
		URL:        inst.URL,
		Credential: inst.Credential,
		Enabled:    inst.Enabled,
	})
	switch {
	case errors.Is(err, validator.ErrSuperseded):
		c.reply(id, validateResult{Key: key, Superseded: true})
	case err != nil:
		c.replyError(id, err)
	default:
		c.reply(id, validateResult{
			Key:     key,
			Status:  string(res.Status),
			Reason:  res.Reason,
			Version: res.Version,
			Message: res.Message,
		})
	}
}

// reload drops the cached document. A session bound to the current section
// loads again at once; any other reloads on its next entry.
func (s *Server) reload(ctx context.Context, c *Client, id string, sess *session.Session) {
	sess.Invalidate(ctx)
	if s.controller != nil {
		if err := s.controller.Reenter(ctx); err != nil {
			c.replyError(id, err)
			return
		}
	}
	c.reply(id, viewOf(sess))
}

func viewOf(sess *session.Session) sessionView {
	view := sessionView{
		Scope:   sess.Scope(),
		State:   string(sess.State()),
		Dirty:   sess.IsDirty(),
		Changes: sess.Changes(),
	}
	if doc := sess.Document(); doc != nil {
		if data, err := json.Marshal(doc); err == nil {
			view.Document = data
		}
	}
	if err := sess.LastError(); err != nil {
		view.Error = err.Error()
	}
	return view
}
