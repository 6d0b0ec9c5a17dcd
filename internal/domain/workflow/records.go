package workflow

import (
	"context"
	"encoding/json"

	"github.com/Leochrono/dinero-tikee-sub001/internal/platform/clientstore"
)

// persistDraftLocked writes the current draft record. Caller holds c.mu.
func (c *Controller) persistDraftLocked(ctx context.Context) error {
	if c.draft == nil {
		return c.store.Delete(ctx, clientstore.RecordDraft)
	}
	raw, err := json.Marshal(c.draft)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, clientstore.RecordDraft, raw)
}

// loadDraft reads the persisted draft. An unreadable record is removed so
// it cannot poison later resumes.
func (c *Controller) loadDraft(ctx context.Context) (*Draft, bool) {
	raw, ok, err := c.store.Get(ctx, clientstore.RecordDraft)
	if err != nil {
		c.logger.Warn("workflow: reading draft record failed: %v", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var draft Draft
	if err := json.Unmarshal(raw, &draft); err != nil {
		c.logger.Warn("workflow: discarding malformed draft record: %v", err)
		_ = c.store.Delete(ctx, clientstore.RecordDraft)
		return nil, false
	}
	return &draft, true
}

func (c *Controller) saveDeferred(ctx context.Context, action DeferredAction) error {
	raw, err := json.Marshal(action)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, clientstore.RecordDeferred, raw)
}

func (c *Controller) loadDeferred(ctx context.Context) (DeferredAction, bool) {
	raw, ok, err := c.store.Get(ctx, clientstore.RecordDeferred)
	if err != nil {
		c.logger.Warn("workflow: reading deferred record failed: %v", err)
		return DeferredAction{}, false
	}
	if !ok {
		return DeferredAction{}, false
	}
	var action DeferredAction
	if err := json.Unmarshal(raw, &action); err != nil {
		c.logger.Warn("workflow: discarding malformed deferred record: %v", err)
		_ = c.store.Delete(ctx, clientstore.RecordDeferred)
		return DeferredAction{}, false
	}
	return action, true
}
