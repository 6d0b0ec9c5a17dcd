package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/session/model"
	"github.com/Leochrono/dinero-tikee-sub001/internal/platform/clientstore"
)

// tokenRecord is the persisted token bundle layout.
type tokenRecord struct {
	AccessToken string            `json:"access_token"`
	User        model.UserSummary `json:"user"`
	SavedAt     time.Time         `json:"saved_at"`
}

// activityRecord is the persisted last-activity stamp layout.
type activityRecord struct {
	At time.Time `json:"at"`
}

// loadTokenRecord reads the stored bundle. A record that cannot be decoded
// is treated exactly like a missing one and removed so it cannot poison
// later initializations.
func (c *Controller) loadTokenRecord(ctx context.Context) (tokenRecord, bool) {
	raw, ok, err := c.store.Get(ctx, clientstore.RecordTokens)
	if err != nil {
		c.logger.Warn("session: reading token record failed: %v", err)
		return tokenRecord{}, false
	}
	if !ok {
		return tokenRecord{}, false
	}
	var record tokenRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		c.logger.Warn("session: discarding malformed token record: %v", err)
		_ = c.store.Delete(ctx, clientstore.RecordTokens)
		return tokenRecord{}, false
	}
	return record, true
}

func (c *Controller) saveTokenRecord(ctx context.Context, record tokenRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, clientstore.RecordTokens, raw)
}

func (c *Controller) loadActivityRecord(ctx context.Context) time.Time {
	raw, ok, err := c.store.Get(ctx, clientstore.RecordActivity)
	if err != nil || !ok {
		return time.Time{}
	}
	var record activityRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		_ = c.store.Delete(ctx, clientstore.RecordActivity)
		return time.Time{}
	}
	return record.At
}

func (c *Controller) saveActivityRecord(ctx context.Context, at time.Time) {
	raw, err := json.Marshal(activityRecord{At: at})
	if err != nil {
		return
	}
	if err := c.store.Put(ctx, clientstore.RecordActivity, raw); err != nil {
		c.logger.Warn("session: persisting activity stamp failed: %v", err)
	}
}
