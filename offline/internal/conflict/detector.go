// Package conflict decides whether a queued mutation has been overtaken by the
// server and, if so, which side should win.
package conflict

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dsbaciga/captainslog/offline/internal/entity"
	sferrors "github.com/dsbaciga/captainslog/offline/internal/errors"
	"github.com/dsbaciga/captainslog/offline/internal/types"
)

// Fetcher reads the server's current copy of an entity. A nil payload with a
// nil error means the server answered with no record.
type Fetcher interface {
	Get(ctx context.Context, endpoint, id string) (types.Payload, error)
}

// Detector compares queued mutations with the server's copy.
type Detector struct {
	fetch Fetcher
	log   zerolog.Logger
}

// NewDetector returns a Detector reading through f.
func NewDetector(f Fetcher, log zerolog.Logger) *Detector {
	return &Detector{fetch: f, log: log}
}

// Detect returns the conflict for m, or nil when m can be pushed as is. Only
// update and delete mutations are checked. Fetch failures other than 404 are
// treated as "no conflict"; the push that follows will surface them.
func (d *Detector) Detect(ctx context.Context, kind entity.Kind, m types.PendingMutation) *types.ConflictInfo {
	if m.Operation != types.OpUpdate && m.Operation != types.OpDelete {
		return nil
	}

	server, err := d.fetch.Get(ctx, kind.Endpoint(), m.EntityID)
	switch {
	case err != nil && sferrors.IsNotFound(err):
		server = nil
	case err != nil:
		d.log.Debug().Err(err).
			Str("entity_type", m.EntityType).
			Str("entity_id", m.EntityID).
			Str("error_kind", sferrors.Kind(err)).
			Msg("conflict check failed, assuming no conflict")
		return nil
	}

	info := &types.ConflictInfo{
		EntityType:     m.EntityType,
		EntityID:       m.EntityID,
		LocalID:        m.LocalID,
		TripID:         m.TripID,
		LocalData:      m.Data,
		LocalTimestamp: m.Timestamp,
	}
	if server == nil {
		return info
	}

	serverTS := ModifiedAt(server)
	if serverTS <= m.Timestamp {
		return nil
	}
	info.ServerData = server
	info.ServerTimestamp = serverTS
	return info
}

// ModifiedAt extracts the server's modification time in unix milliseconds
// from updatedAt. RFC 3339 strings and numeric millisecond values are
// accepted; anything else yields 0.
func ModifiedAt(p types.Payload) int64 {
	switch v := p["updatedAt"].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UnixMilli()
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case time.Time:
		return v.UnixMilli()
	}
	return 0
}
