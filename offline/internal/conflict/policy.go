package conflict

import (
	"reflect"

	"github.com/dsbaciga/captainslog/offline/internal/types"
)

// metadataFields are bookkeeping fields ignored when deciding whether two
// payloads really disagree.
var metadataFields = map[string]struct{}{
	"updatedAt": {},
	"version":   {},
	"lastSync":  {},
	"createdAt": {},
}

// AutoResolve picks a winner for c, or ResolutionNone when a human has to
// decide.
func AutoResolve(c types.ConflictInfo) types.Resolution {
	if c.ServerData == nil {
		return types.ResolutionLocal
	}
	if c.ServerTimestamp < c.LocalTimestamp {
		return types.ResolutionLocal
	}
	if onlyMetadataDiffers(c.LocalData, c.ServerData) {
		return types.ResolutionMerge
	}
	return types.ResolutionNone
}

// onlyMetadataDiffers compares the fields present in local. Fields the local
// payload does not carry are not part of the change.
func onlyMetadataDiffers(local, server types.Payload) bool {
	for k, lv := range local {
		if _, ok := metadataFields[k]; ok {
			continue
		}
		sv, ok := server[k]
		if !ok || !equalValues(lv, sv) {
			return false
		}
	}
	return true
}

// equalValues is reflect.DeepEqual with numbers compared by value, so a
// payload built in Go (int) matches one decoded from JSON (float64).
func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
