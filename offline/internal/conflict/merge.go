package conflict

import "github.com/dsbaciga/captainslog/offline/internal/types"

// identityFields are never copied from the local payload during a merge.
var identityFields = map[string]struct{}{
	"id":        {},
	"updatedAt": {},
	"createdAt": {},
	"version":   {},
}

// Merge reconciles local onto server field by field. The server copy is the
// base; a local string that differs from the server's value replaces it, and
// every other diverging field keeps the server's value. There is no common
// ancestor, so a server-side text edit to a field the client also changed is
// lost. When server is nil the local payload is returned as is.
func Merge(local, server types.Payload) types.Payload {
	if server == nil {
		return local.Clone()
	}

	merged := server.Clone()
	for k, lv := range local {
		if _, skip := identityFields[k]; skip {
			continue
		}
		if sv, ok := server[k]; ok && equalValues(lv, sv) {
			continue
		}
		if s, ok := lv.(string); ok {
			merged[k] = s
		}
	}
	return merged
}
