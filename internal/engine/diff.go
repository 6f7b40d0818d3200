package engine

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/marcus/offsync/internal/models"
)

// BuildFieldConflicts compares the local payload against the server's
// current state and reports divergent fields. When allowed is non-empty,
// only those fields are considered; this keeps server-only bookkeeping
// fields from producing false positives. A field missing on either side is
// never reported, so partial-update payloads stay quiet about fields they
// do not carry.
func BuildFieldConflicts(payload, serverData json.RawMessage, allowed []string, localTS, serverTS time.Time) []models.FieldConflict {
	local := decodeFields(payload)
	server := decodeFields(serverData)
	if local == nil || server == nil {
		return nil
	}

	var fields []string
	if len(allowed) > 0 {
		fields = allowed
	} else {
		for k := range local {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)

	var out []models.FieldConflict
	for _, f := range fields {
		lv, lok := local[f]
		sv, sok := server[f]
		if !lok || !sok {
			continue
		}
		if jsonEqual(lv, sv) {
			continue
		}
		out = append(out, models.FieldConflict{
			Field:           f,
			LocalValue:      lv,
			ServerValue:     sv,
			LocalTimestamp:  localTS,
			ServerTimestamp: serverTS,
		})
	}
	return out
}

// OverlayServerValues applies the server values recorded in a ledger entry
// on top of the local payload. Used for the accept-server resolution path.
func OverlayServerValues(payload json.RawMessage, conflicts []models.FieldConflict) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	for _, c := range conflicts {
		fields[c.Field] = c.ServerValue
	}
	return json.Marshal(fields)
}

func decodeFields(data json.RawMessage) map[string]json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	return fields
}

// jsonEqual compares two raw values by their canonical decoded form, so
// formatting differences ("1.0" vs "1E0", key order) do not count as
// divergence.
func jsonEqual(a, b json.RawMessage) bool {
	if bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b)) {
		return true
	}
	// Re-encoding the decoded value canonicalizes it: encoding/json emits
	// map keys in sorted order and collapses number formatting.
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return false
	}
	ac, err1 := json.Marshal(av)
	bc, err2 := json.Marshal(bv)
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(ac, bc)
}
