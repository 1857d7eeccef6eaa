package audit

import "encoding/json"

// canonicalBytes serializes exactly the hashed fields of e — id,
// timestamp, event, level, message, the optional user/task/correlation
// ids, metadata, previousHash — as JSON. Go's encoding/json already emits
// map keys in lexicographic order at every nesting level, which is
// exactly the canonical form §4.2 requires; metadata entries with a nil
// value are dropped first so they behave like the "undefined fields are
// dropped" rule.
func canonicalBytes(e *Entry) ([]byte, error) {
	m := map[string]interface{}{
		"id":           e.ID,
		"timestamp":    e.Timestamp,
		"event":        e.Event,
		"level":        string(e.Level),
		"message":      e.Message,
		"metadata":     cleanMetadata(e.Metadata),
		"previousHash": e.PreviousHash,
	}
	if e.UserID != nil {
		m["userId"] = *e.UserID
	}
	if e.TaskID != nil {
		m["taskId"] = *e.TaskID
	}
	if e.CorrelationID != nil {
		m["correlationId"] = *e.CorrelationID
	}
	return json.Marshal(m)
}

// cleanMetadata recursively drops keys whose value is nil and always
// returns a non-nil map, so the genesis entry and entries with no
// metadata hash identically regardless of whether Metadata was nil or
// empty at construction time.
func cleanMetadata(meta map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		if v == nil {
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = cleanMetadata(nested)
			continue
		}
		out[k] = v
	}
	return out
}
