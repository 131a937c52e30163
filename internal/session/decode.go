package session

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/amplihq/usagelens/internal/timeutil"
)

// Decode parses one normalized session record from its JSON wire
// form. Decoding is lenient about unknown fields and strict about
// the fields it reads; the result still has to pass Validate
// before entering the pipeline.
func Decode(data []byte) (Normalized, error) {
	raw := string(data)
	if !gjson.Valid(raw) {
		return Normalized{}, fmt.Errorf("decoding session: not valid JSON")
	}
	doc := gjson.Parse(raw)

	n := Normalized{
		SessionID:       doc.Get("session_id").Str,
		SubjectID:       doc.Get("subject_id").Str,
		TurnCount:       int(doc.Get("turn_count").Int()),
		ToolCallCount:   int(doc.Get("tool_call_count").Int()),
		ErrorCount:      int(doc.Get("error_count").Int()),
		DelegationCount: int(doc.Get("delegation_count").Int()),
		FilesTouched:    int(doc.Get("files_touched").Int()),
		Status:          Status(doc.Get("status").Str),
	}

	if ts := doc.Get("started_at").Str; ts != "" {
		t, ok := timeutil.Parse(ts)
		if !ok {
			return Normalized{}, fmt.Errorf(
				"decoding session %s: bad started_at %q",
				n.SessionID, ts,
			)
		}
		n.StartedAt = t
	}
	if ts := doc.Get("ended_at").Str; ts != "" {
		t, ok := timeutil.Parse(ts)
		if !ok {
			return Normalized{}, fmt.Errorf(
				"decoding session %s: bad ended_at %q",
				n.SessionID, ts,
			)
		}
		n.EndedAt = t
	}

	if tools := doc.Get("tool_calls"); tools.IsObject() {
		n.ToolCalls = make(map[string]int)
		tools.ForEach(func(key, value gjson.Result) bool {
			n.ToolCalls[key.Str] = int(value.Int())
			return true
		})
	}

	return n, nil
}
