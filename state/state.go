// Package state defines the schema-free state document that workflow tools
// consume and produce, together with the deep-copy discipline the execution
// engine relies on for snapshot isolation.
package state

// Document is an arbitrary key-value document carried across the tool
// boundary. It is semantically opaque to the engine. Values must remain
// within the JSON-like shape (map[string]any, []any, strings, numbers,
// booleans, nil) for Clone to provide full isolation.
type Document map[string]any

// Clone returns a deep copy of doc. The result is never nil so callers can
// write to it directly; Clone(nil) yields an empty document.
func Clone(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(in any) any {
	switch v := in.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case Document:
		return map[string]any(Clone(v))
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = cloneValue(v[i])
		}
		return out
	default:
		return in
	}
}
