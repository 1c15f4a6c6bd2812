package models

import (
	"encoding/json"
	"sort"
)

// DataBag is the free-form JSON object synthesized by the data extractor.
// The bag itself is opaque; only its top-level keys are meaningful
// downstream, where they attribute data categories.
type DataBag map[string]json.RawMessage

// Keys returns the bag's top-level keys in sorted order.
func (b DataBag) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// JSON renders the bag as a JSON object; an empty or nil bag renders as {}.
func (b DataBag) JSON() json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("{}")
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}
