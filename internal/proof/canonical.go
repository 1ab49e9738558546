package proof

import (
	"bytes"
	"encoding/json"
)

// parseOrNull decodes raw JSON into a generic value. Malformed input maps to
// nil (hashed as JSON null) so that hashing stays total; the tradeoff is that
// "empty" and "malformed" are indistinguishable in the hash.
func parseOrNull(raw string) any {
	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil
	}
	return value
}

// canonicalJSON re-serializes a decoded JSON value deterministically:
// object keys sorted lexicographically, arrays in source order, compact
// separators. encoding/json already sorts map keys and emits compact output;
// UseNumber during decode keeps numeric literals byte-stable. HTML escaping
// is disabled so that <, > and & hash identically across implementations.
func canonicalJSON(value any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, err
	}
	// Encode appends a newline; the canonical form has none.
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
