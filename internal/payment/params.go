package payment

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Param returns the trimmed first value of key.
func Param(params url.Values, key string) string {
	return strings.TrimSpace(params.Get(key))
}

// RequireParams returns ErrMalformedCallback naming the first missing key.
func RequireParams(params url.Values, keys ...string) error {
	for _, k := range keys {
		if Param(params, k) == "" {
			return fmt.Errorf("%w: missing %s", ErrMalformedCallback, k)
		}
	}
	return nil
}

// RawParams flattens a callback into a JSON object for audit storage.
func RawParams(params url.Values) json.RawMessage {
	flat := make(map[string]string, len(params))
	for k := range params {
		flat[k] = params.Get(k)
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
