package generation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParsePayload validates a model's structured output and returns it in
// compact form. Output wrapped in a markdown code fence is unwrapped first.
// Anything that is not a JSON object is rejected with ErrInvalidResponse.
func ParsePayload(raw []byte) (json.RawMessage, error) {
	body := bytes.TrimSpace(raw)
	if bytes.HasPrefix(body, []byte("```")) {
		body = bytes.TrimPrefix(body, []byte("```"))
		if nl := bytes.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		body = bytes.TrimSuffix(bytes.TrimSpace(body), []byte("```"))
		body = bytes.TrimSpace(body)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidResponse)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object: %v", ErrInvalidResponse, err)
	}

	var out bytes.Buffer
	if err := json.Compact(&out, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return json.RawMessage(out.Bytes()), nil
}
