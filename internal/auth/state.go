package auth

import (
	"encoding/base64"
	"encoding/json"
)

// FlowState is the payload round-tripped through the upstream provider's
// state parameter when a downstream OAuth client delegates its authorization
// to this server. It is never stored server-side; the state parameter is its
// only carrier.
type FlowState struct {
	OriginalState string `json:"original_state,omitempty"`
	RedirectURI   string `json:"redirect_uri"`
	ClientID      string `json:"client_id,omitempty"`
}

// EncodeFlowState serializes the state as URL-safe base64 JSON.
func EncodeFlowState(s *FlowState) string {
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeFlowState attempts to interpret raw as an encoded FlowState. A
// false return is not an error condition: it marks raw as an ordinary
// opaque state from a plain browser flow. Standard, URL-safe, and unpadded
// base64 variants are all accepted since downstream clients differ.
func DecodeFlowState(raw string) (*FlowState, bool) {
	if raw == "" {
		return nil, false
	}

	data, ok := decodeBase64(raw)
	if !ok {
		return nil, false
	}

	var s FlowState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false
	}
	if s.RedirectURI == "" {
		return nil, false
	}
	return &s, true
}

func decodeBase64(raw string) ([]byte, bool) {
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding,
		base64.StdEncoding,
		base64.RawURLEncoding,
		base64.RawStdEncoding,
	} {
		if data, err := enc.DecodeString(raw); err == nil {
			return data, true
		}
	}
	return nil, false
}
