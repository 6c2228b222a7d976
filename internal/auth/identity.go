package auth

// ServiceTokenPrefix marks internally minted tokens for trusted automated
// callers. Validation of these tokens never leaves the process.
const ServiceTokenPrefix = "mcp_service_token_"

// ServiceUserID is the fixed identity id behind every service token.
const ServiceUserID = "mcp_service_user"

// Identity is the authenticated caller derived from a bearer token.
type Identity struct {
	ID            string `json:"id"`
	Email         string `json:"email,omitempty"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name,omitempty"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	Locale        string `json:"locale,omitempty"`
}

// AuthResult pairs an identity with the raw token it was derived from.
// It lives for one request and is never persisted.
type AuthResult struct {
	Identity *Identity
	RawToken string
}

// ServiceIdentity returns the constant identity used for service tokens.
func ServiceIdentity() *Identity {
	return &Identity{
		ID:            ServiceUserID,
		Email:         "service@mcp.local",
		VerifiedEmail: true,
		Name:          "MCP Service",
	}
}
