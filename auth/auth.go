package auth

// Identity supplies the authenticated caller and its bearer credential.
// Credential issuance and refresh happen elsewhere.
type Identity interface {
	// UserID returns the local participant id.
	UserID() string
	// Token returns the bearer credential carried by every call.
	Token() string
}
