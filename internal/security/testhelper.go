package security

import "time"

const (
	testAccessSecret  = "test-access-secret-0123456789abcdef"
	testRefreshSecret = "test-refresh-secret-0123456789abcdef"
)

// NewTestTokenProvider returns a TokenProvider with fixed secrets, 15m access and 24h refresh TTLs.
// For unit tests only.
func NewTestTokenProvider() *TokenProvider {
	return NewTokenProvider([]byte(testAccessSecret), []byte(testRefreshSecret), "test-issuer", "test-audience", 15*time.Minute, 24*time.Hour)
}
