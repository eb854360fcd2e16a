package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-32-bytes-long!!!")

func newTokens() Tokens { return Tokens{Secret: testSecret, TTL: time.Hour, Issuer: "watchwise"} }

func TestTokens_RoundTrip(t *testing.T) {
	tok, exp, err := newTokens().Issue("user-1", time.Time{})
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := newTokens().Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "watchwise", claims.Issuer)
}

func TestTokens_Expired(t *testing.T) {
	tok, _, err := newTokens().Issue("user-1", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	_, err = newTokens().Parse(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_WrongSecret(t *testing.T) {
	tok, _, err := Tokens{Secret: []byte("another-secret"), TTL: time.Hour}.Issue("user-1", time.Time{})
	require.NoError(t, err)

	_, err = newTokens().Parse(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = newTokens().Parse(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_IssueRequiresSecretAndSubject(t *testing.T) {
	_, _, err := Tokens{TTL: time.Hour}.Issue("user-1", time.Time{})
	require.Error(t, err)
	_, _, err = newTokens().Issue(" ", time.Time{})
	require.Error(t, err)
}

func TestRequireUser(t *testing.T) {
	valid, _, err := newTokens().Issue("user-1", time.Time{})
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "valid", header: "Bearer " + valid, wantStatus: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + valid, wantStatus: http.StatusOK},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + valid, wantStatus: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", wantStatus: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer not-a-token", wantStatus: http.StatusUnauthorized},
	}

	onFail := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser, _ = UserIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			RequireUser(newTokens(), onFail)(next).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "user-1", gotUser)
			}
		})
	}
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)

	require.NoError(t, CheckPassword(hash, "correct horse"))
	require.ErrorIs(t, CheckPassword(hash, "battery staple"), ErrInvalidPassword)
}

func TestHashPassword_ByteLimit(t *testing.T) {
	_, err := HashPassword(strings.Repeat("a", MaxPasswordBytes))
	require.NoError(t, err)

	// 40 two-byte runes: short in characters, over the limit in bytes.
	_, err = HashPassword(strings.Repeat("é", 40))
	require.ErrorIs(t, err, ErrPasswordTooLong)
}
