package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestJWTVerifier_Verify(t *testing.T) {
	valid, err := Sign(secret, "user-1", 0)
	require.NoError(t, err)
	withExpiry, err := Sign(secret, "user-2", time.Hour)
	require.NoError(t, err)
	expired, err := Sign(secret, "user-3", -time.Minute)
	require.NoError(t, err)
	otherSecret, err := Sign("other-secret", "user-1", 0)
	require.NoError(t, err)
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte(secret))
	require.NoError(t, err)
	numericUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": 42}).SignedString([]byte(secret))
	require.NoError(t, err)
	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"userId": "user-1"}).SignedString([]byte(secret))
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"userId": "user-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		wantUser string
		wantErr  bool
	}{
		{name: "valid token", token: valid, wantUser: "user-1"},
		{name: "valid token with expiry", token: withExpiry, wantUser: "user-2"},
		{name: "empty token", token: "", wantErr: true},
		{name: "garbage", token: "garbage", wantErr: true},
		{name: "expired", token: expired, wantErr: true},
		{name: "wrong secret", token: otherSecret, wantErr: true},
		{name: "missing userId claim", token: noUser, wantErr: true},
		{name: "non-string userId claim", token: numericUser, wantErr: true},
		{name: "unexpected algorithm", token: wrongAlg, wantErr: true},
		{name: "alg none", token: unsigned, wantErr: true},
	}

	v := NewJWTVerifier(secret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := v.Verify(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrRejected)
				assert.Empty(t, userID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, userID)
		})
	}
}
