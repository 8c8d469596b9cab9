package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/ci-api/internal/domain"
)

func TestIssueAndParse(t *testing.T) {
	token, err := Issue("s3cret", &domain.Caller{UserID: 7, Login: "svenfuchs"}, time.Hour)
	require.NoError(t, err)

	caller, err := Parse("s3cret", token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), caller.UserID)
	assert.Equal(t, "svenfuchs", caller.Login)
}

func TestParseRejects(t *testing.T) {
	good, err := Issue("s3cret", &domain.Caller{UserID: 7}, time.Hour)
	require.NoError(t, err)
	expired, err := Issue("s3cret", &domain.Caller{UserID: 7}, -time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "7"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", good + "x"},
		{"garbage", "not-a-jwt"},
		{"expired", expired},
		{"alg none", none},
		{"missing subject", noSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("s3cret", tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err = Parse("other", good)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueRequiresSecret(t *testing.T) {
	_, err := Issue("", &domain.Caller{UserID: 1}, 0)
	assert.Error(t, err)
}

func TestFromHeader(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"token abc", "abc", true},
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Basic abc", "", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := FromHeader(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}
