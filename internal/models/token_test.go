package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	issued := time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)
	token := &SessionToken{
		CourseCode: "CS101",
		IssuedBy:   "teacher1",
		IssuerName: "Jane Grey",
		IssuedAt:   issued,
		ExpiresAt:  issued.Add(15 * time.Minute),
	}

	raw, err := token.Encode()
	require.NoError(t, err)

	decoded, err := ParseSessionToken(raw)
	require.NoError(t, err)
	assert.Equal(t, token, decoded)
}

func TestSessionTokenExpiryBoundary(t *testing.T) {
	expires := time.Date(2026, 1, 12, 10, 15, 0, 0, time.UTC)
	token := &SessionToken{CourseCode: "CS101", IssuedBy: "teacher1", ExpiresAt: expires}

	assert.False(t, token.Expired(expires))
	assert.True(t, token.Expired(expires.Add(time.Second)))
}

func TestParseSessionTokenRejectsPartialPayloads(t *testing.T) {
	for _, raw := range []string{"", "plain text", "{}", `{"course_code":"CS101"}`} {
		_, err := ParseSessionToken(raw)
		assert.Error(t, err, raw)
	}
}
