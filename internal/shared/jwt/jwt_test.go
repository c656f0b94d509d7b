package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignParse_RoundTrip(t *testing.T) {
	tok, err := Sign("u1", time.Minute)
	require.NoError(t, err)

	uid, err := Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)
}

func TestParse_ExpiredToken(t *testing.T) {
	tok, err := Sign("u1", -time.Minute)
	require.NoError(t, err)

	_, err = Parse(tok)
	assert.Error(t, err)
}

func TestParse_Garbage(t *testing.T) {
	_, err := Parse("not-a-token")
	assert.Error(t, err)
}
