package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressSet(t *testing.T) {
	s := NewAddressSet(" A@x.com", "b@X.com", "", "a@x.com")
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has("A@X.COM "))
	assert.False(t, s.Has("c@x.com"))

	u := s.Union(NewAddressSet("c@x.com"), nil)
	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, u.Sorted())
	assert.Equal(t, 2, s.Len(), "union does not modify the receiver")
}

func TestParseLedgerKind(t *testing.T) {
	k, err := ParseLedgerKind(" Followed_Up ")
	require.NoError(t, err)
	assert.Equal(t, LedgerFollowedUp, k)

	_, err = ParseLedgerKind("opened")
	assert.Error(t, err)
}

func TestParseBounceKind(t *testing.T) {
	assert.Equal(t, BounceHard, ParseBounceKind("HARD"))
	assert.Equal(t, BounceSoft, ParseBounceKind("soft "))
	assert.Equal(t, BounceUnknown, ParseBounceKind(""))
	assert.Equal(t, BounceUnknown, ParseBounceKind("weird"))
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("a@x.com"))
	assert.False(t, ValidEmail("a@"))
	assert.False(t, ValidEmail("@x.com"))
	assert.False(t, ValidEmail("a b@x.com"))
	assert.False(t, ValidEmail("plain"))
}

func TestGreeting(t *testing.T) {
	assert.Equal(t, "Ann", Recipient{Email: "a@x.com", FirstName: " Ann "}.Greeting())
	assert.Equal(t, FillerName, Recipient{Email: "a@x.com"}.Greeting())
}
