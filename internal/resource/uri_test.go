package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURI(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"root", "/", "/"},
		{"plain", "/a/b", "/a/b"},
		{"trailing slash", "/a/b/", "/a/b"},
		{"double slash", "/a//b", "/a/b"},
		{"dot segments", "/a/./b/../c", "/a/c"},
		// U+0065 U+0301 (decomposed é) composes to U+00E9
		{"nfc", "/cafe\u0301", "/caf\u00e9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURI(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURI_Invalid(t *testing.T) {
	for _, in := range []string{"", "a/b", "relative", "/a\x00b"} {
		_, err := NormalizeURI(in)
		assert.ErrorIs(t, err, ErrInvalidURI, "input %q", in)
	}
}

func TestParentURI(t *testing.T) {
	assert.Equal(t, "", ParentURI("/"))
	assert.Equal(t, "/", ParentURI("/a"))
	assert.Equal(t, "/a", ParentURI("/a/b"))
}

func TestChangeType_RoundTrip(t *testing.T) {
	for _, ct := range []ChangeType{ChangeCreated, ChangeModified, ChangeACLModified, ChangeDeleted} {
		parsed, err := ParseChangeType(ct.String())
		require.NoError(t, err)
		assert.Equal(t, ct, parsed)
	}

	_, err := ParseChangeType("renamed")
	assert.Error(t, err)
	assert.True(t, ChangeDeleted.IsDeletion())
	assert.False(t, ChangeACLModified.IsDeletion())
}

func TestPropertySet_ACLSource(t *testing.T) {
	own := PropertySet{URI: "/a", ID: 7, ACLInheritedFrom: NoACLInheritance}
	assert.False(t, own.InheritsACL())
	assert.Equal(t, ID(7), own.ACLSource())

	inherited := PropertySet{URI: "/a/b", ID: 8, ACLInheritedFrom: 7}
	assert.True(t, inherited.InheritsACL())
	assert.Equal(t, ID(7), inherited.ACLSource())
}
