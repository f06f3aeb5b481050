package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, CommitHash, info.CommitHash)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}

func TestShort(t *testing.T) {
	info := Info{CommitHash: "abcdef0123456789"}
	assert.Equal(t, "abcdef0", info.Short())

	info.CommitHash = "abc"
	assert.Equal(t, "abc", info.Short())
}

func TestAtLeast(t *testing.T) {
	orig := Version
	t.Cleanup(func() { Version = orig })

	Version = "dev"
	ok, err := AtLeast("99.0.0")
	require.NoError(t, err)
	assert.True(t, ok, "dev builds satisfy everything")

	Version = "1.2.3"
	ok, err = AtLeast("1.0.0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = AtLeast("2.0.0")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = AtLeast("not-a-version")
	assert.Error(t, err)
}
