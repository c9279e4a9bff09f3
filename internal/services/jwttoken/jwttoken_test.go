package jwttoken

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	manager := NewManager("secret")

	token, err := manager.Generate("user-1")
	require.NoError(t, err)

	userID, err := manager.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestParseRejectsForeignSecret(t *testing.T) {
	token, err := NewManager("secret").Generate("user-1")
	require.NoError(t, err)

	_, err = NewManager("other").Parse(token)
	assert.Error(t, err)

	_, err = NewManager("secret").Parse("garbage")
	assert.Error(t, err)
}
