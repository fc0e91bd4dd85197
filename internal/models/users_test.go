package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUserByUID(t *testing.T) {
	db := setupTestDB(t, &User{})

	require.NoError(t, CreateUser(db, &User{
		UID: "alice", DisplayName: "Alice", Avatar: "https://cdn/avatars/alice.png", Enabled: true,
	}))

	user, err := GetUserByUID(db, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.DisplayName)

	_, err = GetUserByUID(db, "nobody")
	assert.Error(t, err)
}

func TestGetUserByAPIKeyAndSecret(t *testing.T) {
	db := setupTestDB(t, &User{})

	require.NoError(t, CreateUser(db, &User{
		UID: "alice", APIKey: "key-1", APISecret: "secret-1", Enabled: true,
	}))
	require.NoError(t, CreateUser(db, &User{
		UID: "mallory", APIKey: "key-2", APISecret: "secret-2", Enabled: false,
	}))

	user, err := GetUserByAPIKeyAndSecret(db, "key-1", "secret-1")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.UID)

	// wrong secret
	user, err = GetUserByAPIKeyAndSecret(db, "key-1", "wrong")
	require.NoError(t, err)
	assert.Nil(t, user)

	// disabled account
	user, err = GetUserByAPIKeyAndSecret(db, "key-2", "secret-2")
	require.NoError(t, err)
	assert.Nil(t, user)
}
