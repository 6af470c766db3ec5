package casbin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

func openDB(t *testing.T, path string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestGormIntegration(t *testing.T) {
	// 1. Setup database
	db := openDB(t, filepath.Join(t.TempDir(), "policy.db"))

	// 2. Create temporary model file
	tmpModel, err := os.CreateTemp(t.TempDir(), "rbac_model.conf")
	require.NoError(t, err)
	_, err = tmpModel.WriteString(DefaultModel)
	require.NoError(t, err)
	require.NoError(t, tmpModel.Close())

	// 3. Initialize Service
	svc, err := NewServiceWithGorm(db, tmpModel.Name())
	require.NoError(t, err)

	// 4. Test Policy Management
	success, err := svc.AddGroupingPolicy(t.Context(), "alice", "admin")
	assert.NoError(t, err)
	assert.True(t, success)

	success, err = svc.AddPolicy(t.Context(), "p", "admin", "data1", "read")
	assert.NoError(t, err)
	assert.True(t, success)

	// 5. Test Enforcement
	allowed, err := svc.Enforce("alice", "data1", "read")
	assert.NoError(t, err)
	assert.True(t, allowed, "alice should be able to read data1")

	allowed, err = svc.Enforce("alice", "data1", "write")
	assert.NoError(t, err)
	assert.False(t, allowed, "alice should not be able to write data1")

	allowed, err = svc.Enforce("bob", "data1", "read")
	assert.NoError(t, err)
	assert.False(t, allowed, "bob should not have access")

	// 6. Policy survives a fresh enforcer on the same database
	again, err := NewServiceWithGorm(db, DefaultModel)
	require.NoError(t, err)
	allowed, err = again.Enforce("alice", "data1", "read")
	assert.NoError(t, err)
	assert.True(t, allowed)
}

func TestNewGormEnforcerValidation(t *testing.T) {
	_, err := NewGormEnforcer(nil, "")
	assert.ErrorIs(t, err, errors.ErrInvalidParam)

	db := openDB(t, filepath.Join(t.TempDir(), "policy.db"))
	_, err = NewGormEnforcer(db, filepath.Join(t.TempDir(), "missing.conf"))
	assert.ErrorIs(t, err, errors.ErrConfig)
}

func TestLoadModelDefaults(t *testing.T) {
	m, err := LoadModel("")
	require.NoError(t, err)
	assert.Contains(t, m["p"], "p")
	assert.Contains(t, m["g"], "g")
}
