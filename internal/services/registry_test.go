package services

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/store"
)

func TestNewRegistry(t *testing.T) {
	var _ Registry = (*registry)(nil)
}

func TestRegistryAccessors(t *testing.T) {
	reg := NewRegistry(Options{})

	assert.Nil(t, reg.Crawler())
	assert.Nil(t, reg.Scraper())
	assert.Nil(t, reg.Ingest())
	assert.Nil(t, reg.Chat())
	assert.Nil(t, reg.Users())
	assert.Nil(t, reg.Indexer())
	assert.Nil(t, reg.Store())
	assert.Nil(t, reg.Events())
}

func TestRegistryWithServices(t *testing.T) {
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "ragd.db"), nil)
	require.NoError(t, err)
	defer st.Close()

	reg := NewRegistry(Options{Store: st})
	assert.Same(t, st, reg.Store())
}
