package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docqa/internal/config"
)

func TestNewStore_Chromem(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.IndexDir = t.TempDir()
	cfg.VectorStore.Collection = "docqa_documents"

	store, err := NewStore(cfg, nil)
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*ChromemStore)
	assert.True(t, ok)
}

func TestNewStore_UnknownProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.VectorStore.Provider = "pinecone"

	_, err := NewStore(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
