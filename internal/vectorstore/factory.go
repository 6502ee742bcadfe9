package vectorstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/config"
)

// NewStore creates the backend selected by cfg.VectorStore.Provider:
//   - "chromem" (default): embedded store under cfg.Storage.IndexDir
//   - "qdrant": external Qdrant server
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	vs := cfg.VectorStore

	switch vs.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.Storage.IndexDir,
			Compress:   vs.Compress,
			Collection: vs.Collection,
		}, logger)

	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:       vs.QdrantHost,
			Port:       vs.QdrantPort,
			APIKey:     vs.QdrantAPIKey.Value(),
			UseTLS:     vs.QdrantUseTLS,
			Collection: vs.Collection,
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider %q (supported: chromem, qdrant)", ErrInvalidConfig, vs.Provider)
	}
}
