package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
	"go.uber.org/zap"
)

// NewStore builds the Store selected by cfg.Provider:
//   - "chromem" (default): embedded, persisted under cfg.Path
//   - "qdrant": remote server at cfg.QdrantHost:cfg.QdrantPort
//
// A qdrant store that cannot be reached fails construction.
func NewStore(cfg config.VectorStoreConfig, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.Path,
			Compress:   cfg.Compress,
			Collection: cfg.Collection,
			VectorSize: cfg.VectorSize,
		}, embedder, logger)

	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			Collection: cfg.Collection,
			VectorSize: uint64(cfg.VectorSize),
			UseTLS:     cfg.QdrantTLS,
		}, embedder, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
