// Package storage provides the artifact store for per-iteration statistics
// and sparse grid checkpoints.
package storage

import (
	"context"
	"io"

	apperrors "github.com/combigrid/pkg/errors"
	"github.com/combigrid/pkg/config"
)

// Storage defines the interface for artifact storage operations.
type Storage interface {
	// Upload stores the data under the given key.
	Upload(ctx context.Context, key string, reader io.Reader) error

	// Download retrieves the data stored under the given key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks whether an artifact exists under the given key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the artifact under the given key.
	Delete(ctx context.Context, key string) error
}

// Type represents the storage backend type.
type Type string

const (
	// TypeLocal stores artifacts on the local filesystem.
	TypeLocal Type = "local"
	// TypeCOS stores artifacts in Tencent Cloud COS.
	TypeCOS Type = "cos"
)

// New creates a Storage instance based on the configuration.
func New(cfg *config.StorageConfig) (Storage, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	switch Type(cfg.Type) {
	case TypeCOS:
		return NewCOSStorage(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		})
	default:
		return NewLocalStorage(cfg.LocalPath)
	}
}

func validateConfig(cfg *config.StorageConfig) error {
	if cfg == nil {
		return apperrors.New(apperrors.CodeConfigError, "storage config is nil")
	}

	t := Type(cfg.Type)
	if t == "" {
		t = TypeLocal
	}

	switch t {
	case TypeLocal:
		if cfg.LocalPath == "" {
			return apperrors.New(apperrors.CodeConfigError, "local storage path is required")
		}
	case TypeCOS:
		if cfg.Bucket == "" || cfg.Region == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS bucket and region are required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS credentials are required")
		}
	default:
		return apperrors.Newf(apperrors.CodeConfigError, "unsupported storage type: %s", cfg.Type)
	}
	return nil
}
