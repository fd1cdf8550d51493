package port

import "context"

// FileStorage defines file storage operations
type FileStorage interface {
	// Save writes content, replacing any existing file
	Save(ctx context.Context, path string, content []byte) error

	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
	GetFullPath(relativePath string) string
}
