// Package metadata stores small key/value settings of the local client,
// such as the session token.
package metadata

import (
	"context"
)

type Repository interface {
	// Get returns common.ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
}
