// Package blobstore persists encrypted file payloads together with the
// metadata needed to decrypt them. Every object is addressed by an opaque
// storage key; the ciphertext and its metadata are written, read, and
// deleted as a pair.
package blobstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/telehealth/internal/common"
)

// MetadataSuffix is appended to a storage key to name its metadata object.
const MetadataSuffix = ".metadata"

// Metadata is stored next to each ciphertext.
type Metadata struct {
	IV []byte
}

// ObjectInfo describes one stored object, as reported by List.
type ObjectInfo struct {
	Key      string
	Modified time.Time
}

// Store is the persistence contract shared by all backends.
type Store interface {
	// Put writes data and meta under key. The key must not be reused.
	Put(ctx context.Context, key string, data []byte, meta Metadata) error
	// Get returns the ciphertext and its metadata. A missing or unreadable
	// half yields common.ErrorNotFound.
	Get(ctx context.Context, key string) ([]byte, Metadata, error)
	// Delete removes both halves. Failures are logged, never returned.
	Delete(ctx context.Context, key string)
	// List enumerates stored ciphertext keys.
	List(ctx context.Context) ([]ObjectInfo, error)
}

type sidecar struct {
	IV string `json:"iv"`
}

func encodeMetadata(m Metadata) ([]byte, error) {
	return json.Marshal(sidecar{IV: hex.EncodeToString(m.IV)})
}

func decodeMetadata(b []byte) (Metadata, error) {
	var s sidecar
	if err := json.Unmarshal(b, &s); err != nil {
		return Metadata{}, fmt.Errorf("%w: bad metadata: %v", common.ErrorNotFound, err)
	}
	iv, err := hex.DecodeString(s.IV)
	if err != nil || len(iv) == 0 {
		return Metadata{}, fmt.Errorf("%w: bad iv in metadata", common.ErrorNotFound)
	}
	return Metadata{IV: iv}, nil
}

// validateKey rejects keys that could escape the store namespace.
func validateKey(key string) error {
	switch {
	case key == "",
		strings.ContainsAny(key, `/\`),
		strings.HasPrefix(key, "."),
		strings.HasSuffix(key, MetadataSuffix):
		return fmt.Errorf("%w: invalid storage key %q", common.ErrorStorage, key)
	}
	return nil
}
