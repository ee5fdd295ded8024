package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/telehealth/internal/common"
	"github.com/dmitrijs2005/telehealth/internal/filex"
	"github.com/dmitrijs2005/telehealth/internal/logging"
)

// FSStore keeps objects as plain files: <root>/<key> and <root>/<key>.metadata.
type FSStore struct {
	root   string
	logger logging.Logger
}

// NewFSStore returns a store rooted at dir. The directory is created lazily
// on the first Put.
func NewFSStore(dir string, l logging.Logger) *FSStore {
	return &FSStore{root: dir, logger: l.With("module", "blobstore_fs")}
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte, meta Metadata) error {
	if err := validateKey(key); err != nil {
		return err
	}

	root, err := filex.EnsureDir(s.root)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrorStorage, err)
	}

	mb, err := encodeMetadata(meta)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrorStorage, err)
	}

	dataPath := filepath.Join(root, key)
	if err := filex.WriteFileAtomic(dataPath, data, 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %v", common.ErrorStorage, key, err)
	}
	if err := filex.WriteFileAtomic(dataPath+MetadataSuffix, mb, 0o600); err != nil {
		_ = os.Remove(dataPath)
		return fmt.Errorf("%w: write %s metadata: %v", common.ErrorStorage, key, err)
	}

	return nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, Metadata, error) {
	if err := validateKey(key); err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: %v", common.ErrorNotFound, err)
	}

	dataPath := filepath.Join(s.root, key)

	data, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: read %s: %v", common.ErrorNotFound, key, err)
	}

	mb, err := os.ReadFile(dataPath + MetadataSuffix)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: read %s metadata: %v", common.ErrorNotFound, key, err)
	}

	meta, err := decodeMetadata(mb)
	if err != nil {
		return nil, Metadata{}, err
	}

	return data, meta, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) {
	if err := validateKey(key); err != nil {
		s.logger.Warn(ctx, "refusing to delete", "key", key, "error", err)
		return
	}

	dataPath := filepath.Join(s.root, key)
	for _, p := range []string{dataPath, dataPath + MetadataSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Error(ctx, "blob delete failed", "path", p, "error", err)
		}
	}
}

func (s *FSStore) List(ctx context.Context) ([]ObjectInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", common.ErrorStorage, err)
	}

	var out []ObjectInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, MetadataSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, ObjectInfo{Key: name, Modified: info.ModTime()})
	}
	return out, nil
}
