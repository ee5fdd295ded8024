package blobstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/telehealth/internal/common"
	"github.com/dmitrijs2005/telehealth/internal/logging"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GridFSBucket is the subset of *gridfs.Bucket used by GridFSStore.
type GridFSBucket interface {
	UploadFromStream(filename string, source io.Reader, opts ...*options.UploadOptions) (primitive.ObjectID, error)
	DownloadToStream(fileID interface{}, stream io.Writer) (int64, error)
	Delete(fileID interface{}) error
	Find(filter interface{}, opts ...*options.GridFSFindOptions) (*mongo.Cursor, error)
}

// GridFSStore keeps each object as one GridFS file named after the storage
// key. The IV travels in the file's metadata document.
type GridFSStore struct {
	bucket GridFSBucket
	logger logging.Logger
}

type gridFile struct {
	ID         primitive.ObjectID `bson:"_id"`
	Filename   string             `bson:"filename"`
	UploadDate time.Time          `bson:"uploadDate"`
	Metadata   struct {
		IV string `bson:"iv"`
	} `bson:"metadata"`
}

// OpenGridFSBucket connects to MongoDB and opens the named bucket. The
// returned client must be disconnected by the caller.
func OpenGridFSBucket(ctx context.Context, uri, database, name string) (*mongo.Client, *gridfs.Bucket, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}

	bucket, err := gridfs.NewBucket(client.Database(database), options.GridFSBucket().SetName(name))
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	return client, bucket, nil
}

func NewGridFSStore(b GridFSBucket, l logging.Logger) *GridFSStore {
	return &GridFSStore{bucket: b, logger: l.With("module", "blobstore_gridfs")}
}

func (s *GridFSStore) Put(ctx context.Context, key string, data []byte, meta Metadata) error {
	if err := validateKey(key); err != nil {
		return err
	}

	opts := options.GridFSUpload().SetMetadata(bson.M{"iv": hex.EncodeToString(meta.IV)})
	if _, err := s.bucket.UploadFromStream(key, bytes.NewReader(data), opts); err != nil {
		return fmt.Errorf("%w: upload %s: %v", common.ErrorStorage, key, err)
	}
	return nil
}

func (s *GridFSStore) Get(ctx context.Context, key string) ([]byte, Metadata, error) {
	files, err := s.find(ctx, bson.M{"filename": key})
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: %v", common.ErrorNotFound, err)
	}
	if len(files) == 0 {
		return nil, Metadata{}, fmt.Errorf("%w: %s", common.ErrorNotFound, key)
	}
	f := files[0]

	iv, err := hex.DecodeString(f.Metadata.IV)
	if err != nil || len(iv) == 0 {
		return nil, Metadata{}, fmt.Errorf("%w: bad iv for %s", common.ErrorNotFound, key)
	}

	var buf bytes.Buffer
	if _, err := s.bucket.DownloadToStream(f.ID, &buf); err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: download %s: %v", common.ErrorNotFound, key, err)
	}
	return buf.Bytes(), Metadata{IV: iv}, nil
}

func (s *GridFSStore) Delete(ctx context.Context, key string) {
	files, err := s.find(ctx, bson.M{"filename": key})
	if err != nil {
		s.logger.Error(ctx, "blob lookup failed", "key", key, "error", err)
		return
	}
	for _, f := range files {
		if err := s.bucket.Delete(f.ID); err != nil {
			s.logger.Error(ctx, "blob delete failed", "key", key, "error", err)
		}
	}
}

func (s *GridFSStore) List(ctx context.Context) ([]ObjectInfo, error) {
	files, err := s.find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", common.ErrorStorage, err)
	}
	out := make([]ObjectInfo, 0, len(files))
	for _, f := range files {
		out = append(out, ObjectInfo{Key: f.Filename, Modified: f.UploadDate})
	}
	return out, nil
}

func (s *GridFSStore) find(ctx context.Context, filter interface{}) ([]gridFile, error) {
	cur, err := s.bucket.Find(filter)
	if err != nil {
		return nil, err
	}
	var files []gridFile
	if err := cur.All(ctx, &files); err != nil {
		return nil, err
	}
	return files, nil
}
