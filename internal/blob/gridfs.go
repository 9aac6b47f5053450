package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const gridfsScheme = "gridfs://"

// GridFSStore stores media in a MongoDB GridFS bucket and addresses blobs as
// gridfs://<objectID>.
type GridFSStore struct {
	bucket *gridfs.Bucket
}

func NewGridFSStore(db *mongo.Database) (*GridFSStore, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName("media"))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket: %w", err)
	}
	return &GridFSStore{bucket: bucket}, nil
}

func (g *GridFSStore) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = g.bucket.SetWriteDeadline(deadline)
	} else {
		_ = g.bucket.SetWriteDeadline(time.Now().Add(time.Minute))
	}
	opts := options.GridFSUpload().SetMetadata(bson.D{{Key: "contentType", Value: contentType}})
	id, err := g.bucket.UploadFromStream(name, bytes.NewReader(data), opts)
	if err != nil {
		return "", fmt.Errorf("gridfs upload %s: %w", name, err)
	}
	return gridfsScheme + id.Hex(), nil
}

func (g *GridFSStore) Open(ctx context.Context, address string) (io.ReadCloser, error) {
	hex := strings.TrimPrefix(address, gridfsScheme)
	if hex == address {
		return nil, fmt.Errorf("not a gridfs address: %s", address)
	}
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return nil, fmt.Errorf("bad gridfs address %s: %w", address, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = g.bucket.SetReadDeadline(deadline)
	}
	stream, err := g.bucket.OpenDownloadStream(id)
	if err != nil {
		return nil, fmt.Errorf("gridfs open %s: %w", address, err)
	}
	return stream, nil
}
