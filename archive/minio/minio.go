// Package minio provides an archive.Archiver that uploads segments with the
// MinIO client.
//
// Works with MinIO and any S3-compatible storage (Ceph, Garage, SeaweedFS).
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	arch := minioarchive.New(client, "queue-archive", "orders/")
package minio

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"

	"github.com/vnykmshr/filequeue/archive"
)

// Uploader is the subset of *minio.Client used by Archiver.
type Uploader interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archiver uploads segments to a bucket under a key prefix.
type Archiver struct {
	client Uploader
	bucket string
	prefix string
}

// New creates a MinIO archiver.
// rootPrefix is prepended to all keys (e.g. "queues/").
func New(client Uploader, bucket, rootPrefix string) *Archiver {
	return &Archiver{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (a *Archiver) key(obj archive.Object) string {
	return path.Join(a.prefix, obj.Key())
}

// Archive implements archive.Archiver.
func (a *Archiver) Archive(ctx context.Context, obj archive.Object) error {
	rc, err := obj.Open()
	if err != nil {
		return fmt.Errorf("failed to open segment %d: %w", obj.SegmentID, err)
	}
	defer func() { _ = rc.Close() }()

	_, err = a.client.PutObject(ctx, a.bucket, a.key(obj), rc, obj.Size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		UserMetadata: map[string]string{
			"queue-id":      obj.QueueID,
			"base-sequence": fmt.Sprintf("%d", obj.BaseSequence),
			"records":       fmt.Sprintf("%d", obj.Records),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload segment %d: %w", obj.SegmentID, err)
	}
	return nil
}
