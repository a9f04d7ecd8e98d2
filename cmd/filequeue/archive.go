package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	miniogo "github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vnykmshr/filequeue/archive"
	minioarchive "github.com/vnykmshr/filequeue/archive/minio"
	s3archive "github.com/vnykmshr/filequeue/archive/s3"
	"github.com/vnykmshr/filequeue/pkg/filequeue"
)

// buildArchiver builds the remote archivers that Config.Options leaves to
// the caller. Returns nil for every other archive type.
func buildArchiver(ctx context.Context, c filequeue.ArchiveConfig) (archive.Archiver, error) {
	var (
		a   archive.Archiver
		err error
	)

	switch strings.ToLower(c.Type) {
	case "s3":
		a, err = newS3Archiver(ctx, c)
	case "minio":
		a, err = newMinioArchiver(c)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return archive.Throttle(a, c.BytesPerSecond), nil
}

func newS3Archiver(ctx context.Context, c filequeue.ArchiveConfig) (archive.Archiver, error) {
	if c.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required for s3")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(c.Region))
	}
	if c.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})

	return s3archive.New(client, c.Bucket, c.Prefix, s3archive.DefaultUploadConfig()), nil
}

func newMinioArchiver(c filequeue.ArchiveConfig) (archive.Archiver, error) {
	if c.Bucket == "" || c.Endpoint == "" {
		return nil, fmt.Errorf("archive bucket and endpoint are required for minio")
	}

	client, err := miniogo.New(c.Endpoint, &miniogo.Options{
		Creds:  miniocreds.NewStaticV4(c.AccessKeyID, c.SecretAccessKey, ""),
		Secure: c.UseSSL,
		Region: c.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return minioarchive.New(client, c.Bucket, c.Prefix), nil
}
