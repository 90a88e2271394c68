package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrEmptyBucket is returned when the archive has no bucket configured.
var ErrEmptyBucket = errors.New("empty s3 bucket")

// S3PutAPI is the part of the S3 client used for uploads.
type S3PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3GetPresigner is satisfied by *s3.PresignClient.
type S3GetPresigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Archive stores generated files in one bucket and hands out short-lived
// download links.
type S3Archive struct {
	client    S3PutAPI
	presigner S3GetPresigner
	bucket    string
	expiry    time.Duration
}

func NewS3Archive(cfg sdkaws.Config, bucket string) *S3Archive {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// LocalStack only supports path-style addressing.
		o.UsePathStyle = localEndpoint() != ""
	})
	return NewS3ArchiveWithClient(client, s3.NewPresignClient(client), bucket)
}

func NewS3ArchiveWithClient(client S3PutAPI, presigner S3GetPresigner, bucket string) *S3Archive {
	return &S3Archive{client: client, presigner: presigner, bucket: bucket, expiry: 15 * time.Minute}
}

// Store uploads body under key and returns a presigned GET URL valid for the
// archive expiry.
func (a *S3Archive) Store(ctx context.Context, key, contentType string, body []byte) (string, time.Time, error) {
	if a.bucket == "" {
		return "", time.Time{}, ErrEmptyBucket
	}
	if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      sdkaws.String(a.bucket),
		Key:         sdkaws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: sdkaws.String(contentType),
	}); err != nil {
		return "", time.Time{}, fmt.Errorf("s3 put %s/%s: %w", a.bucket, key, err)
	}

	expires := time.Now().Add(a.expiry)
	req, err := a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: sdkaws.String(a.bucket),
		Key:    sdkaws.String(key),
	}, func(o *s3.PresignOptions) { o.Expires = a.expiry })
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign get object: %w", err)
	}
	return req.URL, expires, nil
}
