package payload

import (
	"context"
	"bytes"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Backend stores gzip blobs in S3 under a configured prefix, for
// operators who want off-box archival of large signal/message bodies.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Backend loads the default AWS config for region and builds the S3
// client. The bucket is not contacted here; access is first exercised by
// the first Put or Get.
func NewS3Backend(ctx context.Context, bucket, prefix, region string) (*S3Backend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("payload: load AWS config: %w", err)
	}
	return &S3Backend{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (b *S3Backend) key(sha256Hex string) string {
	if b.prefix == "" {
		return sha256Hex + ".txt.gz"
	}
	return b.prefix + "/" + sha256Hex + ".txt.gz"
}

// Put uploads gzipped bytes under the blob's content-addressed key.
func (b *S3Backend) Put(ctx context.Context, sha256Hex string, gzipped []byte) (string, error) {
	key := b.key(sha256Hex)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(gzipped),
		ContentEncoding: aws.String("gzip"),
		ContentType:     aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("payload: s3 put %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", b.bucket, key), nil
}

// Get downloads and gzip-decompresses the object at ref (an s3://bucket/key URI).
func (b *S3Backend) Get(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, err := parseS3Ref(ref)
	if err != nil {
		return nil, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("payload: s3 get %s: %w", ref, err)
	}
	defer out.Body.Close()
	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("payload: read s3 body: %w", err)
	}
	return gunzip(raw)
}

func parseS3Ref(ref string) (bucket, key string, err error) {
	const prefix = "s3://"
	if len(ref) <= len(prefix) || ref[:len(prefix)] != prefix {
		return "", "", fmt.Errorf("payload: invalid s3 ref %q", ref)
	}
	rest := ref[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("payload: invalid s3 ref %q", ref)
}
