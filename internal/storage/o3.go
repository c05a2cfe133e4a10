package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/klauspost/compress/gzip"

	"github.com/akave-ai/dgramlog/internal/config"
	"github.com/akave-ai/dgramlog/internal/ingest"
	"github.com/akave-ai/dgramlog/internal/model"
)

const (
	// BatchExt is the suffix of every uploaded batch object.
	BatchExt = ".msgpack.gz"
	// ContentType of uploaded batch objects.
	ContentType = "application/x-msgpack"
	// KeyPrefix is the root of every batch key.
	KeyPrefix = "logs/"
)

var ErrNotConfigured = errors.New("o3 client not configured")

// O3Client uploads and downloads batches from Akave O3 (S3-compatible API).
type O3Client struct {
	client *s3.Client
	bucket string
}

// NewO3Client builds an S3-compatible client for the given O3 config.
// Returns nil if cfg is nil or endpoint/bucket are empty.
func NewO3Client(cfg *config.O3Config) (*O3Client, error) {
	if cfg == nil || cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, nil
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	client := s3.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: aws.NewCredentialsCache(creds),
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})
	return &O3Client{client: client, bucket: cfg.Bucket}, nil
}

func (c *O3Client) Bucket() string {
	if c == nil {
		return ""
	}
	return c.bucket
}

// EnsureBucket creates the bucket when HeadBucket fails. A bucket that already
// exists under our account counts as success.
func (c *O3Client) EnsureBucket(ctx context.Context) error {
	if c == nil {
		return nil
	}
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}
	_, createErr := c.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)})
	if createErr != nil {
		var apiErr smithy.APIError
		if errors.As(createErr, &apiErr) {
			switch apiErr.ErrorCode() {
			case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
				return nil
			}
		}
		return fmt.Errorf("create bucket %s: %w", c.bucket, createErr)
	}
	return nil
}

func (c *O3Client) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if c == nil {
		return ErrNotConfigured
	}
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// KeyForBatch returns logs/<tag>/YYYY/MM/DD/<batchID>.msgpack.gz for the UTC
// date of at. Slashes in the tag are replaced so the date layout stays fixed.
func KeyForBatch(tag, batchID string, at time.Time) string {
	return path.Join(KeyPrefix, keyTag(tag), at.UTC().Format("2006/01/02"), batchID+BatchExt)
}

// TagFromKey recovers the tag segment of a key built by KeyForBatch.
func TagFromKey(key string) string {
	rest := strings.TrimPrefix(key, KeyPrefix)
	tag, _, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	return tag
}

func keyTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "default"
	}
	return strings.ReplaceAll(tag, "/", "_")
}

type ObjectInfo struct {
	Key          string    `json:"key"`
	Tag          string    `json:"tag"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ListObjects lists objects under prefix (e.g. "logs/"). Returns nil, nil if client is nil.
func (c *O3Client) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if c == nil {
		return nil, nil
	}
	var result []ObjectInfo
	p := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, o := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(o.Key), Size: aws.ToInt64(o.Size)}
			info.Tag = TagFromKey(info.Key)
			if o.LastModified != nil {
				info.LastModified = *o.LastModified
			}
			result = append(result, info)
		}
	}
	return result, nil
}

func (c *O3Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// GetObjectRecords downloads a batch object and decodes its records.
func (c *O3Client) GetObjectRecords(ctx context.Context, key string) ([]model.Record, error) {
	raw, err := c.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	return DecodeObject(raw, TagFromKey(key))
}

// DecodeObject gunzips raw and decodes the concatenated MessagePack batches in it.
func DecodeObject(raw []byte, tag string) ([]model.Record, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()
	decoded, err := ingest.DecodeStream(zr)
	if err != nil {
		return nil, fmt.Errorf("msgpack: %w", err)
	}
	records := make([]model.Record, 0, len(decoded))
	for _, d := range decoded {
		records = append(records, model.Record{Tag: tag, Time: d.Time, Payload: d.Payload})
	}
	return records, nil
}

// EncodeObject gzips concatenated batches into one object body.
func EncodeObject(batches [][]byte) ([]byte, error) {
	var out bytes.Buffer
	zw := gzip.NewWriter(&out)
	for _, b := range batches {
		if _, err := zw.Write(b); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return out.Bytes(), nil
}
