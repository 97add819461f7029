package reports

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gohan/genotypes/models"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Sink stores operator-facing text artifacts such as the synonym
// inconsistency report and returns where they ended up.
type Sink interface {
	Save(ctx context.Context, name string, body []byte) (string, error)
}

type FileSink struct {
	Dir string
}

func (fs *FileSink) Save(ctx context.Context, name string, body []byte) (string, error) {
	if err := os.MkdirAll(fs.Dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(fs.Dir, filepath.Base(name))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	PathStyle bool
}

type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3SinkFromClient(client, cfg.Bucket, cfg.Prefix), nil
}

func NewS3SinkFromClient(client *s3.Client, bucket string, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Sink) Save(ctx context.Context, name string, body []byte) (string, error) {
	key := s.prefix + filepath.Base(name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/tab-separated-values"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading report %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// NewSink picks the S3 sink when a bucket is configured, the reports
// directory otherwise.
func NewSink(ctx context.Context, cfg *models.Config) (Sink, error) {
	if cfg.Reports.S3Bucket != "" {
		return NewS3Sink(ctx, S3Config{
			Bucket:    cfg.Reports.S3Bucket,
			Region:    cfg.Reports.S3Region,
			Endpoint:  cfg.Reports.S3Endpoint,
			Prefix:    "genotype-reports/",
			PathStyle: cfg.Reports.PathStyle,
		})
	}
	return &FileSink{Dir: cfg.Api.ReportsPath}, nil
}
