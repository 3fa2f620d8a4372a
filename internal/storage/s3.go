package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// S3Options configures the S3 client.
type S3Options struct {
	Bucket       string
	Region       string
	AccessKeyID  string
	SecretKey    string
	SourcePrefix string
	OutputPrefix string
}

// S3Client keeps source documents and committed outputs in one bucket.
// Sources live under SourcePrefix as <id>.pdf with catalog fields in the
// object metadata (title, correspondent, document-type, tags, created).
type S3Client struct {
	client       *s3.Client
	uploader     *manager.Uploader
	bucketName   string
	sourcePrefix string
	outputPrefix string
}

// NewS3Client creates a new S3 client. Static credentials are used when
// given, the default AWS chain otherwise.
func NewS3Client(ctx context.Context, opts S3Options) (*S3Client, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3: bucket not configured")
	}
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(cfg)
	return &S3Client{
		client:       cli,
		uploader:     manager.NewUploader(cli),
		bucketName:   opts.Bucket,
		sourcePrefix: opts.SourcePrefix,
		outputPrefix: opts.OutputPrefix,
	}, nil
}

func (s *S3Client) sourceKey(id string) string { return s.sourcePrefix + id + ".pdf" }

// Fetch downloads a source document.
func (s *S3Client) Fetch(ctx context.Context, id string) (*Document, error) {
	if err := checkID(id); err != nil {
		return nil, fmt.Errorf("%w: %q", err, id)
	}
	key := s.sourceKey(id)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}
	doc := documentFromMetadata(id, out.Metadata)
	doc.Data = data
	log.Debug().Str("bucket", s.bucketName).Str("key", key).Int("size", len(data)).Msg("fetched source document")
	return doc, nil
}

func documentFromMetadata(id string, meta map[string]string) *Document {
	get := func(k string) string {
		for mk, v := range meta {
			if strings.EqualFold(mk, k) {
				return v
			}
		}
		return ""
	}
	doc := &Document{
		ID:            id,
		Title:         get("title"),
		Correspondent: get("correspondent"),
		DocumentType:  get("document-type"),
	}
	if tags := get("tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				doc.Tags = append(doc.Tags, t)
			}
		}
	}
	if c := get("created"); c != "" {
		if t, err := time.Parse(time.RFC3339, c); err == nil {
			doc.Created = &t
		}
	}
	return doc
}

// Delete removes a source document.
func (s *S3Client) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return fmt.Errorf("%w: %q", err, id)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.sourceKey(id)),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	log.Info().Str("document", id).Msg("deleted source document")
	return nil
}

// Publish uploads a committed output below OutputPrefix and returns its s3:// location.
func (s *S3Client) Publish(ctx context.Context, name string, body io.Reader, meta map[string]string) (string, error) {
	key := s.outputPrefix + name
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/pdf"),
		Metadata:    meta,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	loc := fmt.Sprintf("s3://%s/%s", s.bucketName, key)
	log.Info().Str("location", loc).Msg("published output")
	return loc, nil
}

// Unpublish removes an output previously returned by Publish.
func (s *S3Client) Unpublish(ctx context.Context, location string) error {
	bucket, key, err := splitS3URL(location)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	return err
}

// Ping checks that the bucket is reachable.
func (s *S3Client) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucketName)})
	return err
}

func splitS3URL(u string) (string, string, error) {
	path := strings.TrimPrefix(u, "s3://")
	bucket, key, ok := strings.Cut(path, "/")
	if !ok || bucket == "" || key == "" || path == u {
		return "", "", fmt.Errorf("invalid s3 url: %s", u)
	}
	return bucket, key, nil
}
