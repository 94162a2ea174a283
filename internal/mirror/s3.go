package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const documentSuffix = ".json"

// S3Options configures the S3 mirror backend. Endpoint is optional and enables
// S3-compatible object stores.
type S3Options struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	AccessKeySecret string
	Prefix          string
	Endpoint        string
	Logger          *zap.Logger
}

// S3Store mirrors notes as JSON objects in an S3 bucket under
// <prefix>/<key>.json. The object key minus prefix and suffix is the opaque
// document identifier.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3 builds the S3 mirror backend.
func NewS3(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("mirror: s3 bucket is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.AccessKeySecret, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("mirror: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		logger: logger,
	}, nil
}

func (s *S3Store) key(id string) string {
	if s.prefix == "" {
		return id + documentSuffix
	}
	return s.prefix + "/" + id + documentSuffix
}

func (s *S3Store) idFromKey(key string) (string, bool) {
	if s.prefix != "" {
		key = strings.TrimPrefix(key, s.prefix+"/")
	}
	if !strings.HasSuffix(key, documentSuffix) || strings.Contains(key, "/") {
		return "", false
	}
	return strings.TrimSuffix(key, documentSuffix), true
}

func (s *S3Store) put(ctx context.Context, id string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s *S3Store) get(ctx context.Context, id string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Store) ListNotes(ctx context.Context) ([]StoredDocument, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}

	var docs []StoredDocument
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, object := range page.Contents {
			if object.Key == nil {
				continue
			}
			id, ok := s.idFromKey(*object.Key)
			if !ok {
				continue
			}
			data, err := s.get(ctx, id)
			if err != nil {
				if errors.Is(err, ErrDocumentNotFound) {
					continue
				}
				return nil, err
			}
			doc, err := decodeDocument(data)
			if err != nil {
				s.logger.Warn("skipping undecodable mirror document",
					zap.String("documentID", id),
					zap.Error(err))
				continue
			}
			docs = append(docs, StoredDocument{ID: id, Document: doc})
		}
	}
	return docs, nil
}

func (s *S3Store) AddNote(ctx context.Context, doc Document) (string, error) {
	data, err := encodeDocument(doc)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := s.put(ctx, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *S3Store) UpdateNote(ctx context.Context, id string, doc Document) error {
	existing, err := s.get(ctx, id)
	if err != nil && !errors.Is(err, ErrDocumentNotFound) {
		return err
	}
	merged, err := mergeDocument(existing, doc)
	if err != nil {
		return err
	}
	return s.put(ctx, id, merged)
}

func (s *S3Store) DeleteNote(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	return err
}

func (s *S3Store) GetNote(ctx context.Context, id string) (Document, error) {
	data, err := s.get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	return decodeDocument(data)
}

func (s *S3Store) GetNoteByLocalID(ctx context.Context, localID int64) (StoredDocument, error) {
	return findByLocalID(ctx, s, localID)
}
