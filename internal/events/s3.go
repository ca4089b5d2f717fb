package events

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"security-monitor/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// DeleteObjects aceita no máximo 1000 chaves por chamada
const s3DeleteChunk = 1000

// s3API é o subconjunto do *s3.Client usado pelo sink
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Sink grava cada lote como um objeto JSONL.gz particionado por data.
// A retenção remove objetos cuja última modificação é anterior ao corte:
// todo evento de um objeto tem timestamp anterior à gravação do objeto.
type S3Sink struct {
	client s3API
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Sink carrega a configuração padrão da AWS e cria o cliente S3
func NewS3Sink(ctx context.Context, region, bucket, prefix string) (*S3Sink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// tentativas controladas pelo emissor
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 1
	})

	return newS3SinkWithClient(client, bucket, prefix), nil
}

func newS3SinkWithClient(client s3API, bucket, prefix string) *S3Sink {
	return &S3Sink{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *S3Sink) Name() string {
	return "s3"
}

// WriteBatch grava o lote em um novo objeto
func (s *S3Sink) WriteBatch(ctx context.Context, events []domain.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}

	body, err := EncodeJSONLGZ(events)
	if err != nil {
		return fmt.Errorf("failed to encode security events: %w", err)
	}

	key := s.objectKey(s.now().UTC())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// DeleteOlderThan remove objetos modificados antes de cutoff; o retorno conta objetos, não eventos
func (s *S3Sink) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + "/"),
	})

	var expired []types.ObjectIdentifier
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to list security event objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.LastModified != nil && obj.LastModified.Before(cutoff) {
				expired = append(expired, types.ObjectIdentifier{Key: obj.Key})
			}
		}
	}

	var deleted int64
	for start := 0; start < len(expired); start += s3DeleteChunk {
		end := start + s3DeleteChunk
		if end > len(expired) {
			end = len(expired)
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: expired[start:end],
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete security event objects: %w", err)
		}
		deleted += int64(end-start) - int64(len(out.Errors))
	}

	return deleted, nil
}

func (s *S3Sink) Close() error {
	return nil
}

// objectKey segue prefix/YYYY/MM/DD/HHMMSS-<uuid>.jsonl.gz
func (s *S3Sink) objectKey(t time.Time) string {
	return path.Join(
		s.prefix,
		t.Format("2006"), t.Format("01"), t.Format("02"),
		fmt.Sprintf("%s-%s.jsonl.gz", t.Format("150405"), uuid.NewString()),
	)
}
