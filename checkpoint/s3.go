package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/arloliu/leash/internal/objstore"
)

// S3Store keeps one JSON object per partition checkpoint.
type S3Store struct {
	api    objstore.API
	bucket string
	prefix string
	keys   keyspace
	clock  func() time.Time
}

// Compile-time assertion that S3Store implements Store.
var _ Store = (*S3Store)(nil)

// NewS3Store creates a store writing under prefix in bucket.
//
// Example:
//
//	client, _ := objstore.NewClient(ctx, cfg)
//	store := checkpoint.NewS3Store(client, cfg.Bucket, cfg.Prefix, checkpoint.SourceID("kinesis", streamARN))
func NewS3Store(api objstore.API, bucket, prefix, sourceID string) *S3Store {
	return &S3Store{
		api:    api,
		bucket: bucket,
		prefix: prefix,
		keys:   keyspace{prefix: DefaultPrefix, source: sourceID},
		clock:  time.Now,
	}
}

// Get implements Store.
func (s *S3Store) Get(ctx context.Context, partitionID string) (Checkpoint, bool, error) {
	if err := ValidatePartitionID(partitionID); err != nil {
		return Checkpoint{}, false, err
	}

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(partitionID)),
	})
	if err != nil {
		if objstore.IsNotFound(err) {
			return Checkpoint{}, false, nil
		}

		return Checkpoint{}, false, fmt.Errorf("get checkpoint %s: %w", partitionID, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint %s: %w", partitionID, err)
	}
	cp, err := decode(raw)
	if err != nil {
		return Checkpoint{}, false, err
	}

	return cp, true, nil
}

// Set implements Store.
func (s *S3Store) Set(ctx context.Context, partitionID, position string, eventTime time.Time) error {
	if err := ValidatePartitionID(partitionID); err != nil {
		return err
	}

	raw, err := encode(Checkpoint{
		PartitionID: partitionID,
		Position:    position,
		Time:        eventTime.UTC(),
		UpdatedAt:   s.clock().UTC(),
	})
	if err != nil {
		return err
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(partitionID)),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("set checkpoint %s: %w", partitionID, err)
	}

	return nil
}

// ResetAll implements Store.
func (s *S3Store) ResetAll(ctx context.Context) error {
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + s.keys.prefix + "."),
	})

	var foreign []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list checkpoints: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.keys.foreign(strings.TrimPrefix(key, s.prefix)) {
				foreign = append(foreign, key)
			}
		}
	}

	for _, key := range foreign {
		_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil && !objstore.IsNotFound(err) {
			return fmt.Errorf("delete checkpoint %s: %w", key, err)
		}
	}

	return nil
}

func (s *S3Store) objectKey(partitionID string) string {
	return s.prefix + s.keys.key(partitionID)
}
