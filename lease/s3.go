package lease

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/arloliu/leash/internal/objstore"
)

// S3Store is a Store backed by S3 objects with conditional writes.
//
// Each key is one object under the configured prefix. Creates use
// If-None-Match: "*" and updates use If-Match with the ETag that was read, so a
// concurrent writer makes the request fail with 412 and the operation reports
// contention. Listings page through ListObjectsV2 and carry only metadata.
type S3Store struct {
	api    objstore.API
	bucket string
	prefix string
	clock  func() time.Time
}

// S3Option configures an S3Store.
type S3Option func(*S3Store)

// WithS3Clock sets the time source used for expiry decisions.
func WithS3Clock(clock func() time.Time) S3Option {
	return func(s *S3Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Compile-time assertion that S3Store implements Store.
var _ Store = (*S3Store)(nil)

// NewS3Store wraps an S3 API client.
//
// Parameters:
//   - api: S3 client (or a fake in tests)
//   - bucket: Bucket name
//   - prefix: Object key prefix, e.g. "leash/leases/"; may be empty
//
// Example:
//
//	client, _ := objstore.NewClient(ctx, cfg)
//	store := lease.NewS3Store(client, cfg.Bucket, cfg.Prefix)
func NewS3Store(api objstore.API, bucket, prefix string, opts ...S3Option) *S3Store {
	s := &S3Store{api: api, bucket: bucket, prefix: prefix, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// TryCreateIfAbsent implements Store.
func (s *S3Store) TryCreateIfAbsent(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}

	err := s.write(ctx, key, &envelope{}, "")
	if errors.Is(err, ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// AcquireLease implements Store.
func (s *S3Store) AcquireLease(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	if err := validateLeaseArgs(key, holderID, ttl); err != nil {
		return false, err
	}

	env, etag, _, err := s.read(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		env = envelope{}
	case err != nil:
		return false, err
	}

	if !env.acquire(holderID, s.clock(), ttl) {
		return false, nil
	}

	err = s.write(ctx, key, &env, etag)
	if errors.Is(err, ErrConflict) {
		return false, nil
	}

	return err == nil, err
}

// RenewLease implements Store.
func (s *S3Store) RenewLease(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	if err := validateLeaseArgs(key, holderID, ttl); err != nil {
		return false, err
	}

	env, etag, _, err := s.read(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !env.renew(holderID, s.clock(), ttl) {
		return false, nil
	}

	err = s.write(ctx, key, &env, etag)
	if errors.Is(err, ErrConflict) {
		return false, nil
	}

	return err == nil, err
}

// Put implements Store.
func (s *S3Store) Put(ctx context.Context, key string, value []byte, holderID string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	for range maxWriteAttempts {
		env, etag, _, err := s.read(ctx, key)
		switch {
		case errors.Is(err, ErrNotFound):
			env = envelope{}
		case err != nil:
			return err
		}

		if holderID != "" && (etag == "" || !env.heldBy(holderID, s.clock())) {
			return ErrNotHolder
		}

		env.Data = value
		err = s.write(ctx, key, &env, etag)
		if !errors.Is(err, ErrConflict) || holderID != "" {
			return err
		}
	}

	return fmt.Errorf("put %s: %w", key, ErrConflict)
}

// Get implements Store.
func (s *S3Store) Get(ctx context.Context, key string) (Record, error) {
	env, etag, modified, err := s.read(ctx, key)
	if err != nil {
		return Record{}, err
	}

	return env.record(key, modified, etag), nil
}

// ListByPrefix implements Store. Records carry key, ETag and last-modified
// time only; Value, Holder and ExpiresAt are left empty to avoid one GET per object.
func (s *S3Store) ListByPrefix(ctx context.Context, prefix string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(s.objectKey(prefix) + "."),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(Record{}, fmt.Errorf("list %s: %w", prefix, err))
				return
			}

			for _, obj := range page.Contents {
				rec := Record{
					Key:          strings.TrimPrefix(aws.ToString(obj.Key), s.prefix),
					LastModified: aws.ToTime(obj.LastModified),
					Version:      aws.ToString(obj.ETag),
				}
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}

// LastModified implements Store.
func (s *S3Store) LastModified(ctx context.Context, key string) (time.Time, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if objstore.IsNotFound(err) {
			return time.Time{}, ErrNotFound
		}

		return time.Time{}, fmt.Errorf("head %s: %w", key, err)
	}

	return aws.ToTime(out.LastModified), nil
}

// Delete implements Store.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !objstore.IsNotFound(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	return nil
}

// DeleteIfVersion implements Store using If-Match on the ETag.
func (s *S3Store) DeleteIfVersion(ctx context.Context, key, version string) error {
	if version == "" {
		return fmt.Errorf("delete %s: empty etag: %w", key, ErrConflict)
	}

	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket:  aws.String(s.bucket),
		Key:     aws.String(s.objectKey(key)),
		IfMatch: aws.String(version),
	})
	if err != nil {
		if objstore.IsPreconditionFailed(err) || objstore.IsNotFound(err) {
			return fmt.Errorf("delete %s: %w", key, ErrConflict)
		}

		return fmt.Errorf("delete %s: %w", key, err)
	}

	return nil
}

func (s *S3Store) objectKey(key string) string {
	return s.prefix + key
}

// read fetches and decodes the object at key, returning its ETag and last-modified time.
func (s *S3Store) read(ctx context.Context, key string) (envelope, string, time.Time, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if objstore.IsNotFound(err) {
			return envelope{}, "", time.Time{}, ErrNotFound
		}

		return envelope{}, "", time.Time{}, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return envelope{}, "", time.Time{}, fmt.Errorf("read %s: %w", key, err)
	}

	env, err := decodeEnvelope(raw)
	if err != nil {
		return envelope{}, "", time.Time{}, err
	}

	return env, aws.ToString(out.ETag), aws.ToTime(out.LastModified), nil
}

// write stores env conditionally: If-None-Match when etag is empty, If-Match otherwise.
func (s *S3Store) write(ctx context.Context, key string, env *envelope, etag string) error {
	raw, err := env.encode()
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	}
	if etag == "" {
		input.IfNoneMatch = aws.String("*")
	} else {
		input.IfMatch = aws.String(etag)
	}

	if _, err := s.api.PutObject(ctx, input); err != nil {
		if objstore.IsPreconditionFailed(err) {
			return fmt.Errorf("write %s: %w", key, ErrConflict)
		}

		return fmt.Errorf("put %s: %w", key, err)
	}

	return nil
}
