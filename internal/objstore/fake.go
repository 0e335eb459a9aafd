package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Fake is an in-memory API implementation honoring conditional writes.
//
// It supports IfNoneMatch "*" and IfMatch on PutObject and paginates
// ListObjectsV2 by MaxKeys, which is enough to exercise the stores without S3.
type Fake struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	seq     uint64
	clock   func() time.Time

	// PageSize caps keys per ListObjectsV2 page when the request sets no MaxKeys.
	PageSize int32
}

type fakeObject struct {
	body     []byte
	etag     string
	modified time.Time
}

// Compile-time assertion that Fake implements API.
var _ API = (*Fake)(nil)

// NewFake creates an empty fake bucket. A nil clock uses time.Now.
func NewFake(clock func() time.Time) *Fake {
	if clock == nil {
		clock = time.Now
	}

	return &Fake{objects: make(map[string]fakeObject), clock: clock, PageSize: 1000}
}

// PutObject stores the body, enforcing IfNoneMatch and IfMatch preconditions.
func (f *Fake) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(in.Key)
	current, exists := f.objects[key]
	if aws.ToString(in.IfNoneMatch) == "*" && exists {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "object exists"}
	}
	if in.IfMatch != nil && (!exists || current.etag != aws.ToString(in.IfMatch)) {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "etag mismatch"}
	}

	f.seq++
	obj := fakeObject{body: body, etag: strconv.Quote("v" + strconv.FormatUint(f.seq, 10)), modified: f.clock()}
	f.objects[key] = obj

	return &s3.PutObjectOutput{ETag: aws.String(obj.etag)}, nil
}

// GetObject returns the object body or NoSuchKey.
func (f *Fake) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("no such key")}
	}

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(slices.Clone(obj.body))),
		ETag:          aws.String(obj.etag),
		LastModified:  aws.Time(obj.modified),
		ContentLength: aws.Int64(int64(len(obj.body))),
	}, nil
}

// HeadObject returns object metadata or NotFound.
func (f *Fake) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NotFound{Message: aws.String("not found")}
	}

	return &s3.HeadObjectOutput{ETag: aws.String(obj.etag), LastModified: aws.Time(obj.modified)}, nil
}

// DeleteObject removes the object; missing objects are not an error, as in S3.
// With IfMatch the object must exist and carry that ETag.
func (f *Fake) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(in.Key)
	if in.IfMatch != nil {
		current, exists := f.objects[key]
		if !exists {
			return nil, &s3types.NoSuchKey{Message: aws.String("no such key")}
		}
		if current.etag != aws.ToString(in.IfMatch) {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "etag mismatch"}
		}
	}
	delete(f.objects, key)

	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2 lists keys by prefix in lexical order, one page at a time.
func (f *Fake) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	start := 0
	if token := aws.ToString(in.ContinuationToken); token != "" {
		n, err := strconv.Atoi(token)
		if err != nil {
			return nil, fmt.Errorf("invalid continuation token %q", token)
		}
		start = n
	}

	limit := int(f.PageSize)
	if in.MaxKeys != nil && *in.MaxKeys > 0 {
		limit = int(*in.MaxKeys)
	}
	end := min(start+limit, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, key := range keys[start:end] {
		obj := f.objects[key]
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(key),
			ETag:         aws.String(obj.etag),
			LastModified: aws.Time(obj.modified),
			Size:         aws.Int64(int64(len(obj.body))),
		})
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents))) //nolint:gosec // page size is bounded
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}

	return out, nil
}

// Len returns the number of stored objects.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.objects)
}
