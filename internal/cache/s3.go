package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	updatedAtMetaKey = "updated_at"
	recordType       = "application/json"
	nameDelimiter    = "/"
)

// S3Storage lays each named store out as a key prefix below a root prefix
// inside one bucket. Nothing outside the root is ever listed or deleted,
// so the bucket can be shared with other data.
type S3Storage struct {
	bucket   string
	root     string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Storage keeps every store under root in bucket. root must not be
// empty.
func NewS3Storage(bucket, root string, client *s3.Client) *S3Storage {
	return &S3Storage{
		bucket:   bucket,
		root:     strings.Trim(root, nameDelimiter) + nameDelimiter,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

// Open never touches the bucket: a prefix exists once its first entry does.
func (s *S3Storage) Open(_ context.Context, name string) (Store, error) {
	if name == "" || strings.Contains(name, nameDelimiter) {
		return nil, fmt.Errorf("invalid cache name %q", name)
	}
	return &S3Store{storage: s, name: name}, nil
}

func (s *S3Storage) Names(ctx context.Context) ([]string, error) {
	var names []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(s.root),
		Delimiter: aws.String(nameDelimiter),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimPrefix(aws.ToString(cp.Prefix), s.root)
			names = append(names, strings.TrimSuffix(name, nameDelimiter))
		}
	}
	return names, nil
}

func (s *S3Storage) Remove(ctx context.Context, name string) error {
	if name == "" || strings.Contains(name, nameDelimiter) {
		return fmt.Errorf("invalid cache name %q", name)
	}
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.storePrefix(name)),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return err
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete objects under %s: %w", name, err)
		}
	}
	return nil
}

func (s *S3Storage) storePrefix(name string) string {
	return s.root + name + nameDelimiter
}

// objectKey escapes the request key into a single path segment under the
// store prefix.
func (s *S3Storage) objectKey(name, key string) string {
	return s.storePrefix(name) + url.PathEscape(key)
}

type S3Store struct {
	storage *S3Storage
	name    string
}

func (s *S3Store) Name() string { return s.name }

func (s *S3Store) Match(ctx context.Context, key string) (Object, error) {
	out, err := s.storage.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.storage.bucket),
		Key:    aws.String(s.storage.objectKey(s.name, key)),
	})
	if err != nil {
		if isNotFound(err) {
			return Object{}, ErrNotFound
		}
		return Object{}, err
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return Object{}, err
	}
	obj, err := decodeRecord(raw)
	if err != nil {
		return Object{}, fmt.Errorf("decode %s: %w", key, err)
	}
	if obj.UpdatedAt.IsZero() {
		obj.UpdatedAt = parseUpdatedAt(out.Metadata)
	}
	return obj, nil
}

// Put writes the whole snapshot as the object body; only updated_at is
// copied into metadata for listing tools.
func (s *S3Store) Put(ctx context.Context, key string, obj Object) error {
	raw, err := encodeRecord(obj)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.storage.bucket),
		Key:         aws.String(s.storage.objectKey(s.name, key)),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String(recordType),
	}
	if !obj.UpdatedAt.IsZero() {
		input.Metadata = map[string]string{
			updatedAtMetaKey: strconv.FormatInt(obj.UpdatedAt.Unix(), 10),
		}
	}

	_, err = s.storage.uploader.Upload(ctx, input)
	return err
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.storage.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.storage.bucket),
		Key:    aws.String(s.storage.objectKey(s.name, key)),
	})
	return err
}

func (s *S3Store) Keys(ctx context.Context) ([]string, error) {
	prefix := s.storage.storePrefix(s.name)
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.storage.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.storage.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key, err := url.PathUnescape(strings.TrimPrefix(aws.ToString(obj.Key), prefix))
			if err != nil {
				continue
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func parseUpdatedAt(meta map[string]string) time.Time {
	val, ok := meta[updatedAtMetaKey]
	if !ok {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}

var (
	_ Storage = (*S3Storage)(nil)
	_ Store   = (*S3Store)(nil)
)
