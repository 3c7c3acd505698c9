// Package objectstore implements remote.Store on an S3-compatible bucket.
//
// Layout:
//
//	<table>/records/<id>.json        the record in its flat JSON form
//	<table>/owners/<owner>/<id>      empty marker listing the owner's ids
//
// Writes are read-modify-write guarded by the object ETag (If-Match /
// If-None-Match), so a concurrent writer surfaces as
// common.ErrVersionConflict instead of a lost update.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/dmitrijs2005/gophnotes/internal/remote"
	"github.com/dmitrijs2005/gophnotes/internal/schema"
)

// API is the part of *s3.Client the store uses.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

type Store struct {
	api    API
	bucket string
	reg    *schema.Registry
}

var (
	_ remote.Store  = (*Store)(nil)
	_ remote.Pinger = (*Store)(nil)
)

func NewStore(api API, bucket string, reg *schema.Registry) *Store {
	return &Store{api: api, bucket: bucket, reg: reg}
}

func recordKey(table, id string) string {
	return table + "/records/" + id + ".json"
}

func ownerPrefix(table, owner string) string {
	return table + "/owners/" + owner + "/"
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return mapError(err)
}

func (s *Store) Read(ctx context.Context, table, owner string) ([]models.Record, error) {
	if _, err := s.reg.Lookup(table); err != nil {
		return nil, err
	}

	prefix := ownerPrefix(table, owner)
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	out := []models.Record{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, mapError(err))
		}
		for _, obj := range page.Contents {
			id := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			rec, _, err := s.get(ctx, table, id)
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if rec.OwnerID == owner && rec.Live() {
				out = append(out, rec)
			}
		}
	}

	slices.SortFunc(out, func(a, b models.Record) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Upsert writes rec unless a stored record of another owner or with a newer
// updated_at exists.
func (s *Store) Upsert(ctx context.Context, table string, rec models.Record) error {
	if _, err := s.reg.Lookup(table); err != nil {
		return err
	}

	cur, etag, err := s.get(ctx, table, rec.ID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		etag = ""
	case err != nil:
		return err
	case cur.OwnerID != rec.OwnerID || cur.UpdatedAt.After(rec.UpdatedAt):
		return fmt.Errorf("upsert %s/%s: %w", table, rec.ID, common.ErrVersionConflict)
	}

	if err := s.put(ctx, table, rec, etag); err != nil {
		return err
	}
	return s.mark(ctx, table, rec)
}

// Patch applies fields to a stored record. A missing or newer record is
// reported as common.ErrVersionConflict.
func (s *Store) Patch(ctx context.Context, table, id string, fields map[string]any) error {
	if _, err := s.reg.Lookup(table); err != nil {
		return err
	}
	spec, err := remote.ParsePatch(fields)
	if err != nil {
		return err
	}

	cur, etag, err := s.get(ctx, table, id)
	if errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("patch %s/%s: %w", table, id, common.ErrVersionConflict)
	}
	if err != nil {
		return err
	}
	if !spec.Matches(cur.OwnerID) || cur.UpdatedAt.After(spec.UpdatedAt) {
		return fmt.Errorf("patch %s/%s: %w", table, id, common.ErrVersionConflict)
	}

	return s.put(ctx, table, spec.Apply(cur), etag)
}

func (s *Store) get(ctx context.Context, table, id string) (models.Record, string, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(recordKey(table, id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return models.Record{}, "", fmt.Errorf("%s/%s: %w", table, id, common.ErrNotFound)
		}
		return models.Record{}, "", fmt.Errorf("failed to get %s/%s: %w", table, id, mapError(err))
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return models.Record{}, "", fmt.Errorf("failed to read %s/%s: %w", table, id, remote.Unavailable(err))
	}

	var rec models.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return models.Record{}, "", fmt.Errorf("corrupt object %s/%s: %w", table, id, err)
	}
	return rec, aws.ToString(out.ETag), nil
}

// put writes rec. With an etag the write succeeds only if the object is
// unchanged; without one only if it does not exist yet.
func (s *Store) put(ctx context.Context, table string, rec models.Record, etag string) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", table, rec.ID, err)
	}

	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(recordKey(table, rec.ID)),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	}
	if etag != "" {
		in.IfMatch = aws.String(etag)
	} else {
		in.IfNoneMatch = aws.String("*")
	}

	if _, err := s.api.PutObject(ctx, in); err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("put %s/%s: %w", table, rec.ID, common.ErrVersionConflict)
		}
		return fmt.Errorf("failed to put %s/%s: %w", table, rec.ID, mapError(err))
	}
	return nil
}

func (s *Store) mark(ctx context.Context, table string, rec models.Record) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ownerPrefix(table, rec.OwnerID) + rec.ID),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("failed to index %s/%s: %w", table, rec.ID, mapError(err))
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}

// mapError keeps errors the service answered with and marks everything else
// (network, timeouts) as unavailability.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return remote.Unavailable(err)
}
