// Package remote defines the boundary to the remote source of truth and the
// patch format shared by its backends.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/dmitrijs2005/gophnotes/internal/schema"
)

// Store is the remote relational store as seen by the replication core.
//
// Read returns the non-tombstoned records of owner. Upsert inserts or
// replaces by id; replaying the same record is a no-op and an older
// updated_at never replaces a newer one. Patch merges fields into an
// existing record.
type Store interface {
	Read(ctx context.Context, table, owner string) ([]models.Record, error)
	Upsert(ctx context.Context, table string, rec models.Record) error
	Patch(ctx context.Context, table, id string, fields map[string]any) error
}

// Pinger is implemented by stores that can cheaply check reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IsUnavailable reports whether err means the remote could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, common.ErrRemoteUnavailable)
}

// Unavailable wraps err as common.ErrRemoteUnavailable.
func Unavailable(err error) error {
	if err == nil || IsUnavailable(err) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrRemoteUnavailable, err)
}

// PatchSpec is a parsed Patch argument.
type PatchSpec struct {
	// Set holds domain fields to write.
	Set map[string]any
	// Unset lists domain fields to remove (nil values in the patch).
	Unset []string
	// UpdatedAt is the new updated_at of the record.
	UpdatedAt time.Time
	// DeletedAt is applied only when HasDeletedAt is true; nil restores the record.
	DeletedAt    *time.Time
	HasDeletedAt bool
	// OwnerID, when set, restricts the patch to a record of that owner.
	// It never changes the stored owner.
	OwnerID string
}

// ParsePatch splits patch fields into domain changes and reserved
// attributes. updated_at is required and must be a time.Time; deleted_at,
// when present, must be a time.Time or nil; owner_id, when present, must be
// a non-empty string and guards the patch. Other reserved names are rejected.
func ParsePatch(fields map[string]any) (PatchSpec, error) {
	spec := PatchSpec{Set: map[string]any{}}
	for k, v := range fields {
		switch k {
		case schema.FieldUpdatedAt:
			t, ok := v.(time.Time)
			if !ok {
				return PatchSpec{}, fmt.Errorf("patch %s must be a time, got %T", k, v)
			}
			spec.UpdatedAt = t
		case schema.FieldOwnerID:
			owner, ok := v.(string)
			if !ok || owner == "" {
				return PatchSpec{}, fmt.Errorf("patch %s must be a non-empty string, got %#v", k, v)
			}
			spec.OwnerID = owner
		case schema.FieldDeletedAt:
			spec.HasDeletedAt = true
			switch d := v.(type) {
			case nil:
			case time.Time:
				spec.DeletedAt = &d
			case *time.Time:
				spec.DeletedAt = d
			default:
				return PatchSpec{}, fmt.Errorf("patch %s must be a time or nil, got %T", k, v)
			}
		default:
			if schema.IsReserved(k) {
				return PatchSpec{}, fmt.Errorf("%w: %s", common.ErrReservedField, k)
			}
			if v == nil {
				spec.Unset = append(spec.Unset, k)
				continue
			}
			spec.Set[k] = v
		}
	}
	if spec.UpdatedAt.IsZero() {
		return PatchSpec{}, fmt.Errorf("patch without %s", schema.FieldUpdatedAt)
	}
	return spec, nil
}

// Matches reports whether the patch may be applied to a record owned by owner.
func (p PatchSpec) Matches(owner string) bool {
	return p.OwnerID == "" || p.OwnerID == owner
}

// Apply returns rec with the patch applied.
func (p PatchSpec) Apply(rec models.Record) models.Record {
	out := rec.Clone()
	for k, v := range p.Set {
		out.Fields[k] = v
	}
	for _, k := range p.Unset {
		delete(out.Fields, k)
	}
	out.UpdatedAt = p.UpdatedAt
	if p.HasDeletedAt {
		out.DeletedAt = p.DeletedAt
	}
	return out
}

// Offline is a Store that is never reachable.
type Offline struct{}

func (Offline) Read(context.Context, string, string) ([]models.Record, error) {
	return nil, fmt.Errorf("offline: %w", common.ErrRemoteUnavailable)
}

func (Offline) Upsert(context.Context, string, models.Record) error {
	return fmt.Errorf("offline: %w", common.ErrRemoteUnavailable)
}

func (Offline) Patch(context.Context, string, string, map[string]any) error {
	return fmt.Errorf("offline: %w", common.ErrRemoteUnavailable)
}

func (Offline) Ping(context.Context) error {
	return fmt.Errorf("offline: %w", common.ErrRemoteUnavailable)
}

var (
	_ Store  = Offline{}
	_ Pinger = Offline{}
)
