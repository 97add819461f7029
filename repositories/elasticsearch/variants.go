package elasticsearch

import (
	"context"
	"errors"
	"time"

	"gohan/genotypes/models/indexes"
	"gohan/genotypes/repositories"
)

func (s *Store) GetVariant(ctx context.Context, id string) (*indexes.Variant, error) {
	var v indexes.Variant
	if err := s.getDocument(ctx, indexes.VARIANTS_INDEX, id, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateVariant fails with ErrVersionConflict when the id is taken.
func (s *Store) CreateVariant(ctx context.Context, v *indexes.Variant) error {
	v.Version = 1
	if v.CreatedTime.IsZero() {
		v.CreatedTime = time.Now()
	}
	return s.putDocument(ctx, indexes.VARIANTS_INDEX, v.Id, v, -1)
}

// UpdateVariant writes v only if the stored version still is expectedVersion.
func (s *Store) UpdateVariant(ctx context.Context, v *indexes.Variant, expectedVersion int64) error {
	v.Version = expectedVersion + 1
	if err := s.putDocument(ctx, indexes.VARIANTS_INDEX, v.Id, v, expectedVersion); err != nil {
		v.Version = expectedVersion
		return err
	}
	return nil
}

// BulkInsertVariants creates variants in bulk; ids already present are
// returned as failed.
func (s *Store) BulkInsertVariants(ctx context.Context, variants []*indexes.Variant) ([]string, error) {
	docs := make(map[string]interface{}, len(variants))
	now := time.Now()
	for _, v := range variants {
		if v.Version == 0 {
			v.Version = 1
		}
		if v.CreatedTime.IsZero() {
			v.CreatedTime = now
		}
		docs[v.Id] = v
	}
	return s.bulk(ctx, indexes.VARIANTS_INDEX, "create", docs)
}

func (s *Store) ScanVariants(ctx context.Context, fn func(*indexes.Variant) error) error {
	err := s.scan(ctx, indexes.VARIANTS_INDEX, map[string]interface{}{"match_all": map[string]interface{}{}}, func(source interface{}) error {
		var v indexes.Variant
		if err := decodeSource(source, &v); err != nil {
			return err
		}
		return fn(&v)
	})
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Store) CountVariants(ctx context.Context) (int64, error) {
	return s.count(ctx, indexes.VARIANTS_INDEX)
}
