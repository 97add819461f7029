package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gohan/genotypes/models/indexes"
	"gohan/genotypes/repositories"
)

// SaveVariantRunData indexes run records under their composite ids,
// replacing earlier records of the same project, run and variant.
func (s *Store) SaveVariantRunData(ctx context.Context, runs []*indexes.VariantRunData) ([]string, error) {
	docs := make(map[string]interface{}, len(runs))
	now := time.Now()
	for _, r := range runs {
		if r.Id == "" {
			r.Id = indexes.VariantRunDataId(r.ProjectId, r.RunName, r.VariantId)
		}
		if r.CreatedTime.IsZero() {
			r.CreatedTime = now
		}
		docs[r.Id] = r
	}
	failed, err := s.bulk(ctx, indexes.VARIANT_RUN_DATA_INDEX, "index", docs)
	if err != nil {
		return nil, err
	}

	// report variant ids, as callers do
	byDoc := make(map[string]string, len(runs))
	for _, r := range runs {
		byDoc[r.Id] = r.VariantId
	}
	for i, id := range failed {
		failed[i] = byDoc[id]
	}
	return failed, nil
}

func (s *Store) GetVariantRunData(ctx context.Context, projectId string, runName string, variantId string) (*indexes.VariantRunData, error) {
	var r indexes.VariantRunData
	if err := s.getDocument(ctx, indexes.VARIANT_RUN_DATA_INDEX, indexes.VariantRunDataId(projectId, runName, variantId), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteVariantRunData removes every record of a run and returns how many
// were deleted.
func (s *Store) DeleteVariantRunData(ctx context.Context, projectId string, runName string) (int64, error) {
	body, err := json.Marshal(map[string]interface{}{"query": runQuery(projectId, runName)})
	if err != nil {
		return 0, err
	}
	res, err := s.es.DeleteByQuery(
		[]string{indexes.VARIANT_RUN_DATA_INDEX},
		bytes.NewReader(body),
		s.es.DeleteByQuery.WithContext(ctx),
		s.es.DeleteByQuery.WithRefresh(true),
		s.es.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting run %s/%s: %w", projectId, runName, err)
	}
	parsed, err := readResponse(res)
	if errors.Is(err, repositories.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	deleted, _ := parsed.Path("deleted").Data().(float64)
	s.logger.Info("deleted run records", "project", projectId, "run", runName, "deleted", int64(deleted))
	return int64(deleted), nil
}

func runQuery(projectId string, runName string) map[string]interface{} {
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"filter": []map[string]interface{}{
				{"term": map[string]interface{}{"projectId": projectId}},
				{"term": map[string]interface{}{"runName": runName}},
			},
		},
	}
}
