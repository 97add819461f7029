package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"gohan/genotypes/models/indexes"
	"gohan/genotypes/repositories"
)

const counterScript = "ctx._source.seq += 1"

func (s *Store) ListSamples(ctx context.Context, projectId string, runName string) ([]*indexes.Sample, error) {
	var out []*indexes.Sample
	err := s.scan(ctx, indexes.SAMPLES_INDEX, runQuery(projectId, runName), func(source interface{}) error {
		var sample indexes.Sample
		if err := decodeSource(source, &sample); err != nil {
			return err
		}
		out = append(out, &sample)
		return nil
	})
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

// NextSequence increments a counter document with a scripted upsert and
// returns the new value, starting at 1.
func (s *Store) NextSequence(ctx context.Context, counterId string) (int, error) {
	body, err := json.Marshal(map[string]interface{}{
		"script": map[string]interface{}{"source": counterScript, "lang": "painless"},
		"upsert": indexes.Counter{Id: counterId, Seq: 1},
	})
	if err != nil {
		return 0, err
	}
	res, err := s.es.Update(indexes.COUNTERS_INDEX, counterId, bytes.NewReader(body),
		s.es.Update.WithContext(ctx),
		s.es.Update.WithRetryOnConflict(5),
		s.es.Update.WithSource("true"),
	)
	if err != nil {
		return 0, fmt.Errorf("incrementing counter %s: %w", counterId, err)
	}
	parsed, err := readResponse(res)
	if err != nil {
		return 0, fmt.Errorf("incrementing counter %s: %w", counterId, err)
	}
	seq, ok := parsed.Path("get._source.seq").Data().(float64)
	if !ok {
		return 0, fmt.Errorf("counter %s: no sequence in response", counterId)
	}
	return int(seq), nil
}

func (s *Store) SaveSamples(ctx context.Context, samples []*indexes.Sample) error {
	docs := make(map[string]interface{}, len(samples))
	for _, sample := range samples {
		docs[indexes.SampleKey(sample.ProjectId, sample.RunName, sample.IndividualId)] = sample
	}
	failed, err := s.bulk(ctx, indexes.SAMPLES_INDEX, "index", docs)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d samples could not be saved", len(failed))
	}
	return nil
}

// EnsureIndividuals creates the individuals not stored yet and leaves the
// others untouched.
func (s *Store) EnsureIndividuals(ctx context.Context, individuals []*indexes.Individual) error {
	docs := make(map[string]interface{}, len(individuals))
	for _, ind := range individuals {
		docs[ind.Id] = ind
	}
	failed, err := s.bulk(ctx, indexes.INDIVIDUALS_INDEX, "create", docs, http.StatusConflict)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d individuals could not be saved", len(failed))
	}
	return nil
}
