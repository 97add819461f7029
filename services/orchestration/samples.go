package orchestration

import (
	"context"
	"fmt"

	"gohan/genotypes/models/indexes"
)

// sampleRegistry mints one sample per individual of the run, the first
// time the individual shows a genotype.
type sampleRegistry struct {
	store     Store
	projectId string
	runName   string

	ids         map[string]int
	pending     []*indexes.Sample
	individuals []*indexes.Individual
	minted      int
}

func newSampleRegistry(ctx context.Context, store Store, projectId string, runName string) (*sampleRegistry, error) {
	existing, err := store.ListSamples(ctx, projectId, runName)
	if err != nil {
		return nil, fmt.Errorf("listing samples of %s/%s: %w", projectId, runName, err)
	}
	s := &sampleRegistry{
		store:     store,
		projectId: projectId,
		runName:   runName,
		ids:       make(map[string]int, len(existing)),
	}
	for _, sample := range existing {
		s.ids[sample.IndividualId] = sample.Id
	}
	return s, nil
}

func (s *sampleRegistry) idFor(ctx context.Context, individualId string, population string) (int, error) {
	if id, ok := s.ids[individualId]; ok {
		return id, nil
	}
	id, err := s.store.NextSequence(ctx, indexes.SAMPLES_COUNTER_ID)
	if err != nil {
		return 0, fmt.Errorf("minting sample id for %s: %w", individualId, err)
	}
	s.ids[individualId] = id
	s.pending = append(s.pending, &indexes.Sample{Id: id, ProjectId: s.projectId, RunName: s.runName, IndividualId: individualId})
	s.individuals = append(s.individuals, &indexes.Individual{Id: individualId, Population: population})
	s.minted++
	return id, nil
}

// flush persists samples minted since the last call, individuals first.
func (s *sampleRegistry) flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	if err := s.store.EnsureIndividuals(ctx, s.individuals); err != nil {
		return fmt.Errorf("saving individuals: %w", err)
	}
	if err := s.store.SaveSamples(ctx, s.pending); err != nil {
		return fmt.Errorf("saving samples: %w", err)
	}
	s.pending = nil
	s.individuals = nil
	return nil
}
