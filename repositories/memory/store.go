package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"gohan/genotypes/models/indexes"
	"gohan/genotypes/repositories"
)

// Store is an in-process implementation of the document store used by
// tests and dry runs. It applies the same version rules as Elasticsearch
// external versioning.
type Store struct {
	mu          sync.RWMutex
	variants    map[string]*indexes.Variant
	runData     map[string]*indexes.VariantRunData
	samples     map[string]*indexes.Sample
	individuals map[string]*indexes.Individual
	projects    map[string]*indexes.Project
	counters    map[string]int

	// writes counts every mutating call, handy for "nothing was written" assertions
	writes int
}

func NewStore() *Store {
	return &Store{
		variants:    map[string]*indexes.Variant{},
		runData:     map[string]*indexes.VariantRunData{},
		samples:     map[string]*indexes.Sample{},
		individuals: map[string]*indexes.Individual{},
		projects:    map[string]*indexes.Project{},
		counters:    map[string]int{},
	}
}

func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *Store) GetVariant(ctx context.Context, id string) (*indexes.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return v.Copy(), nil
}

func (s *Store) CreateVariant(ctx context.Context, v *indexes.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.variants[v.Id]; ok {
		return repositories.ErrVersionConflict
	}
	v.Version = 1
	if v.CreatedTime.IsZero() {
		v.CreatedTime = time.Now()
	}
	s.variants[v.Id] = v.Copy()
	s.writes++
	return nil
}

func (s *Store) UpdateVariant(ctx context.Context, v *indexes.Variant, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.variants[v.Id]
	if !ok || current.Version != expectedVersion {
		return repositories.ErrVersionConflict
	}
	v.Version = expectedVersion + 1
	s.variants[v.Id] = v.Copy()
	s.writes++
	return nil
}

func (s *Store) BulkInsertVariants(ctx context.Context, variants []*indexes.Variant) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range variants {
		if v.Version == 0 {
			v.Version = 1
		}
		s.variants[v.Id] = v.Copy()
	}
	s.writes++
	return nil, nil
}

func (s *Store) SaveVariantRunData(ctx context.Context, runs []*indexes.VariantRunData) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range runs {
		cp := *r
		cp.Samples = make(map[int]indexes.Genotype, len(r.Samples))
		for k, g := range r.Samples {
			cp.Samples[k] = g
		}
		s.runData[r.Id] = &cp
	}
	s.writes++
	return nil, nil
}

func (s *Store) GetVariantRunData(ctx context.Context, projectId string, runName string, variantId string) (*indexes.VariantRunData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runData[indexes.VariantRunDataId(projectId, runName, variantId)]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return r, nil
}

func (s *Store) DeleteVariantRunData(ctx context.Context, projectId string, runName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, r := range s.runData {
		if r.ProjectId == projectId && r.RunName == runName {
			delete(s.runData, id)
			deleted++
		}
	}
	s.writes++
	return deleted, nil
}

func (s *Store) ScanVariants(ctx context.Context, fn func(*indexes.Variant) error) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.variants))
	for id := range s.variants {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		v, err := s.GetVariant(ctx, id)
		if err != nil {
			continue
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CountVariants(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.variants)), nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*indexes.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return p.Copy(), nil
}

func (s *Store) CreateProject(ctx context.Context, p *indexes.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.Id]; ok {
		return repositories.ErrVersionConflict
	}
	p.Version = 1
	s.projects[p.Id] = p.Copy()
	s.writes++
	return nil
}

func (s *Store) UpdateProject(ctx context.Context, p *indexes.Project, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.projects[p.Id]
	if !ok || current.Version != expectedVersion {
		return repositories.ErrVersionConflict
	}
	p.Version = expectedVersion + 1
	s.projects[p.Id] = p.Copy()
	s.writes++
	return nil
}

func (s *Store) ListSamples(ctx context.Context, projectId string, runName string) ([]*indexes.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*indexes.Sample
	for _, sm := range s.samples {
		if sm.ProjectId == projectId && sm.RunName == runName {
			cp := *sm
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (s *Store) NextSequence(ctx context.Context, counterId string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[counterId]++
	s.writes++
	return s.counters[counterId], nil
}

func (s *Store) SaveSamples(ctx context.Context, samples []*indexes.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sm := range samples {
		cp := *sm
		s.samples[indexes.SampleKey(sm.ProjectId, sm.RunName, sm.IndividualId)] = &cp
	}
	s.writes++
	return nil
}

func (s *Store) EnsureIndividuals(ctx context.Context, individuals []*indexes.Individual) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ind := range individuals {
		if _, ok := s.individuals[ind.Id]; ok {
			continue
		}
		cp := *ind
		s.individuals[ind.Id] = &cp
	}
	s.writes++
	return nil
}

func (s *Store) GetIndividual(ctx context.Context, id string) (*indexes.Individual, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ind, ok := s.individuals[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *ind
	return &cp, nil
}
