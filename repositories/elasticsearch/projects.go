package elasticsearch

import (
	"context"

	"gohan/genotypes/models/indexes"
)

func (s *Store) GetProject(ctx context.Context, id string) (*indexes.Project, error) {
	var p indexes.Project
	if err := s.getDocument(ctx, indexes.PROJECTS_INDEX, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProject(ctx context.Context, p *indexes.Project) error {
	p.Version = 1
	return s.putDocument(ctx, indexes.PROJECTS_INDEX, p.Id, p, -1)
}

func (s *Store) UpdateProject(ctx context.Context, p *indexes.Project, expectedVersion int64) error {
	p.Version = expectedVersion + 1
	if err := s.putDocument(ctx, indexes.PROJECTS_INDEX, p.Id, p, expectedVersion); err != nil {
		p.Version = expectedVersion
		return err
	}
	return nil
}
