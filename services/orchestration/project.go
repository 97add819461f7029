package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sort"

	c "gohan/genotypes/models/constants"
	importMode "gohan/genotypes/models/constants/import-mode"
	"gohan/genotypes/models/constants/ploidy"
	"gohan/genotypes/models/indexes"
	"gohan/genotypes/repositories"
	"gohan/genotypes/services/persistence"

	"github.com/ahmetb/go-linq"
)

type PloidyMismatchError struct {
	ProjectId string
	Expected  c.Ploidy
	Found     c.Ploidy
}

func (e *PloidyMismatchError) Error() string {
	return fmt.Sprintf("project %s holds ploidy %d data, refusing to append ploidy %d genotypes", e.ProjectId, e.Expected, e.Found)
}

// bookkeeping accumulates what the run adds to its project.
type bookkeeping struct {
	sequences    map[string]struct{}
	alleleCounts map[int]struct{}
	variantTypes map[c.VariantType]struct{}
}

func newBookkeeping() *bookkeeping {
	return &bookkeeping{
		sequences:    map[string]struct{}{},
		alleleCounts: map[int]struct{}{},
		variantTypes: map[c.VariantType]struct{}{},
	}
}

func (b *bookkeeping) observe(v *indexes.Variant) {
	if v.ReferencePosition != nil && v.ReferencePosition.Sequence != "" {
		b.sequences[v.ReferencePosition.Sequence] = struct{}{}
	}
	b.alleleCounts[len(v.KnownAlleles)] = struct{}{}
	if v.Type != "" {
		b.variantTypes[v.Type] = struct{}{}
	}
}

func unionStrings(current []string, added map[string]struct{}) []string {
	extra := make([]string, 0, len(added))
	for s := range added {
		extra = append(extra, s)
	}
	var out []string
	linq.From(current).Union(linq.From(extra)).ToSlice(&out)
	sort.Strings(out)
	return out
}

func unionInts(current []int, added map[int]struct{}) []int {
	extra := make([]int, 0, len(added))
	for n := range added {
		extra = append(extra, n)
	}
	var out []int
	linq.From(current).Union(linq.From(extra)).ToSlice(&out)
	sort.Ints(out)
	return out
}

func unionTypes(current []c.VariantType, added map[c.VariantType]struct{}) []c.VariantType {
	extra := make([]c.VariantType, 0, len(added))
	for t := range added {
		extra = append(extra, t)
	}
	var out []c.VariantType
	linq.From(current).Union(linq.From(extra)).ToSlice(&out)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *importRun) loadProject(ctx context.Context) (*indexes.Project, error) {
	p, err := r.store.GetProject(ctx, r.req.ProjectId)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading project %s: %w", r.req.ProjectId, err)
	}
	return p, nil
}

// updateProject folds the run into its project through the same optimistic
// cycle variants go through.
func (r *importRun) updateProject(ctx context.Context) error {
	var current, next *indexes.Project

	read := func(ctx context.Context) (int64, bool, error) {
		p, err := r.loadProject(ctx)
		if err != nil || p == nil {
			return 0, false, err
		}
		current = p
		return p.Version, true, nil
	}
	mutate := func(found bool) (bool, error) {
		if found {
			next = current.Copy()
		} else {
			next = &indexes.Project{Id: r.req.ProjectId}
		}
		switch {
		case !found, next.Ploidy == ploidy.Unknown, r.req.Mode == importMode.Replace:
			next.Ploidy = r.ploidy
		case next.Ploidy != r.ploidy:
			return false, fmt.Errorf("%w: project %s ploidy changed to %d during the import", persistence.ErrConflict, next.Id, next.Ploidy)
		}
		next.Runs = unionStrings(next.Runs, map[string]struct{}{r.req.RunName: {}})
		next.Sequences = unionStrings(next.Sequences, r.books.sequences)
		next.AlleleCounts = unionInts(next.AlleleCounts, r.books.alleleCounts)
		next.VariantTypes = unionTypes(next.VariantTypes, r.books.variantTypes)
		return true, nil
	}
	write := func(ctx context.Context, expectedVersion int64, found bool) error {
		if !found {
			return r.store.CreateProject(ctx, next)
		}
		return r.store.UpdateProject(ctx, next, expectedVersion)
	}

	outcome, attempts, err := persistence.WithOptimisticRetry(ctx, persistence.DefaultMaxAttempts, read, mutate, write)
	switch {
	case err != nil:
		return fmt.Errorf("updating project %s: %w", r.req.ProjectId, err)
	case outcome == persistence.GivenUp:
		return fmt.Errorf("updating project %s: still contended after %d attempts", r.req.ProjectId, attempts)
	}
	return nil
}
