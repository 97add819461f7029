package persistence

import (
	"context"
	"errors"

	"gohan/genotypes/repositories"
)

type Outcome int

const (
	Saved Outcome = iota
	Conflict
	GivenUp
)

const DefaultMaxAttempts = 3

// ErrConflict is returned by a mutate step when the stored document cannot
// absorb the local change at all, e.g. the reference position moved.
var ErrConflict = errors.New("irreconcilable change")

func (o Outcome) String() string {
	switch o {
	case Saved:
		return "saved"
	case Conflict:
		return "conflict"
	case GivenUp:
		return "given up"
	default:
		return "unknown"
	}
}

type (
	ReadFunc   func(ctx context.Context) (version int64, found bool, err error)
	MutateFunc func(found bool) (changed bool, err error)
	WriteFunc  func(ctx context.Context, expectedVersion int64, found bool) error
)

// WithOptimisticRetry runs read, mutate, conditional write until the write
// lands or maxAttempts version conflicts were seen. It returns the outcome,
// the number of attempts made and any non-conflict error.
func WithOptimisticRetry(ctx context.Context, maxAttempts int, read ReadFunc, mutate MutateFunc, write WriteFunc) (Outcome, int, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return GivenUp, attempt - 1, err
		}

		version, found, err := read(ctx)
		if err != nil {
			return GivenUp, attempt, err
		}

		changed, err := mutate(found)
		if errors.Is(err, ErrConflict) {
			return Conflict, attempt, err
		}
		if err != nil {
			return GivenUp, attempt, err
		}
		if !changed {
			return Saved, attempt, nil
		}

		err = write(ctx, version, found)
		if err == nil {
			return Saved, attempt, nil
		}
		if !errors.Is(err, repositories.ErrVersionConflict) {
			return GivenUp, attempt, err
		}
	}
	return GivenUp, maxAttempts, nil
}
