package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	c "gohan/genotypes/models/constants"
	"gohan/genotypes/models/indexes"
)

// DeprecatedIdPrefix marks canonical ids of variants that were merged or retired.
const DeprecatedIdPrefix = "$"

var ErrNotFound = errors.New("no matching variant")

type DeprecatedError struct {
	Id string
}

func (e *DeprecatedError) Error() string {
	return fmt.Sprintf("variant %s is deprecated", e.Id)
}

// ErrDeprecated matches any *DeprecatedError through errors.Is.
var ErrDeprecated = &DeprecatedError{}

func (e *DeprecatedError) Is(target error) bool {
	_, ok := target.(*DeprecatedError)
	return ok
}

type VariantScanner interface {
	ScanVariants(ctx context.Context, fn func(*indexes.Variant) error) error
}

type (
	// Resolver maps external marker identifiers to canonical variant ids.
	// Lookup tables are built once per import and are safe for concurrent use.
	Resolver struct {
		mu           sync.RWMutex
		usePositions bool

		ids       map[string]string
		synonyms  map[string]string
		positions map[string]string
		// SEQUENCE¤POSITION to id, "" once two variants share the locus
		loci  map[string]string
		count int
	}
)

func NewResolver(ctx context.Context, store VariantScanner, usePositions bool) (*Resolver, error) {
	r := &Resolver{
		usePositions: usePositions,
		ids:          map[string]string{},
		synonyms:     map[string]string{},
		positions:    map[string]string{},
		loci:         map[string]string{},
	}
	if store == nil {
		return r, nil
	}

	err := store.ScanVariants(ctx, func(v *indexes.Variant) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.register(v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading variant identities: %w", err)
	}
	return r, nil
}

// Register makes a variant created during the import resolvable.
func (r *Resolver) Register(v *indexes.Variant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(v)
}

func (r *Resolver) register(v *indexes.Variant) {
	if v == nil || v.Id == "" {
		return
	}
	key := strings.ToUpper(v.Id)
	if _, ok := r.ids[key]; !ok {
		r.count++
	}
	r.ids[key] = v.Id
	for _, names := range v.Synonyms {
		for _, name := range names {
			if name == "" {
				continue
			}
			r.synonyms[strings.ToUpper(name)] = v.Id
		}
	}
	if r.usePositions && v.ReferencePosition != nil && v.ReferencePosition.Sequence != "" {
		r.positions[PositionKey(v.Type, v.ReferencePosition.Sequence, v.ReferencePosition.Start)] = v.Id
		locus := LocusKey(v.ReferencePosition.Sequence, v.ReferencePosition.Start)
		if id, ok := r.loci[locus]; ok && id != v.Id {
			r.loci[locus] = ""
		} else {
			r.loci[locus] = v.Id
		}
	}
}

// LocusKey is the upper-cased SEQUENCE¤POSITION key used when a record
// carries no type.
func LocusKey(sequence string, position int64) string {
	return strings.ToUpper(sequence + indexes.KEY_SEPARATOR + strconv.FormatInt(position, 10))
}

// PositionKey is the upper-cased TYPE¤SEQUENCE¤POSITION composite key.
func PositionKey(variantType c.VariantType, sequence string, position int64) string {
	return strings.ToUpper(string(variantType) + indexes.KEY_SEPARATOR + sequence + indexes.KEY_SEPARATOR + strconv.FormatInt(position, 10))
}

// Resolve tries every candidate as a canonical id, then as a synonym, then
// falls back to the positional key. The first hit wins. Without a type the
// positional fallback only matches a locus holding a single variant.
func (r *Resolver) Resolve(variantType c.VariantType, sequence string, position int64, candidateIds ...string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	found := ""
	for _, table := range []map[string]string{r.ids, r.synonyms} {
		for _, candidate := range candidateIds {
			if id, ok := table[strings.ToUpper(strings.TrimSpace(candidate))]; ok {
				found = id
				break
			}
		}
		if found != "" {
			break
		}
	}
	if found == "" && r.usePositions && sequence != "" {
		if variantType == "" {
			found = r.loci[LocusKey(sequence, position)]
		} else {
			found = r.positions[PositionKey(variantType, sequence, position)]
		}
	}

	if found == "" {
		return "", ErrNotFound
	}
	if strings.HasPrefix(found, DeprecatedIdPrefix) {
		return "", &DeprecatedError{Id: found}
	}
	return found, nil
}

// Size is the number of canonical variants known to the resolver.
func (r *Resolver) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
