package patching

import (
	"fmt"

	"github.com/kshedden/gonpy"
)

// ExclusionSet holds patch indices that training-mode sampling must skip,
// typically positions known to contain acquisition artifacts. A nil set
// excludes nothing.
type ExclusionSet map[int]struct{}

// NewExclusionSet builds a set from a flat list of patch indices.
// Duplicates are collapsed.
func NewExclusionSet(indices []int) ExclusionSet {
	if len(indices) == 0 {
		return nil
	}
	s := make(ExclusionSet, len(indices))
	for _, i := range indices {
		s[i] = struct{}{}
	}
	return s
}

// Contains reports whether patch index i is excluded.
func (s ExclusionSet) Contains(i int) bool {
	_, ok := s[i]
	return ok
}

// Len returns the number of excluded indices.
func (s ExclusionSet) Len() int {
	return len(s)
}

// LoadExclusionSet reads a flat integer array of patch indices from a NumPy
// .npy file. Negative indices are rejected; an empty array yields a set that
// excludes nothing.
func LoadExclusionSet(path string) (ExclusionSet, error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open exclusion file %s: %w", path, err)
	}
	if len(r.Shape) > 1 {
		return nil, fmt.Errorf("expected a flat index array in %s, got shape %v", path, r.Shape)
	}

	var indices []int
	switch r.Dtype {
	case "i8":
		raw, err := r.GetInt64()
		if err != nil {
			return nil, fmt.Errorf("failed to read exclusion indices from %s: %w", path, err)
		}
		indices = make([]int, len(raw))
		for i, v := range raw {
			indices[i] = int(v)
		}
	case "i4":
		raw, err := r.GetInt32()
		if err != nil {
			return nil, fmt.Errorf("failed to read exclusion indices from %s: %w", path, err)
		}
		indices = make([]int, len(raw))
		for i, v := range raw {
			indices[i] = int(v)
		}
	case "u4":
		raw, err := r.GetUint32()
		if err != nil {
			return nil, fmt.Errorf("failed to read exclusion indices from %s: %w", path, err)
		}
		indices = make([]int, len(raw))
		for i, v := range raw {
			indices[i] = int(v)
		}
	default:
		return nil, fmt.Errorf("unsupported exclusion index dtype %q in %s (want i4, i8 or u4)",
			r.Dtype, path)
	}

	for _, v := range indices {
		if v < 0 {
			return nil, fmt.Errorf("negative patch index %d in %s", v, path)
		}
	}
	return NewExclusionSet(indices), nil
}
