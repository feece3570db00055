package plugin

import (
	"github.com/rs/zerolog"
)

// DependencyResolver determines the load order of a batch of manifests
type DependencyResolver struct {
	logger zerolog.Logger
}

// NewDependencyResolver creates a new dependency resolver
func NewDependencyResolver(logger zerolog.Logger) *DependencyResolver {
	return &DependencyResolver{
		logger: logger.With().Str("component", "dependency-resolver").Logger(),
	}
}

// Dedupe keeps one manifest per id, the one with the highest version. The
// result preserves the position of each id's first occurrence.
func (r *DependencyResolver) Dedupe(manifests []*Manifest) []*Manifest {
	index := make(map[string]int, len(manifests))
	out := make([]*Manifest, 0, len(manifests))

	for _, m := range manifests {
		i, seen := index[m.ID]
		if !seen {
			index[m.ID] = len(out)
			out = append(out, m)
			continue
		}

		kept := out[i]
		if newer(m, kept) {
			r.logger.Warn().
				Str("id", m.ID).
				Str("kept", m.Version).
				Str("dropped", kept.Version).
				Msg("Duplicate plugin id, keeping highest version")
			out[i] = m
		} else {
			r.logger.Warn().
				Str("id", m.ID).
				Str("kept", kept.Version).
				Str("dropped", m.Version).
				Msg("Duplicate plugin id, keeping highest version")
		}
	}

	return out
}

// newer reports whether a has a strictly higher version than b.
func newer(a, b *Manifest) bool {
	va, errA := a.SemVer()
	vb, errB := b.SemVer()
	if errA != nil || errB != nil {
		return false
	}
	return va.GreaterThan(vb)
}

// TopologicalSort orders manifests so that every dependency present in the
// batch precedes its dependents. Ties keep input order. Dependencies outside
// the batch are ignored here and checked at load time. Cycles are logged and
// broken at the edge that closes them.
func (r *DependencyResolver) TopologicalSort(manifests []*Manifest) []*Manifest {
	byID := make(map[string]*Manifest, len(manifests))
	for _, m := range manifests {
		byID[m.ID] = m
	}

	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[string]int, len(manifests))
	order := make([]*Manifest, 0, len(manifests))

	var visit func(m *Manifest, path []string)
	visit = func(m *Manifest, path []string) {
		switch marks[m.ID] {
		case done:
			return
		case visiting:
			r.logger.Warn().
				Strs("cycle", append(path, m.ID)).
				Msg("Detected dependency cycle")
			return
		}

		marks[m.ID] = visiting
		path = append(path, m.ID)
		for _, dep := range m.Dependencies {
			if d, ok := byID[dep]; ok {
				visit(d, path)
			}
		}
		marks[m.ID] = done
		order = append(order, m)
	}

	for _, m := range manifests {
		visit(m, nil)
	}
	return order
}

// Dependents returns the ids among manifests that declare id as a dependency.
func Dependents(manifests []*Manifest, id string) []string {
	var out []string
	for _, m := range manifests {
		for _, dep := range m.Dependencies {
			if dep == id {
				out = append(out, m.ID)
				break
			}
		}
	}
	return out
}
