package layer

import (
	"sort"

	"github.com/reforge/reforge/pkg/identity"
)

// Plan computes the ordered, deduplicated set of layers that apply to an
// identity. The result always starts with the core layer, followed by the
// project layer, followed by one layer per role, sorted by ascending path
// length with discovery order preserved for ties. Plan is a pure function
// of its input: the same identity always yields the same plan.
func Plan(id identity.Identity) []Path {
	paths := []Path{Root}
	if id.Project != "" {
		paths = append(paths, ForProject(id.Project))
		for _, role := range id.Roles {
			paths = append(paths, ForRole(id.Project, role))
		}
	}

	seen := make(map[Path]bool, len(paths))
	unique := paths[:0]
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			unique = append(unique, p)
		}
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return len(unique[i]) < len(unique[j])
	})
	return unique
}
