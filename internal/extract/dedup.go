package extract

import (
	"fmt"

	"github.com/draagon/codemesh/internal/mesh"
)

// dedupFile collapses duplicate nodes and edges within one file's result.
// Overlapping patterns (or an AI pass re-finding a Tier 1 node) can emit
// the same entity twice; the first occurrence wins and edges pointing at a
// dropped duplicate are remapped onto the survivor.
func dedupFile(fr *mesh.FileResult) {
	if len(fr.Nodes) == 0 {
		return
	}

	remap := make(map[string]string)
	seen := make(map[string]string)
	nodes := fr.Nodes[:0]
	for _, n := range fr.Nodes {
		key := fmt.Sprintf("%s|%s|%d", n.Type, n.Name, n.Location.StartLine)
		if keptID, dup := seen[key]; dup {
			remap[n.ID] = keptID
			continue
		}
		seen[key] = n.ID
		nodes = append(nodes, n)
	}
	fr.Nodes = nodes

	seenEdges := make(map[string]bool)
	edges := fr.Edges[:0]
	for _, e := range fr.Edges {
		if kept, dup := remap[e.From]; dup {
			e.From = kept
		}
		if e.To.Resolved() {
			if kept, dup := remap[e.To.NodeID()]; dup {
				e.To = mesh.ResolvedTarget(kept)
			}
		}

		key := fmt.Sprintf("%s|%s|%s", e.Type, e.From, e.To.String())
		if seenEdges[key] {
			continue
		}
		seenEdges[key] = true
		edges = append(edges, e)
	}
	fr.Edges = edges
}
