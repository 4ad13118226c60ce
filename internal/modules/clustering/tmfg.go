package clustering

import (
	"fmt"
	"sort"

	"github.com/aristath/allocator/internal/domain"
	"gonum.org/v1/gonum/mat"
)

// PlanarGraph is a triangulated maximally filtered graph: a maximal planar subgraph of a
// similarity matrix grown one vertex at a time. Cliques are its 4-cliques (one per
// insertion plus the seed tetrahedron) and separators the triangles each insertion split.
type PlanarGraph struct {
	N          int
	Adjacency  *mat.SymDense // similarity weight on kept edges, zero elsewhere
	Cliques    [][4]int
	Separators [][3]int
	// SeparatorCliques[s] holds the two cliques that share separator s.
	SeparatorCliques [][2]int
}

// TMFG builds the triangulated maximally filtered graph of a non-negative similarity
// matrix. It needs at least four vertices.
func TMFG(similarity mat.Symmetric) (*PlanarGraph, error) {
	n := similarity.SymmetricDim()
	if n < 4 {
		return nil, fmt.Errorf("%w: filtered graph needs at least 4 assets, got %d", domain.ErrInsufficientData, n)
	}

	strength := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				strength[i] += similarity.At(i, j)
			}
		}
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return strength[order[a]] > strength[order[b]] })

	g := &PlanarGraph{N: n, Adjacency: mat.NewSymDense(n, nil)}
	seed := [4]int{order[0], order[1], order[2], order[3]}
	sort.Ints(seed[:])
	for a := 0; a < 4; a++ {
		for b := a + 1; b < 4; b++ {
			g.addEdge(similarity, seed[a], seed[b])
		}
	}
	g.Cliques = append(g.Cliques, seed)

	type face struct {
		v      [3]int
		clique int
	}
	faces := []face{
		{[3]int{seed[0], seed[1], seed[2]}, 0},
		{[3]int{seed[0], seed[1], seed[3]}, 0},
		{[3]int{seed[0], seed[2], seed[3]}, 0},
		{[3]int{seed[1], seed[2], seed[3]}, 0},
	}

	inserted := make([]bool, n)
	for _, v := range seed {
		inserted[v] = true
	}

	for step := 4; step < n; step++ {
		bestGain := -1.0
		bestVertex, bestFace := -1, -1
		for v := 0; v < n; v++ {
			if inserted[v] {
				continue
			}
			for f, fc := range faces {
				gain := similarity.At(v, fc.v[0]) + similarity.At(v, fc.v[1]) + similarity.At(v, fc.v[2])
				if gain > bestGain {
					bestGain, bestVertex, bestFace = gain, v, f
				}
			}
		}

		target := faces[bestFace]
		a, b, c := target.v[0], target.v[1], target.v[2]
		g.addEdge(similarity, bestVertex, a)
		g.addEdge(similarity, bestVertex, b)
		g.addEdge(similarity, bestVertex, c)
		inserted[bestVertex] = true

		clique := [4]int{a, b, c, bestVertex}
		sort.Ints(clique[:])
		g.Cliques = append(g.Cliques, clique)
		cliqueID := len(g.Cliques) - 1

		g.Separators = append(g.Separators, target.v)
		g.SeparatorCliques = append(g.SeparatorCliques, [2]int{target.clique, cliqueID})

		faces[bestFace] = face{sortedTriple(a, b, bestVertex), cliqueID}
		faces = append(faces,
			face{sortedTriple(b, c, bestVertex), cliqueID},
			face{sortedTriple(a, c, bestVertex), cliqueID},
		)
	}
	return g, nil
}

func (g *PlanarGraph) addEdge(similarity mat.Symmetric, i, j int) {
	w := similarity.At(i, j)
	if w <= 0 {
		// Keep the edge visible even for zero similarity.
		w = 1e-12
	}
	g.Adjacency.SetSym(i, j, w)
}

// Connected reports whether the graph has an edge between i and j.
func (g *PlanarGraph) Connected(i, j int) bool {
	return i != j && g.Adjacency.At(i, j) > 0
}

// Edges returns the number of kept edges, 3N-6 for a complete build.
func (g *PlanarGraph) Edges() int {
	count := 0
	for i := 0; i < g.N; i++ {
		for j := i + 1; j < g.N; j++ {
			if g.Connected(i, j) {
				count++
			}
		}
	}
	return count
}

func sortedTriple(a, b, c int) [3]int {
	t := [3]int{a, b, c}
	sort.Ints(t[:])
	return t
}
