package clustering

import (
	"math"
	"sort"

	"github.com/aristath/allocator/internal/domain"
	"gonum.org/v1/gonum/mat"
)

// BubbleTree builds a direct bubble hierarchical tree. The planar filtered graph of the
// similarities is split into bubbles (its 4-cliques) connected by separating triangles.
// Each separator edge is directed toward the side its vertices are most strongly tied to;
// bubbles without outgoing edges converge and seed one cluster each. Vertices join the
// converging bubble they are closest to, are grouped inside a cluster by their strongest
// bubble, and the levels are joined by complete linkage on the distances.
func BubbleTree(dep *Dependence, assets []string) (*domain.ClusterTree, error) {
	n := len(assets)
	if n < 4 {
		return Agglomerate(dep.Distance, assets, Complete)
	}
	g, err := TMFG(dep.Similarity)
	if err != nil {
		return nil, err
	}

	converging := convergingBubbles(g)
	clusters := assignToBubbles(g, dep.Distance, converging)

	tree := domain.NewClusterTree(assets)
	clusterRoots := make([]int, 0, len(clusters))
	for _, members := range clusters {
		groups := groupByBubble(g, members)
		groupRoots := make([]int, 0, len(groups))
		for _, group := range groups {
			groupRoots = append(groupRoots, completeLink(tree, dep.Distance, group))
		}
		clusterRoots = append(clusterRoots, completeLink(tree, dep.Distance, groupRoots))
	}
	completeLink(tree, dep.Distance, clusterRoots)
	return tree, nil
}

// convergingBubbles returns the cliques whose separator edges all point inward.
func convergingBubbles(g *PlanarGraph) []int {
	outgoing := make([]int, len(g.Cliques))
	for s, sep := range g.Separators {
		pair := g.SeparatorCliques[s]
		removed := map[int]bool{sep[0]: true, sep[1]: true, sep[2]: true}
		sides := [2]float64{}
		for side, clique := range pair {
			start := -1
			for _, v := range g.Cliques[clique] {
				if !removed[v] {
					start = v
				}
			}
			for _, v := range component(g, start, removed) {
				for _, u := range sep {
					sides[side] += g.Adjacency.At(u, v)
				}
			}
		}
		// The edge points at the heavier side; its other end has an outgoing edge.
		if sides[0] >= sides[1] {
			outgoing[pair[1]]++
		} else {
			outgoing[pair[0]]++
		}
	}

	var out []int
	for c, deg := range outgoing {
		if deg == 0 {
			out = append(out, c)
		}
	}
	return out
}

func component(g *PlanarGraph, start int, removed map[int]bool) []int {
	seen := map[int]bool{start: true}
	queue := []int{start}
	var out []int
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		out = append(out, v)
		for u := 0; u < g.N; u++ {
			if !removed[u] && !seen[u] && g.Connected(u, v) {
				seen[u] = true
				queue = append(queue, u)
			}
		}
	}
	return out
}

// assignToBubbles partitions the vertices among the converging bubbles. Members of a
// converging bubble join the one they are most attached to; the rest join the cluster
// with the smallest mean distance.
func assignToBubbles(g *PlanarGraph, dist mat.Symmetric, converging []int) [][]int {
	label := make([]int, g.N)
	for v := range label {
		label[v] = -1
		best := -1.0
		for c, clique := range converging {
			if !inClique(g.Cliques[clique], v) {
				continue
			}
			if s := attachment(g, g.Cliques[clique][:], v); s > best {
				best, label[v] = s, c
			}
		}
	}

	core := make([][]int, len(converging))
	for v, c := range label {
		if c >= 0 {
			core[c] = append(core[c], v)
		}
	}
	for v, c := range label {
		if c >= 0 {
			continue
		}
		bestC, bestD := 0, math.Inf(1)
		for c, members := range core {
			if len(members) == 0 {
				continue
			}
			d := 0.0
			for _, u := range members {
				d += dist.At(u, v)
			}
			d /= float64(len(members))
			if d < bestD {
				bestC, bestD = c, d
			}
		}
		label[v] = bestC
	}

	byLabel := make([][]int, len(converging))
	for v, c := range label {
		byLabel[c] = append(byLabel[c], v)
	}
	clusters := byLabel[:0]
	for _, members := range byLabel {
		if len(members) > 0 {
			clusters = append(clusters, members)
		}
	}
	return clusters
}

// groupByBubble splits cluster members by the bubble each is most attached to.
func groupByBubble(g *PlanarGraph, members []int) [][]int {
	groups := make(map[int][]int)
	for _, v := range members {
		bestClique, best := -1, -1.0
		for c, clique := range g.Cliques {
			if !inClique(clique, v) {
				continue
			}
			if s := attachment(g, clique[:], v); s > best {
				best, bestClique = s, c
			}
		}
		groups[bestClique] = append(groups[bestClique], v)
	}

	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([][]int, 0, len(keys))
	for _, k := range keys {
		out = append(out, groups[k])
	}
	return out
}

func inClique(clique [4]int, v int) bool {
	for _, u := range clique {
		if u == v {
			return true
		}
	}
	return false
}

func attachment(g *PlanarGraph, vertices []int, v int) float64 {
	s := 0.0
	for _, u := range vertices {
		if u != v {
			s += g.Adjacency.At(u, v)
		}
	}
	return s
}

// completeLink merges the given nodes by complete linkage and returns the resulting root.
// Heights never drop below the children's.
func completeLink(tree *domain.ClusterTree, dist mat.Symmetric, nodes []int) int {
	active := append([]int(nil), nodes...)
	for len(active) > 1 {
		bestA, bestB := 0, 1
		bestD := math.Inf(1)
		for a := 0; a < len(active); a++ {
			for b := a + 1; b < len(active); b++ {
				d := maxLeafDistance(tree, dist, active[a], active[b])
				if d < bestD {
					bestD, bestA, bestB = d, a, b
				}
			}
		}
		left, right := active[bestA], active[bestB]
		if tree.Leaves(right)[0] < tree.Leaves(left)[0] {
			left, right = right, left
		}
		height := math.Max(bestD, math.Max(tree.Node(left).Height, tree.Node(right).Height))
		merged := tree.Merge(left, right, height)

		next := active[:0:0]
		for k, id := range active {
			if k != bestA && k != bestB {
				next = append(next, id)
			}
		}
		active = append(next, merged)
	}
	return active[0]
}

func maxLeafDistance(tree *domain.ClusterTree, dist mat.Symmetric, a, b int) float64 {
	best := 0.0
	for _, i := range tree.Leaves(a) {
		for _, j := range tree.Leaves(b) {
			best = math.Max(best, dist.At(i, j))
		}
	}
	return best
}
