package clustering

import (
	"math"

	"github.com/aristath/allocator/internal/domain"
	"gonum.org/v1/gonum/mat"
)

type orderedEnds struct {
	cost  map[[2]int]float64
	inner map[[2]int][2]int
}

// OptimalLeafOrder flips children of the tree so the sum of distances between successive
// leaves is minimal among the orderings the tree admits.
func OptimalLeafOrder(tree *domain.ClusterTree, dist mat.Symmetric) {
	if tree.N() < 3 {
		return
	}

	ends := make([]orderedEnds, len(tree.Nodes))
	for _, id := range tree.PostOrder() {
		node := tree.Node(id)
		if node.IsLeaf() {
			ends[id] = orderedEnds{
				cost:  map[[2]int]float64{{id, id}: 0},
				inner: map[[2]int][2]int{},
			}
			continue
		}

		left, right := ends[node.Left], ends[node.Right]
		current := orderedEnds{
			cost:  make(map[[2]int]float64),
			inner: make(map[[2]int][2]int),
		}
		// Best cost of an ordering starting at i (left child) and ending at j (right child).
		for li, lc := range left.cost {
			i, k := li[0], li[1]
			for rj, rc := range right.cost {
				m, j := rj[0], rj[1]
				c := lc + dist.At(k, m) + rc
				key := [2]int{i, j}
				if best, ok := current.cost[key]; !ok || c < best || (c == best && lessPair(tree.Assets, [2]int{k, m}, current.inner[key])) {
					current.cost[key] = c
					current.inner[key] = [2]int{k, m}
				}
			}
		}
		// Orderings of the reversed node mirror the ones above.
		forward := make([][2]int, 0, len(current.cost))
		for key := range current.cost {
			forward = append(forward, key)
		}
		for _, key := range forward {
			rev := [2]int{key[1], key[0]}
			in := current.inner[key]
			current.cost[rev] = current.cost[key]
			current.inner[rev] = [2]int{in[1], in[0]}
		}
		ends[id] = current
	}

	root := tree.Root()
	bestKey := [2]int{-1, -1}
	best := math.Inf(1)
	for key, c := range ends[root].cost {
		if c < best || (c == best && lessPair(tree.Assets, key, bestKey)) {
			best, bestKey = c, key
		}
	}
	applyOrder(tree, ends, root, bestKey[0], bestKey[1])
}

// applyOrder orients the subtree at id so that it starts with leaf first and ends with last.
func applyOrder(tree *domain.ClusterTree, ends []orderedEnds, id, first, last int) {
	node := tree.Node(id)
	if node.IsLeaf() {
		return
	}
	if !contains(tree.Leaves(node.Left), first) {
		tree.Swap(id)
		node = tree.Node(id)
	}
	in := ends[id].inner[[2]int{first, last}]
	applyOrder(tree, ends, node.Left, first, in[0])
	applyOrder(tree, ends, node.Right, in[1], last)
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// lessPair orders leaf pairs by their asset labels. A pair starting at -1 is unset.
func lessPair(assets []string, a, b [2]int) bool {
	if b[0] < 0 {
		return true
	}
	if assets[a[0]] != assets[b[0]] {
		return assets[a[0]] < assets[b[0]]
	}
	return assets[a[1]] < assets[b[1]]
}
