package domain

import (
	"fmt"
	"sort"
)

// ClusterNode is one node of a ClusterTree arena. Leaves have Left and Right set to -1 and
// their ID equals the asset column.
type ClusterNode struct {
	ID     int     `json:"id" msgpack:"id"`
	Left   int     `json:"left" msgpack:"left"`
	Right  int     `json:"right" msgpack:"right"`
	Height float64 `json:"height" msgpack:"height"`
	Size   int     `json:"size" msgpack:"size"`
}

// IsLeaf reports whether the node is an asset.
func (n ClusterNode) IsLeaf() bool {
	return n.Left < 0
}

// ClusterTree is a binary merge tree over N assets stored as an arena: ids 0..N-1 are the
// leaves and every merge appends an internal node, so a complete tree has 2N-1 nodes and
// its root is the last one.
type ClusterTree struct {
	Assets []string      `json:"assets" msgpack:"assets"`
	Nodes  []ClusterNode `json:"nodes" msgpack:"nodes"`
}

// NewClusterTree returns a tree holding only the leaves.
func NewClusterTree(assets []string) *ClusterTree {
	t := &ClusterTree{
		Assets: append([]string(nil), assets...),
		Nodes:  make([]ClusterNode, len(assets), max(2*len(assets)-1, 0)),
	}
	for i := range assets {
		t.Nodes[i] = ClusterNode{ID: i, Left: -1, Right: -1, Size: 1}
	}
	return t
}

// N returns the number of leaves.
func (t *ClusterTree) N() int {
	return len(t.Assets)
}

// Merge joins two existing nodes under a new internal node and returns its id.
func (t *ClusterTree) Merge(left, right int, height float64) int {
	id := len(t.Nodes)
	t.Nodes = append(t.Nodes, ClusterNode{
		ID:     id,
		Left:   left,
		Right:  right,
		Height: height,
		Size:   t.Nodes[left].Size + t.Nodes[right].Size,
	})
	return id
}

// Complete reports whether every leaf has been merged into a single root.
func (t *ClusterTree) Complete() bool {
	return len(t.Nodes) == 2*t.N()-1
}

// Root returns the id of the root node.
func (t *ClusterTree) Root() int {
	return len(t.Nodes) - 1
}

// Node returns the node with the given id.
func (t *ClusterTree) Node(id int) ClusterNode {
	return t.Nodes[id]
}

// Swap exchanges the children of an internal node.
func (t *ClusterTree) Swap(id int) {
	n := &t.Nodes[id]
	n.Left, n.Right = n.Right, n.Left
}

// Leaves returns the leaves below id from left to right.
func (t *ClusterTree) Leaves(id int) []int {
	out := make([]int, 0, t.Nodes[id].Size)
	stack := []int{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := t.Nodes[cur]
		if n.IsLeaf() {
			out = append(out, cur)
			continue
		}
		stack = append(stack, n.Right, n.Left)
	}
	return out
}

// Order returns the leaf order of the whole tree.
func (t *ClusterTree) Order() []int {
	return t.Leaves(t.Root())
}

// PostOrder returns every node id with children before parents.
func (t *ClusterTree) PostOrder() []int {
	out := make([]int, 0, len(t.Nodes))
	var walk func(id int)
	walk = func(id int) {
		n := t.Nodes[id]
		if !n.IsLeaf() {
			walk(n.Left)
			walk(n.Right)
		}
		out = append(out, id)
	}
	walk(t.Root())
	return out
}

// CutNodes returns the roots of the k subtrees obtained by undoing the k-1 latest merges,
// ordered as they appear in the leaf order.
func (t *ClusterTree) CutNodes(k int) ([]int, error) {
	if !t.Complete() {
		return nil, fmt.Errorf("%w: cluster tree is incomplete", ErrInvalidConfiguration)
	}
	if k < 1 || k > t.N() {
		return nil, fmt.Errorf("%w: cannot cut %d leaves into %d clusters", ErrInvalidConfiguration, t.N(), k)
	}

	current := map[int]bool{t.Root(): true}
	for len(current) < k {
		latest := -1
		for id := range current {
			if !t.Nodes[id].IsLeaf() && id > latest {
				latest = id
			}
		}
		delete(current, latest)
		current[t.Nodes[latest].Left] = true
		current[t.Nodes[latest].Right] = true
	}

	position := make([]int, t.N())
	for p, leaf := range t.Order() {
		position[leaf] = p
	}
	roots := make([]int, 0, k)
	for id := range current {
		roots = append(roots, id)
	}
	sort.Slice(roots, func(a, b int) bool {
		return position[t.Leaves(roots[a])[0]] < position[t.Leaves(roots[b])[0]]
	})
	return roots, nil
}

// Cut returns the leaves of each of the k clusters.
func (t *ClusterTree) Cut(k int) ([][]int, error) {
	roots, err := t.CutNodes(k)
	if err != nil {
		return nil, err
	}
	clusters := make([][]int, len(roots))
	for i, id := range roots {
		clusters[i] = t.Leaves(id)
	}
	return clusters, nil
}

// Labels returns, for each leaf, the index of its cluster when cut into k clusters.
func (t *ClusterTree) Labels(k int) ([]int, error) {
	clusters, err := t.Cut(k)
	if err != nil {
		return nil, err
	}
	labels := make([]int, t.N())
	for c, members := range clusters {
		for _, leaf := range members {
			labels[leaf] = c
		}
	}
	return labels, nil
}
