package comm

import (
	"github.com/ensemblelab/collectives/simnet"
)

// FlopTime is the amount of virtual time it takes to
// perform a single floating-point operation.
const FlopTime = 1e-9

// A ReduceFn is an operation that reduces many buffers
// into a single buffer.
type ReduceFn func(h *simnet.Handle, vecs ...[]float64) []float64

// Sum is a ReduceFn that computes an elementwise sum.
func Sum(h *simnet.Handle, vecs ...[]float64) []float64 {
	for _, v := range vecs[1:] {
		if len(v) != len(vecs[0]) {
			panic("mismatching lengths")
		}
	}
	res := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i, x := range v {
			res[i] += x
		}
	}

	// Simulate computation time.
	h.Sleep(FlopTime * float64(len(vecs)*len(vecs[0])))

	return res
}

// An Allreducer is an algorithm that applies a ReduceFn
// to buffers distributed across the group and leaves the
// result on every rank.
//
// Allreduce is a blocking collective: every rank of the
// group must call it with a buffer of the same length.
type Allreducer interface {
	Allreduce(g *Group, data []float64, fn ReduceFn) []float64
}

// A NaiveAllreducer sends every rank's buffer to every
// other rank and reduces locally.
type NaiveAllreducer struct{}

// Allreduce runs fn on all of the ranks' buffers on every
// rank.
func (n NaiveAllreducer) Allreduce(g *Group, data []float64, fn ReduceFn) []float64 {
	gathered := make([][]float64, len(g.Nodes))

	for i, node := range g.Nodes {
		if node != g.Node {
			g.Send(node, data)
		} else {
			gathered[i] = data
		}
	}

	for i := 0; i < len(gathered)-1; i++ {
		incoming, source := g.Recv()
		for j, node := range g.Nodes {
			if node == source {
				gathered[j] = incoming
			}
		}
	}

	return fn(g.Handle, gathered...)
}

// A TreeAllreducer arranges the ranks in a binary tree,
// reduces up the tree to the root, and sends the result
// back down.
type TreeAllreducer struct{}

// Allreduce calls fn on buffers along a tree and returns
// the resulting reduced buffer.
func (t TreeAllreducer) Allreduce(g *Group, data []float64, fn ReduceFn) []float64 {
	parent, children := positionInTree(g)

	buffers := [][]float64{data}
	for range children {
		vec, _ := g.Recv()
		buffers = append(buffers, vec)
	}

	reduced := fn(g.Handle, buffers...)
	if parent != nil {
		g.Send(parent, reduced)
		reduced, _ = g.Recv()
	}

	for _, child := range children {
		g.Send(child, reduced)
	}

	return reduced
}

// positionInTree returns the parent and child nodes for a
// rank in the reduction tree.
//
// There may be no children. The tree root has no parent.
func positionInTree(g *Group) (parent *simnet.Node, children []*simnet.Node) {
	idx := g.Rank()
	for depth := uint(0); true; depth++ {
		rowSize := 1 << depth
		rowStart := rowSize - 1
		if idx >= rowStart+rowSize {
			continue
		}
		rowIdx := idx - rowStart
		if depth > 0 {
			parent = g.Nodes[rowIdx/2+(rowSize/2-1)]
		}
		firstChild := rowIdx*2 + (rowSize*2 - 1)
		for i := 0; i < 2; i++ {
			if firstChild+i < len(g.Nodes) {
				children = append(children, g.Nodes[firstChild+i])
			}
		}
		return
	}
	panic("unreachable")
}
