// Package comm implements a fixed process group with
// blocking collective primitives over float64 buffers.
//
// Each rank holds its own Group, which represents that
// rank's view of the world. All collective calls are
// synchronous: every rank must issue the same calls in
// the same order, or the simulation deadlocks.
//
// Issuing collectives back to back is only safe on a
// network that delivers messages to a destination in the
// order they were sent, such as simnet.LinkNetwork;
// otherwise a fast rank's next call can overtake the
// current one.
package comm

import (
	"fmt"

	"github.com/ensemblelab/collectives/simnet"
)

// A Group is a single rank's handle on the process group.
type Group struct {
	// Handle is the rank's main goroutine's handle on the
	// event loop.
	Handle *simnet.Handle

	// Node is the current rank's node.
	Node *simnet.Node

	// Nodes contains the nodes of every rank in the
	// group, including Node, ordered by rank.
	Nodes []*simnet.Node

	// Network is the network connecting the nodes.
	Network simnet.Network

	// Reducer selects the allreduce algorithm.
	// A nil Reducer means TreeAllreducer.
	Reducer Allreducer
}

// Spawn creates a Group for every node in the network and
// calls f for each rank in its own goroutine.
func Spawn(loop *simnet.Loop, network simnet.Network, nodes []*simnet.Node, f func(g *Group)) {
	for i := range nodes {
		node := nodes[i]
		loop.Go(func(h *simnet.Handle) {
			f(&Group{
				Handle:  h,
				Node:    node,
				Nodes:   nodes,
				Network: network,
			})
		})
	}
}

// Size gets the number of ranks in the group.
func (g *Group) Size() int {
	return len(g.Nodes)
}

// Rank gets the current rank's index in the group.
func (g *Group) Rank() int {
	for i, node := range g.Nodes {
		if node == g.Node {
			return i
		}
	}
	panic("node is not a member of its own group")
}

// Send schedules a buffer to be sent to the destination.
func (g *Group) Send(dst *simnet.Node, vec []float64) {
	g.Network.Send(g.Handle, &simnet.Message{
		Source:  g.Node,
		Dest:    dst,
		Payload: vec,
		Size:    float64(len(vec) * 8),
	})
}

// Recv blocks until the next buffer arrives.
func (g *Group) Recv() ([]float64, *simnet.Node) {
	msg := g.Node.Recv(g.Handle)
	return msg.Payload.([]float64), msg.Source
}

// AllSum computes the elementwise sum of data across all
// ranks and returns the result on every rank.
//
// The returned buffer is freshly allocated; data is not
// modified.
func (g *Group) AllSum(data []float64) ([]float64, error) {
	reducer := g.Reducer
	if reducer == nil {
		reducer = TreeAllreducer{}
	}
	res := reducer.Allreduce(g, data, Sum)
	return append([]float64{}, res...), nil
}

// Bcast distributes the root rank's buffer to every rank.
//
// Every rank, including the root, receives a freshly
// allocated copy of the root's data.
func (g *Group) Bcast(data []float64, root int) ([]float64, error) {
	if root < 0 || root >= g.Size() {
		return nil, fmt.Errorf("comm: root %d out of range [0, %d)", root, g.Size())
	}
	if g.Rank() != root {
		vec, _ := g.Recv()
		return append([]float64{}, vec...), nil
	}
	messages := make([]*simnet.Message, 0, len(g.Nodes)-1)
	for _, node := range g.Nodes {
		if node == g.Node {
			continue
		}
		messages = append(messages, &simnet.Message{
			Source:  g.Node,
			Dest:    node,
			Payload: data,
			Size:    float64(len(data) * 8),
		})
	}
	g.Network.Send(g.Handle, messages...)
	return append([]float64{}, data...), nil
}
