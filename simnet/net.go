package simnet

import (
	"math/rand"
	"sync"
)

// A Node is a machine on a simulated network.
type Node struct {
	// Incoming receives *Message objects.
	Incoming *Stream
}

// NewNode creates a Node attached to the loop.
func NewNode(loop *Loop) *Node {
	return &Node{Incoming: loop.Stream()}
}

// Recv blocks until the next message arrives.
func (n *Node) Recv(h *Handle) *Message {
	return h.Poll(n.Incoming).Message.(*Message)
}

// A Message is a chunk of data sent between nodes.
type Message struct {
	Source *Node
	Dest   *Node

	// Payload is the data being carried.
	Payload any

	// Size is the transfer size in bytes, used by the
	// network to compute delivery times.
	Size float64
}

// A Network delivers messages between nodes.
type Network interface {
	// Send delivers message objects to their destination
	// nodes' Incoming streams.
	//
	// Send never blocks; delivery happens at some later
	// virtual time.
	Send(h *Handle, msgs ...*Message)
}

// A RandomNetwork assigns an independent random delay to
// every message.
type RandomNetwork struct{}

// Send schedules the messages with random delays.
func (r RandomNetwork) Send(h *Handle, msgs ...*Message) {
	for _, msg := range msgs {
		h.Schedule(msg.Dest.Incoming, msg, rand.Float64())
	}
}

// A LinkNetwork models point-to-point links with a fixed
// latency and a fixed byte rate per receiving NIC.
//
// Messages to the same destination are serialized: a
// message cannot begin arriving until the destination has
// finished receiving every earlier message.
type LinkNetwork struct {
	// Latency is added to every delivery.
	Latency float64

	// Rate is the NIC byte rate; a message of Size s
	// occupies the destination for s/Rate virtual time.
	Rate float64

	lock     sync.Mutex
	nextIdle map[*Node]float64
}

// NewLinkNetwork creates a LinkNetwork.
func NewLinkNetwork(latency, rate float64) *LinkNetwork {
	return &LinkNetwork{
		Latency:  latency,
		Rate:     rate,
		nextIdle: map[*Node]float64{},
	}
}

// Send schedules the messages, serializing per
// destination.
func (l *LinkNetwork) Send(h *Handle, msgs ...*Message) {
	l.lock.Lock()
	defer l.lock.Unlock()

	curTime := h.Time()
	for _, msg := range msgs {
		transfer := l.Latency + msg.Size/l.Rate
		start := curTime
		if t, ok := l.nextIdle[msg.Dest]; ok && t > start {
			start = t
		}
		arrival := start + transfer
		l.nextIdle[msg.Dest] = arrival
		h.Schedule(msg.Dest.Incoming, msg, arrival-curTime)
	}
}
