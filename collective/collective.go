// Package collective synchronizes values across a fixed
// group of cooperating processes, each typically solving
// its own instance of a problem (an ensemble member).
//
// A Strategy performs sum/average reduction and broadcast
// over four payload shapes: scalars (float64 or int),
// flat buffers ([]float64), distributed-vector handles
// (Vector), and ordered collections of such handles
// (MultiVector). Callers pick a strategy once, based on
// the group size, and issue Reduce/Bcast calls without
// branching on the number of participants:
//
//	var c collective.Strategy
//	if comm.Size() > 1 {
//		c = collective.NewGroup(comm)
//	} else {
//		c = collective.Null{}
//	}
//
// Every call on a Group is a blocking collective: all
// ranks must issue the same sequence of calls with the
// same operator, shape, and size. The package does not
// verify call-sequence agreement at runtime; a rank that
// diverges deadlocks the group or receives mismatched
// data.
package collective

import "errors"

// An Op selects the reduction applied across the group.
type Op string

const (
	// OpSum reduces by elementwise summation.
	OpSum Op = "sum"

	// OpAvg reduces by summation followed by division by
	// the group size.
	OpAvg Op = "avg"
)

func (o Op) valid() bool {
	return o == OpSum || o == OpAvg
}

// Errors reported before any communication takes place.
var (
	// ErrInvalidOp indicates an operator outside
	// {OpSum, OpAvg}.
	ErrInvalidOp = errors.New("collective: invalid reduction op")

	// ErrInvalidRoot indicates a broadcast root outside
	// [0, Size()).
	ErrInvalidRoot = errors.New("collective: root out of range")

	// ErrUnsupportedPayload indicates a payload outside
	// the supported shape set.
	ErrUnsupportedPayload = errors.New("collective: unsupported payload type")
)

// ErrSizeMismatch indicates that participants supplied
// buffers of different lengths to one collective call.
// It is only detected when Group.VerifySizes is set.
var ErrSizeMismatch = errors.New("collective: payload size mismatch across participants")

// A Strategy performs collective operations for one rank
// of a process group.
//
// Reduce and Bcast accept the closed payload set
// described in the package comment. For float64, int and
// []float64 payloads a new value is returned and the
// argument is left untouched; for Vector and MultiVector
// payloads the handle is overwritten in place and also
// returned, so call sites may use either the return value
// or the original handle.
type Strategy interface {
	// Rank gets this participant's index in the group.
	Rank() int

	// Size gets the number of participants.
	Size() int

	// Reduce combines the payload across all ranks with
	// the given operator and returns the group-wide
	// result on every rank.
	Reduce(payload any, op Op) (any, error)

	// Bcast replaces every rank's payload with the value
	// held by the root rank.
	Bcast(payload any, root int) (any, error)
}

// A Communicator is the transport a Group runs on. It is
// stored at construction and never mutated.
//
// Both primitives are blocking group operations over
// float64 buffers; every rank must call them in the same
// order with buffers of equal length.
type Communicator interface {
	// Rank gets the calling process's index.
	Rank() int

	// Size gets the number of processes in the group.
	Size() int

	// AllSum returns the elementwise sum of data across
	// all processes, on every process.
	AllSum(data []float64) ([]float64, error)

	// Bcast returns the root process's buffer on every
	// process.
	Bcast(data []float64, root int) ([]float64, error)
}
