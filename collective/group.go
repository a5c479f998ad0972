package collective

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// A Group is the Strategy for a real multi-participant
// process group. It holds a Communicator for the
// strategy's lifetime and dispatches each call by payload
// shape.
//
// Dispatch is by capability, resolved once per call:
// MultiVector is checked first, then Vector, then the
// concrete scalar and buffer types. A reduction over an
// int payload with OpSum yields an int; with OpAvg the
// result is promoted to float64 before the division, so
// averages of integers never truncate.
type Group struct {
	// VerifySizes makes every buffer collective exchange
	// a one-element length token first, turning a
	// cross-rank size mismatch into an ErrSizeMismatch
	// instead of undefined transport behavior. It costs
	// one extra collective call per buffer.
	VerifySizes bool

	// Log, when non-nil, receives a debug entry per
	// collective call.
	Log *zap.Logger

	comm Communicator
}

// NewGroup creates a Group over the communicator.
func NewGroup(comm Communicator) *Group {
	return &Group{comm: comm}
}

// Rank gets this participant's index in the group.
func (g *Group) Rank() int {
	return g.comm.Rank()
}

// Size gets the number of participants.
func (g *Group) Size() int {
	return g.comm.Size()
}

// Reduce combines the payload across all ranks and
// returns the result on every rank.
//
// Scalars and buffers follow value semantics: a new value
// is returned. Vector and MultiVector payloads are
// overwritten in place and returned; a MultiVector is
// reduced column by column, in index order, with one
// collective call per column.
func (g *Group) Reduce(payload any, op Op) (any, error) {
	if !op.valid() {
		return nil, opError(op)
	}
	g.logCall("reduce", payload, string(op))
	switch p := payload.(type) {
	case MultiVector:
		return g.reduceMulti(p, op)
	case Vector:
		return g.reduceVector(p, op)
	case float64:
		res, err := g.reduceBuffer([]float64{p}, op)
		if err != nil {
			return nil, err
		}
		return res[0], nil
	case int:
		res, err := g.reduceBuffer([]float64{float64(p)}, op)
		if err != nil {
			return nil, err
		}
		if op == OpAvg {
			return res[0], nil
		}
		return int(math.Round(res[0])), nil
	case []float64:
		return g.reduceBuffer(p, op)
	default:
		return nil, payloadError(payload)
	}
}

// Bcast replaces every rank's payload with the root
// rank's value and returns it.
//
// Value and handle semantics match Reduce: scalars and
// buffers come back as new values, Vector and MultiVector
// handles are overwritten in place on every rank.
func (g *Group) Bcast(payload any, root int) (any, error) {
	if root < 0 || root >= g.Size() {
		return nil, fmt.Errorf("%w: %d with %d participants", ErrInvalidRoot, root, g.Size())
	}
	g.logCall("bcast", payload, fmt.Sprintf("root=%d", root))
	switch p := payload.(type) {
	case MultiVector:
		return g.bcastMulti(p, root)
	case Vector:
		return g.bcastVector(p, root)
	case float64:
		res, err := g.bcastBuffer([]float64{p}, root)
		if err != nil {
			return nil, err
		}
		return res[0], nil
	case int:
		res, err := g.bcastBuffer([]float64{float64(p)}, root)
		if err != nil {
			return nil, err
		}
		return int(math.Round(res[0])), nil
	case []float64:
		return g.bcastBuffer(p, root)
	default:
		return nil, payloadError(payload)
	}
}

func (g *Group) reduceBuffer(data []float64, op Op) ([]float64, error) {
	if err := g.verifySize(len(data)); err != nil {
		return nil, err
	}
	res, err := g.comm.AllSum(data)
	if err != nil {
		return nil, fmt.Errorf("collective: reduce failed: %w", err)
	}
	if op == OpAvg {
		scale := 1.0 / float64(g.Size())
		for i := range res {
			res[i] *= scale
		}
	}
	return res, nil
}

func (g *Group) bcastBuffer(data []float64, root int) ([]float64, error) {
	if err := g.verifySize(len(data)); err != nil {
		return nil, err
	}
	res, err := g.comm.Bcast(data, root)
	if err != nil {
		return nil, fmt.Errorf("collective: bcast failed: %w", err)
	}
	return res, nil
}

func (g *Group) reduceVector(v Vector, op Op) (Vector, error) {
	buf, err := g.reduceBuffer(v.Local(), op)
	if err != nil {
		return nil, err
	}
	if err := v.SetLocal(buf); err != nil {
		return nil, err
	}
	return v, nil
}

func (g *Group) bcastVector(v Vector, root int) (Vector, error) {
	buf, err := g.bcastBuffer(v.Local(), root)
	if err != nil {
		return nil, err
	}
	if err := v.SetLocal(buf); err != nil {
		return nil, err
	}
	return v, nil
}

func (g *Group) reduceMulti(mv MultiVector, op Op) (MultiVector, error) {
	for i := 0; i < mv.NVec(); i++ {
		if _, err := g.reduceVector(mv.Vec(i), op); err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
	}
	return mv, nil
}

func (g *Group) bcastMulti(mv MultiVector, root int) (MultiVector, error) {
	for i := 0; i < mv.NVec(); i++ {
		if _, err := g.bcastVector(mv.Vec(i), root); err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
	}
	return mv, nil
}

// verifySize exchanges a one-element length token and
// fails if any rank's buffer length disagrees.
func (g *Group) verifySize(n int) error {
	if !g.VerifySizes {
		return nil
	}
	sum, err := g.comm.AllSum([]float64{float64(n)})
	if err != nil {
		return fmt.Errorf("collective: size check failed: %w", err)
	}
	if sum[0] != float64(n*g.Size()) {
		return fmt.Errorf("%w: local length %d", ErrSizeMismatch, n)
	}
	return nil
}

func (g *Group) logCall(call string, payload any, detail string) {
	if g.Log == nil {
		return
	}
	g.Log.Debug("collective call",
		zap.String("call", call),
		zap.String("shape", shapeName(payload)),
		zap.String("detail", detail),
		zap.Int("rank", g.Rank()),
		zap.Int("size", g.Size()))
}

func shapeName(payload any) string {
	switch payload.(type) {
	case MultiVector:
		return "multivector"
	case Vector:
		return "vector"
	case float64, int:
		return "scalar"
	case []float64:
		return "buffer"
	default:
		return fmt.Sprintf("%T", payload)
	}
}

func opError(op Op) error {
	return fmt.Errorf("%w: %q", ErrInvalidOp, string(op))
}

func payloadError(payload any) error {
	return fmt.Errorf("%w: %T", ErrUnsupportedPayload, payload)
}
