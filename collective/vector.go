package collective

import "fmt"

// A Vector is a handle to a distributed vector. The
// collective layer only touches the locally stored
// entries; global structure (partitioning, norms) belongs
// to the owning library.
//
// Anything implementing Vector is treated as the
// distributed-vector payload shape.
type Vector interface {
	// Local returns a copy of the locally stored entries.
	Local() []float64

	// SetLocal overwrites the locally stored entries.
	// The buffer length must match the local size.
	SetLocal(data []float64) error
}

// A MultiVector is an ordered collection of equal-shaped
// Vectors, such as the columns of a randomized
// decomposition or an ensemble of samples.
//
// Anything implementing MultiVector is treated as the
// vector-collection payload shape, reduced and broadcast
// column by column.
type MultiVector interface {
	// NVec gets the number of vectors.
	NVec() int

	// Vec gets the i-th vector.
	Vec(i int) Vector
}

// A SliceVector is an in-memory Vector backed by a
// float64 slice.
type SliceVector struct {
	data []float64
}

// NewSliceVector creates a zero-filled SliceVector of the
// given length.
func NewSliceVector(n int) *SliceVector {
	return &SliceVector{data: make([]float64, n)}
}

// VectorOf creates a SliceVector holding a copy of data.
func VectorOf(data []float64) *SliceVector {
	return &SliceVector{data: append([]float64{}, data...)}
}

// Len gets the number of entries.
func (s *SliceVector) Len() int {
	return len(s.data)
}

// Local returns a copy of the entries.
func (s *SliceVector) Local() []float64 {
	return append([]float64{}, s.data...)
}

// SetLocal overwrites the entries.
func (s *SliceVector) SetLocal(data []float64) error {
	if len(data) != len(s.data) {
		return fmt.Errorf("collective: cannot set %d entries on a vector of length %d",
			len(data), len(s.data))
	}
	copy(s.data, data)
	return nil
}

// An Ensemble is an in-memory MultiVector holding an
// ordered list of Vectors.
type Ensemble struct {
	vecs []Vector
}

// NewEnsemble creates an Ensemble over the given vectors.
// The Ensemble keeps the handles; it does not copy their
// contents.
func NewEnsemble(vecs ...Vector) *Ensemble {
	return &Ensemble{vecs: vecs}
}

// NewEnsembleLike creates an Ensemble of n zero-filled
// SliceVectors with the same local size as proto.
func NewEnsembleLike(proto Vector, n int) *Ensemble {
	vecs := make([]Vector, n)
	size := len(proto.Local())
	for i := range vecs {
		vecs[i] = NewSliceVector(size)
	}
	return &Ensemble{vecs: vecs}
}

// NVec gets the number of vectors.
func (e *Ensemble) NVec() int {
	return len(e.vecs)
}

// Vec gets the i-th vector.
func (e *Ensemble) Vec(i int) Vector {
	return e.vecs[i]
}
