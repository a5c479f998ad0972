package collective

// Null is the identity Strategy for a group with exactly
// one participant. It never communicates.
type Null struct{}

// Rank returns 0.
func (Null) Rank() int {
	return 0
}

// Size returns 1.
func (Null) Size() int {
	return 1
}

// Reduce returns the payload unchanged: the sum and the
// average of a single participant's value are both the
// value itself.
func (Null) Reduce(payload any, op Op) (any, error) {
	if !op.valid() {
		return nil, opError(op)
	}
	return payload, nil
}

// Bcast returns the payload unchanged. The root is
// accepted but ignored, since there is only one
// participant.
func (Null) Bcast(payload any, root int) (any, error) {
	return payload, nil
}
