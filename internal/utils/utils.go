package utils

func PointerTo[T any](v T) *T {
	return &v
}

func FromPointer[T comparable](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}

// NillablePointerTo returns a pointer to v if v is not the zero value of its
// type, otherwise it returns nil.
func NillablePointerTo[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}
