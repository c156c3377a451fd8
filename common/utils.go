package common

// Coalesce returns the first non-zero value from the provided values, or the zero value if all are zero.
//
// Parameters:
//   - values: a variadic list of values to check for non-zero status
//
// Returns:
//   - T: the first non-zero value from the input, or the zero value if all are zero
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// RGBABufferSize returns the byte length of a tightly packed RGBA8 image of the given size.
//
// Parameters:
//   - width: image width in pixels
//   - height: image height in pixels
//
// Returns:
//   - int: width * height * 4
func RGBABufferSize(width, height uint32) int {
	return int(width) * int(height) * 4
}
