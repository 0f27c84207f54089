package tensor

// Mat represents a dense row-major matrix of float32 values.
//
// R and C represent the number of rows and columns respectively. Stride is
// the number of elements between the starts of two consecutive rows (for
// row-major matrices this is equal to C). Data holds the flattened values.
//
// Mat does not perform any memory safety beyond the checks performed by Go's
// slice types; out-of-range indices will panic.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a new matrix with the given number of rows and columns.
// The underlying slice is zero initialised.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("tensor: negative dimension for matrix")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   make([]float32, r*c),
	}
}

// NewMatFromData creates a matrix from existing data.
// It checks that the data length matches r*c.
func NewMatFromData(r, c int, data []float32) Mat {
	if r*c != len(data) {
		panic("tensor: data length mismatch")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   data,
	}
}

// Row returns the i-th row as a slice sharing the matrix backing store.
func (m Mat) Row(i int) []float32 {
	off := i * m.Stride
	return m.Data[off : off+m.C]
}

// View returns a matrix sharing m's backing store but restricted to the
// first r rows. Used to expose the logical portion of an over-allocated
// buffer.
func (m Mat) View(r int) Mat {
	if r > m.R {
		panic("tensor: view larger than matrix")
	}
	v := m
	v.R = r
	v.Data = m.Data[:r*m.Stride]
	return v
}
