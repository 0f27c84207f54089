package tensor

import "fmt"

// Device identifies where a matrix's backing memory lives.
type Device string

const (
	DeviceHost Device = "host"
	DeviceCUDA Device = "cuda"
)

// DeviceMatrix is a two-dimensional float32 buffer that may be resident on
// an accelerator. The sampling core never indexes device memory directly;
// it calls CopyRows exactly once per batch to land the distributions in a
// host buffer.
type DeviceMatrix interface {
	// Rows and Cols describe the logical (n, vocab) shape.
	Rows() int
	Cols() int

	// Device reports where the backing memory lives.
	Device() Device

	// CopyRows copies the first rows rows into dst, which must hold at
	// least rows*Cols() elements. The copy is synchronous; when it returns
	// the host data is valid.
	CopyRows(dst []float32, rows int) error
}

// HostMatrix is the host-resident DeviceMatrix used by the CPU serving path
// and by tests. Its CopyRows is a plain memmove.
type HostMatrix struct {
	Mat
}

// NewHostMatrix wraps existing row-major data as a host-resident matrix.
func NewHostMatrix(r, c int, data []float32) *HostMatrix {
	return &HostMatrix{Mat: NewMatFromData(r, c, data)}
}

func (h *HostMatrix) Rows() int      { return h.R }
func (h *HostMatrix) Cols() int      { return h.C }
func (h *HostMatrix) Device() Device { return DeviceHost }

func (h *HostMatrix) CopyRows(dst []float32, rows int) error {
	if rows > h.R {
		return fmt.Errorf("tensor: copy of %d rows from %d-row matrix", rows, h.R)
	}
	if len(dst) < rows*h.C {
		return fmt.Errorf("tensor: destination holds %d elements, need %d", len(dst), rows*h.C)
	}
	copy(dst[:rows*h.C], h.Data[:rows*h.C])
	return nil
}
