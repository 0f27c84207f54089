package sampler

import (
	"fmt"

	"github.com/Notborntodie/mlc-llm/internal/tensor"
)

// initialCacheRows is the smallest host buffer capacity. Capacity doubles
// from there until the largest batch seen fits, and never shrinks while the
// vocab width stays constant.
const initialCacheRows = 32

// probsCache owns the host-resident buffer that receives one batch of
// probability distributions per sampling call.
type probsCache struct {
	buf tensor.Mat
}

// ensure lands the distributions of src in host memory and returns a view
// of the logical rows. It performs exactly one transfer, sized to the row
// count of src. A vocab width change invalidates the cached allocation.
func (c *probsCache) ensure(src tensor.DeviceMatrix) (tensor.Mat, error) {
	rows, vocab := src.Rows(), src.Cols()
	if rows <= 0 || vocab <= 0 {
		panic(fmt.Sprintf("sampler: invalid distribution batch shape (%d, %d)", rows, vocab))
	}
	if c.buf.Data != nil && c.buf.C != vocab {
		// Width change: start over with the reset size heuristic.
		c.buf = tensor.Mat{}
	}

	capacity := initialCacheRows
	if c.buf.Data != nil {
		capacity = c.buf.R
	}
	for capacity < rows {
		capacity *= 2
	}
	if c.buf.Data == nil || capacity != c.buf.R {
		// No partial copy of the old contents: the transfer below
		// overwrites the logical rows anyway.
		c.buf = tensor.NewMat(capacity, vocab)
	}

	view := c.buf.View(rows)
	if err := src.CopyRows(view.Data, rows); err != nil {
		return tensor.Mat{}, fmt.Errorf("copy distributions to host: %w", err)
	}
	return view, nil
}
