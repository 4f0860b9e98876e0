// SPDX-License-Identifier: MIT
package analysis

// Transformer turns a contiguous run of samples into consecutive magnitude
// columns. Implementations are not required to be safe for concurrent use;
// the engine owns one per fill worker.
type Transformer interface {
	// ColumnHeight is the number of magnitudes per column (1 + windowSize/2).
	ColumnHeight() int

	// WindowSize is the frame length in samples.
	WindowSize() int

	// Compute writes columns*ColumnHeight() magnitudes into dst. samples must
	// hold at least (columns-1)*hop + WindowSize() values, the first frame
	// starting at samples[0].
	Compute(samples []float64, hop, columns int, dst []float32) error
}

var _ Transformer = (*Kernel)(nil)
