// SPDX-License-Identifier: MIT
package spectrogram

import "errors"

var (
	// ErrSourceTimeout means the source never became ready. The engine does not start.
	ErrSourceTimeout = errors.New("source did not become ready")
	// ErrRangeTimeout means a chunk's samples never became readable. Only that chunk is abandoned.
	ErrRangeTimeout = errors.New("sample range did not become readable")
	// ErrOutsideWindow is returned by Buffer.Write for columns outside the window.
	ErrOutsideWindow = errors.New("column outside buffer window")
	ErrInvalidConfig = errors.New("invalid spectrogram config")
	// ErrBudget means the memory budget cannot hold a single column.
	ErrBudget = errors.New("memory budget too small")
	// ErrNotStarted is returned by Wait before Start succeeded.
	ErrNotStarted = errors.New("engine not started")
	// ErrClosed is returned by Wait when the engine is closed while waiting.
	ErrClosed = errors.New("engine closed")
)
