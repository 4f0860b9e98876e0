// SPDX-License-Identifier: MIT
package spectrogram

import (
	"fmt"

	applog "specstream/internal/log"

	"github.com/shirou/gopsutil/mem"
)

// DefaultMemoryBudget is the column storage budget in bytes.
const DefaultMemoryBudget = 256 << 20

const bytesPerValue = 4 // float32

// availableMemory is swapped out in tests.
var availableMemory = func() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// Capacity returns how many columns of height values fit in budget bytes.
// When fraction is in (0, 1] the budget is further capped at that share of
// the host's available memory. maxColumns > 0 is an absolute cap.
func Capacity(budget int64, fraction float64, height, maxColumns int) (int, error) {
	if height <= 0 {
		return 0, fmt.Errorf("%w: column height %d", ErrBudget, height)
	}
	if budget <= 0 {
		budget = DefaultMemoryBudget
	}

	if fraction > 0 && fraction <= 1 {
		if avail, err := availableMemory(); err != nil {
			applog.Warnf("Engine: reading available memory: %v (using configured budget)", err)
		} else if hostCap := int64(float64(avail) * fraction); hostCap > 0 && hostCap < budget {
			applog.Infof("Engine: memory budget capped to %d MiB by host availability", hostCap>>20)
			budget = hostCap
		}
	}

	columns := budget / int64(height*bytesPerValue)
	if columns < 1 {
		return 0, fmt.Errorf("%w: %d bytes cannot hold one %d-value column", ErrBudget, budget, height)
	}
	if maxColumns > 0 && columns > int64(maxColumns) {
		columns = int64(maxColumns)
	}
	return int(columns), nil
}
