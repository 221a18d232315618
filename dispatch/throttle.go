package dispatch

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Limits holds back new claims while the host is saturated. CPUPercent is a
// used-percent ceiling; FreeMem and FreeDisk are minimum free bytes. A zero
// value disables the corresponding check.
type Limits struct {
	CPUPercent float64
	FreeMem    uint64
	FreeDisk   uint64

	// DiskPath is the mount the disk check samples, normally the
	// workspace root.
	DiskPath string
}

// overloaded reports the first exceeded limit. Sampling errors never hold
// work back.
func overloaded(l Limits) (string, bool) {
	if l.CPUPercent > 0 {
		percents, err := cpu.Percent(0, false)
		if err == nil && len(percents) > 0 && percents[0] > l.CPUPercent {
			return fmt.Sprintf("cpu %.1f%% over limit %.1f%%", percents[0], l.CPUPercent), true
		}
	}
	if l.FreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err == nil && vm.Available < l.FreeMem {
			return fmt.Sprintf("free memory %s under limit %s",
				datasize.ByteSize(vm.Available).HumanReadable(),
				datasize.ByteSize(l.FreeMem).HumanReadable()), true
		}
	}
	if l.FreeDisk > 0 && l.DiskPath != "" {
		usage, err := disk.Usage(l.DiskPath)
		if err == nil && usage.Free < l.FreeDisk {
			return fmt.Sprintf("free disk %s under limit %s",
				datasize.ByteSize(usage.Free).HumanReadable(),
				datasize.ByteSize(l.FreeDisk).HumanReadable()), true
		}
	}
	return "", false
}
