// Package device resolves the compute backend for a run and reports the host
// CPU capabilities.
//
// Only the CPU backend exists. A GPU request ("--gpus 1", "--gpus 0,1") is
// accepted and downgraded to CPU with a warning so that recipes written for
// accelerators still run.
package device

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
	"github.com/YuminosukeSato/sedbaseline/pkg/log"
)

// CPU is the only backend.
const CPU = "cpu"

// Info describes the resolved device.
type Info struct {
	Backend       string
	Brand         string
	PhysicalCores int
	LogicalCores  int
	AVX2          bool
	AVX512        bool
	// Workers is the goroutine count for per-sample work.
	Workers int
	// RequestedGPUs is the number of accelerators asked for on the command line.
	RequestedGPUs int
}

// Detect reads the host CPU through cpuid.
func Detect() Info {
	info := Info{
		Backend:       CPU,
		Brand:         cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		AVX2:          cpuid.CPU.Supports(cpuid.AVX2),
		AVX512:        cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
	}
	if info.LogicalCores <= 0 {
		info.LogicalCores = runtime.NumCPU()
	}
	if info.Brand == "" {
		info.Brand = runtime.GOARCH
	}
	return info
}

// ParseGPUs counts the devices in a --gpus value: "", "0" and "-0" mean none,
// a positive integer n means n devices, "-1" means all, and a comma list
// names devices explicitly.
func ParseGPUs(spec string) (int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, nil
	}
	if strings.Contains(spec, ",") {
		n := 0
		for _, part := range strings.Split(spec, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if id, err := strconv.Atoi(part); err != nil || id < 0 {
				return 0, errors.NewValidationError("gpus", "device list must hold non-negative integers", spec)
			}
			n++
		}
		return n, nil
	}
	n, err := strconv.Atoi(spec)
	if err != nil || n < -1 {
		return 0, errors.NewValidationError("gpus", "must be an integer >= -1 or a comma separated device list", spec)
	}
	if n == -1 {
		return 1, nil
	}
	return n, nil
}

// Resolve maps the --gpus flag, the configured distributed backend and the
// worker count onto a device. numWorkers <= 0 uses one worker per logical
// core.
func Resolve(gpus, backend string, numWorkers int, logger log.Logger) (Info, error) {
	n, err := ParseGPUs(gpus)
	if err != nil {
		return Info{}, err
	}
	info := Detect()
	info.RequestedGPUs = n
	if n > 0 {
		logger.Warn("GPU training is not available, falling back to CPU", "gpus", gpus)
	}
	if backend != "" && backend != CPU {
		logger.Warn("distributed backend ignored on CPU", "backend", backend)
	}

	info.Workers = numWorkers
	if info.Workers <= 0 {
		info.Workers = info.LogicalCores
	}
	if info.Workers <= 0 {
		info.Workers = 1
	}
	logger.Info("device resolved",
		log.DeviceKey, info.Backend,
		log.CPUKey, info.Brand,
		log.WorkersKey, info.Workers,
		"avx2", info.AVX2,
		"avx512", info.AVX512,
	)
	return info, nil
}
