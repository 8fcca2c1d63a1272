// Package device selects the compute device and numeric precision used by
// every model the worker loads. The selection happens once at startup.
package device

import (
	"os/exec"
	"runtime"
)

const (
	CUDA = "cuda"
	MPS  = "mps"
	CPU  = "cpu"
)

const (
	Float16 = "float16"
	Float32 = "float32"
)

// Selection is the device chosen at startup. It is read-only afterwards.
type Selection struct {
	Name      string
	Precision string
}

// TorchDType is the precision as the torch dtype label parents already parse,
// e.g. "torch.float16".
func (s Selection) TorchDType() string {
	return "torch." + s.Precision
}

// Prober reports whether a device is usable on this host.
type Prober func() bool

// Probes is the ordered preference list. The first available entry wins.
type Probes struct {
	CUDA Prober
	MPS  Prober
}

// HostProbes returns probes that inspect the running machine.
func HostProbes() Probes {
	return Probes{
		CUDA: cudaAvailable,
		MPS:  mpsAvailable,
	}
}

// Probe runs the host probes.
func Probe() Selection {
	return ProbeWith(HostProbes())
}

// ProbeWith picks cuda, then mps, then cpu. Half precision is only used on cuda.
func ProbeWith(probes Probes) Selection {
	if probes.CUDA != nil && probes.CUDA() {
		return Selection{Name: CUDA, Precision: Float16}
	}

	if probes.MPS != nil && probes.MPS() {
		return Selection{Name: MPS, Precision: Float32}
	}

	return Selection{Name: CPU, Precision: Float32}
}

func cudaAvailable() bool {
	path, lookErr := exec.LookPath("nvidia-smi")
	if lookErr != nil {
		return false
	}

	return exec.Command(path, "-L").Run() == nil
}

func mpsAvailable() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}
