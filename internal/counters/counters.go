// Package counters turns raw interface byte counters into transferred-byte
// deltas and provides the counter source used on Linux.
package counters

import (
	"errors"
	"fmt"
	"math"

	"github.com/prometheus/procfs"

	"tetherctl/internal/model"
)

// ErrNotFound is returned when the requested interface has no counters.
var ErrNotFound = errors.New("counters: interface not found")

// Delta returns how many bytes a 32-bit counter advanced from past to now.
// A smaller now means the counter wrapped, counted as the distance from past
// to MaxUint32 plus now.
func Delta(past, now uint32) uint32 {
	if now >= past {
		return now - past
	}
	return (math.MaxUint32 - past) + now
}

// Sampler reads the current counters of one interface.
type Sampler interface {
	Sample(name string) (model.InterfaceByteCount, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(name string) (model.InterfaceByteCount, error)

func (f SamplerFunc) Sample(name string) (model.InterfaceByteCount, error) {
	return f(name)
}

// ProcSampler reads /proc/net/dev.
type ProcSampler struct {
	fs procfs.FS
}

// NewProcSampler opens the proc filesystem mounted at root ("" means /proc).
func NewProcSampler(root string) (*ProcSampler, error) {
	if root == "" {
		root = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("counters: open %s: %w", root, err)
	}
	return &ProcSampler{fs: fs}, nil
}

// Sample returns the receive/transmit byte counters of name. The kernel
// exposes 64-bit counters; they are folded to 32 bits so every consumer
// runs the same wraparound arithmetic.
func (s *ProcSampler) Sample(name string) (model.InterfaceByteCount, error) {
	if name == "" {
		return model.InterfaceByteCount{}, ErrNotFound
	}
	dev, err := s.fs.NetDev()
	if err != nil {
		return model.InterfaceByteCount{}, fmt.Errorf("counters: read net/dev: %w", err)
	}
	line, ok := dev[name]
	if !ok {
		return model.InterfaceByteCount{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return model.InterfaceByteCount{
		InputBytes:  uint32(line.RxBytes),
		OutputBytes: uint32(line.TxBytes),
	}, nil
}
