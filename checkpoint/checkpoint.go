// Package checkpoint loads stored parameter dictionaries and adapts them onto
// the parameter layout of a live network.
package checkpoint

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sbinet/npyio/npz"
	"gorgonia.org/tensor"
)

// WrapperPrefixLen is the length of the key prefix added by the
// data-parallel training wrapper ("module.").
const WrapperPrefixLen = 7

var (
	ErrNoParametersMatched = errors.New("checkpoint: no parameters matched the model")
	ErrPartialMatch        = errors.New("checkpoint: too few parameters matched the model")
	ErrShapeMismatch       = errors.New("checkpoint: parameter shape mismatch")
)

// StateDict maps parameter names to values.
type StateDict map[string]*tensor.Dense

// Keys returns the parameter names in sorted order.
func (sd StateDict) Keys() []string {
	keys := make([]string, 0, len(sd))
	for k := range sd {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Layout maps the live model's parameter names to their shapes.
type Layout map[string]tensor.Shape

// Report describes how a stored dictionary was transferred onto a layout.
type Report struct {
	Stored  int
	Live    int
	Matched int
	// Dropped holds stored keys that had no live counterpart after stripping.
	Dropped []string
	// Missing holds live keys that received no stored value.
	Missing []string
}

// Coverage is the fraction of live parameters that received a stored value.
func (r Report) Coverage() float64 {
	if r.Live == 0 {
		return 0
	}
	return float64(r.Matched) / float64(r.Live)
}

// Check fails when nothing was transferred or when the coverage is below
// minCoverage.
func (r Report) Check(minCoverage float64) error {
	if r.Matched == 0 {
		return fmt.Errorf("%w: 0 of %d stored keys map onto %d model parameters", ErrNoParametersMatched, r.Stored, r.Live)
	}
	if r.Coverage() < minCoverage {
		return fmt.Errorf("%w: %d of %d model parameters (%.1f%%, need %.1f%%)",
			ErrPartialMatch, r.Matched, r.Live, r.Coverage()*100, minCoverage*100)
	}
	return nil
}

// Adapt strips the wrapper prefix from every stored key and keeps the entries
// whose stripped name exists in live.
func Adapt(stored StateDict, live Layout) (StateDict, Report, error) {
	adapted := make(StateDict)
	report := Report{Stored: len(stored), Live: len(live)}

	for _, key := range stored.Keys() {
		if len(key) < WrapperPrefixLen {
			report.Dropped = append(report.Dropped, key)
			continue
		}
		name := key[WrapperPrefixLen:]
		shape, ok := live[name]
		if !ok {
			report.Dropped = append(report.Dropped, key)
			continue
		}
		value := stored[key]
		if !value.Shape().Eq(shape) {
			return nil, report, fmt.Errorf("%w: %s is %v in the checkpoint, %v in the model", ErrShapeMismatch, name, value.Shape(), shape)
		}
		adapted[name] = value
	}

	report.Matched = len(adapted)
	for name := range live {
		if _, ok := adapted[name]; !ok {
			report.Missing = append(report.Missing, name)
		}
	}
	sort.Strings(report.Missing)

	return adapted, report, nil
}

// Load reads a .npz archive holding one .npy array per parameter.
func Load(path string) (StateDict, error) {
	zr, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	defer zr.Close()

	keys := zr.Keys()
	if len(keys) == 0 {
		return nil, fmt.Errorf("checkpoint %s holds no arrays", path)
	}

	sd := make(StateDict, len(keys))
	for _, name := range keys {
		value, err := readEntry(zr, name)
		if err != nil {
			return nil, fmt.Errorf("read %s from %s: %w", name, path, err)
		}
		sd[name] = value
	}

	return sd, nil
}

func readEntry(zr *npz.Reader, name string) (*tensor.Dense, error) {
	hdr := zr.Header(name)
	if hdr == nil {
		return nil, errors.New("missing array header")
	}
	if hdr.Descr.Fortran {
		return nil, errors.New("fortran-ordered arrays are not supported")
	}

	shape := hdr.Descr.Shape
	read := func(ptr interface{}) error { return zr.Read(name, ptr) }
	data, err := readFloat32s(read, hdr.Descr.Type, numElements(shape))
	if err != nil {
		return nil, err
	}

	if len(shape) == 0 {
		return tensor.New(tensor.FromScalar(data[0])), nil
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
}

// readFloat32s reads n values of the given numpy dtype and converts them to
// float32.
func readFloat32s(read func(ptr interface{}) error, dtype string, n int) ([]float32, error) {
	switch strings.TrimLeft(dtype, "<|=") {
	case "f4":
		out := make([]float32, n)
		if err := read(&out); err != nil {
			return nil, err
		}
		return out, nil
	case "f8":
		raw := make([]float64, n)
		if err := read(&raw); err != nil {
			return nil, err
		}
		return convert(raw), nil
	case "i8":
		raw := make([]int64, n)
		if err := read(&raw); err != nil {
			return nil, err
		}
		return convert(raw), nil
	case "i4":
		raw := make([]int32, n)
		if err := read(&raw); err != nil {
			return nil, err
		}
		return convert(raw), nil
	case "u1":
		raw := make([]uint8, n)
		if err := read(&raw); err != nil {
			return nil, err
		}
		return convert(raw), nil
	default:
		return nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
}

func convert[T float64 | int64 | int32 | uint8](in []T) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
