package vm

import (
	"math/rand"
	"sort"
	"time"
)

// ---------------------------------------------------------------------------
// Native capability table
// ---------------------------------------------------------------------------

// NativeFunc is a host operation backing a native function. It consumes no
// operand input; it is invoked purely for its result. The second return
// value reports whether a result was produced. A native declared with
// returnsValue that reports false raises a fault; a result from a native
// declared without returnsValue is discarded.
type NativeFunc func() (uint32, bool)

// Registry maps native function names to host operations. It is supplied to
// the interpreter before a run starts and must not be mutated while a run
// is in progress.
type Registry struct {
	funcs map[string]NativeFunc
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]NativeFunc)}
}

// Register installs fn under name, replacing any previous registration.
func (r *Registry) Register(name string, fn NativeFunc) {
	r.funcs[name] = fn
}

func (r *Registry) Lookup(name string) (NativeFunc, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with the stock host capabilities:
//
//	clock - seconds since the Unix epoch, truncated to 32 bits
//	rand  - a pseudo-random 32-bit value
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("clock", func() (uint32, bool) {
		return uint32(time.Now().Unix()), true
	})
	r.Register("rand", func() (uint32, bool) {
		return rand.Uint32(), true
	})
	return r
}
