package bytecode

import "fmt"

// FunctionKind tags the two function variants.
type FunctionKind byte

const (
	// FunctionManaged marks a function whose body is VM bytecode.
	FunctionManaged FunctionKind = 0
	// FunctionNative marks a function delegated to a host capability,
	// resolved by name at call time.
	FunctionNative FunctionKind = 1
)

// String returns the variant name used in listings and errors.
func (k FunctionKind) String() string {
	switch k {
	case FunctionManaged:
		return "managed"
	case FunctionNative:
		return "native"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Function is one entry of a program's function table. Managed and native
// functions share the header; DefaultLocals and Body are meaningful only
// for managed functions.
type Function struct {
	Kind         FunctionKind `cbor:"1,keyasint"`
	Name         string       `cbor:"2,keyasint"`
	ArgCount     uint16       `cbor:"3,keyasint,omitempty"`
	ReturnsValue bool         `cbor:"4,keyasint,omitempty"`

	// DefaultLocals holds the initial values of every local slot. Slots
	// [0, ArgCount) are argument slots, slot ArgCount (when ReturnsValue)
	// is the return slot; the loader guarantees
	// len(DefaultLocals) >= MinLocals().
	DefaultLocals []uint32 `cbor:"5,keyasint,omitempty"`

	// Body is the resolved instruction sequence. The program counter
	// indexes it directly; branch operands are absolute indices into it.
	Body []Instruction `cbor:"6,keyasint,omitempty"`
}

// IsManaged reports whether the function has a bytecode body.
func (f *Function) IsManaged() bool {
	return f.Kind == FunctionManaged
}

// MinLocals returns the smallest legal DefaultLocals length:
// one slot per argument plus the return slot when the function returns
// a value.
func (f *Function) MinLocals() int {
	n := int(f.ArgCount)
	if f.ReturnsValue {
		n++
	}
	return n
}

// Program is the resolved, executable representation of one source unit:
// an ordered function table plus the entry index. It is immutable once the
// loader produces it and may be executed any number of times.
type Program struct {
	Name      string     `cbor:"1,keyasint"`
	Entry     uint16     `cbor:"2,keyasint,omitempty"`
	Functions []Function `cbor:"3,keyasint"`
}

// EntryFunction returns the function the Entry index designates.
func (p *Program) EntryFunction() (*Function, error) {
	if int(p.Entry) >= len(p.Functions) {
		return nil, fmt.Errorf("entry index %d out of range (%d functions)", p.Entry, len(p.Functions))
	}
	return &p.Functions[p.Entry], nil
}

// FunctionByName returns the index of the first function with the given
// name, or false when no function matches.
func (p *Program) FunctionByName(name string) (int, bool) {
	for i := range p.Functions {
		if p.Functions[i].Name == name {
			return i, true
		}
	}
	return 0, false
}
