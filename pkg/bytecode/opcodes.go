package bytecode

import "fmt"

// Opcode identifies one instruction of the VM's closed instruction set.
// Opcodes are organized into ranges by category.
type Opcode byte

const (
	// ========================================================================
	// Local variables (0x10-0x1F)
	// ========================================================================

	OpLoadArg  Opcode = 0x10 // Push locals[idx]: ldarg <idx:u8>
	OpStoreArg Opcode = 0x11 // Pop into locals[idx]: starg <idx:u8>

	// ========================================================================
	// Arithmetic (0x20-0x2F)
	//
	// All eight pop two words and push one. The first-popped word (top of
	// stack, pushed last) is the LEFT operand; the second-popped word is the
	// RIGHT operand. Signed variants reinterpret both u32 bit patterns as
	// i32 and the result back to u32.
	// ========================================================================

	OpAddU Opcode = 0x20 // add.u
	OpAddS Opcode = 0x21 // add.s
	OpSubU Opcode = 0x22 // sub.u
	OpSubS Opcode = 0x23 // sub.s
	OpMulU Opcode = 0x24 // mul.u
	OpMulS Opcode = 0x25 // mul.s
	OpDivU Opcode = 0x26 // div.u (division by zero is a runtime fault)
	OpDivS Opcode = 0x27 // div.s

	// ========================================================================
	// Control flow (0x30-0x3F)
	// ========================================================================

	OpJump     Opcode = 0x30 // Unconditional: jump <offset:u32, absolute instruction index>
	OpBranchEq Opcode = 0x31 // Pop two, branch if equal: beq <offset:u32>

	// ========================================================================
	// Calls (0x40-0x4F)
	// ========================================================================

	OpCall Opcode = 0x40 // Invoke function: call <index:u16 into the function table>
	OpRet  Opcode = 0x41 // End the current function

	// ========================================================================
	// Diagnostics (0x50-0x5F)
	// ========================================================================

	OpBreakpoint Opcode = 0x50 // Emit a frame snapshot to the tracer, continue
)

// OperandKind describes what an instruction's operand refers to.
type OperandKind byte

const (
	OperandNone   OperandKind = iota // no operand
	OperandLocal                     // local slot index (0-255)
	OperandTarget                    // absolute instruction offset within the function
	OperandFunc                      // index into the program's function table
)

// OpcodeInfo provides metadata about each opcode for the loader, the
// disassembler, and the language server.
type OpcodeInfo struct {
	Mnemonic  string      // source-format spelling
	Operand   OperandKind // what the Arg field means
	StackPop  int         // words popped from the operand stack (-1 = variable)
	StackPush int         // words pushed (-1 = variable)
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Local variables
	OpLoadArg:  {"ldarg", OperandLocal, 0, 1},
	OpStoreArg: {"starg", OperandLocal, 1, 0},

	// Arithmetic
	OpAddU: {"add.u", OperandNone, 2, 1},
	OpAddS: {"add.s", OperandNone, 2, 1},
	OpSubU: {"sub.u", OperandNone, 2, 1},
	OpSubS: {"sub.s", OperandNone, 2, 1},
	OpMulU: {"mul.u", OperandNone, 2, 1},
	OpMulS: {"mul.s", OperandNone, 2, 1},
	OpDivU: {"div.u", OperandNone, 2, 1},
	OpDivS: {"div.s", OperandNone, 2, 1},

	// Control flow
	OpJump:     {"jump", OperandTarget, 0, 0},
	OpBranchEq: {"beq", OperandTarget, 2, 0},

	// Calls
	OpCall: {"call", OperandFunc, -1, -1}, // pops callee argCount, pushes 0 or 1
	OpRet:  {"ret", OperandNone, 0, 0},

	// Diagnostics
	OpBreakpoint: {"breakpoint", OperandNone, 0, 0},
}

// mnemonicTable is the reverse lookup used by the loader and the language
// server.
var mnemonicTable = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Mnemonic] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Unrecognized opcodes get a synthetic mnemonic and no operand.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Mnemonic: fmt.Sprintf("unknown(0x%02X)", byte(op)), Operand: OperandNone}
}

// OpcodeForMnemonic resolves a source-format mnemonic to its opcode.
func OpcodeForMnemonic(mnemonic string) (Opcode, bool) {
	op, ok := mnemonicTable[mnemonic]
	return op, ok
}

// String returns the source-format mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Mnemonic
}

// HasOperand reports whether the opcode carries an operand.
func (op Opcode) HasOperand() bool {
	return GetOpcodeInfo(op).Operand != OperandNone
}

// IsArithmetic reports whether the opcode is one of the eight binary
// arithmetic instructions.
func (op Opcode) IsArithmetic() bool {
	return op >= OpAddU && op <= OpDivS
}

// IsSigned reports whether an arithmetic opcode operates on i32
// reinterpretations. False for every non-arithmetic opcode.
func (op Opcode) IsSigned() bool {
	return op.IsArithmetic() && op&1 == 1
}

// IsBranch reports whether the opcode's operand is an instruction offset
// that the loader must resolve from a label placeholder.
func (op Opcode) IsBranch() bool {
	return op == OpJump || op == OpBranchEq
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// Mnemonics returns every source-format mnemonic.
func Mnemonics() []string {
	names := make([]string, 0, len(opcodeInfoTable))
	for _, info := range opcodeInfoTable {
		names = append(names, info.Mnemonic)
	}
	return names
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
