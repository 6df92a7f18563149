package bytecode

import "fmt"

// Instruction is one resolved instruction: an opcode plus its operand.
// The Arg field is meaningful only for opcodes whose OperandKind is not
// OperandNone; its interpretation (local slot, absolute instruction offset,
// function-table index) follows the opcode's metadata. During loading the
// Arg of branch and call instructions temporarily holds a placeholder index
// until finalization resolves it.
type Instruction struct {
	Op  Opcode `cbor:"1,keyasint"`
	Arg uint32 `cbor:"2,keyasint,omitempty"`
}

// Inst builds an instruction. Convenience for the loader and tests.
func Inst(op Opcode, arg uint32) Instruction {
	return Instruction{Op: op, Arg: arg}
}

// String renders the instruction in source format: the mnemonic, followed
// by the operand in decimal when the opcode has one ("ldarg 0", "jump 3",
// "add.u").
func (in Instruction) String() string {
	if in.Op.HasOperand() {
		return fmt.Sprintf("%s %d", in.Op, in.Arg)
	}
	return in.Op.String()
}
