package server

import (
	"fmt"
	"strings"
	"unicode"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/darksv/interpreter/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Source text analysis
// ---------------------------------------------------------------------------

// The LSP features work from a line-level scan of the document rather than
// a full load: declarations and uses are recognizable per statement, and a
// scan keeps features alive while the document has load errors elsewhere.

type symbolKind int

const (
	symbolFunction symbolKind = iota
	symbolNative
	symbolLabel
)

type symbol struct {
	kind symbolKind
	name string
	line int    // 0-based
	stmt string // trimmed declaration statement
}

// scanSymbols collects every function, native, and label declaration.
func scanSymbols(text string) []symbol {
	var symbols []symbol
	for i, line := range strings.Split(text, "\n") {
		stmt := strings.TrimSpace(line)
		fields := strings.Fields(stmt)
		switch {
		case len(fields) >= 2 && fields[0] == ".func":
			symbols = append(symbols, symbol{kind: symbolFunction, name: fields[1], line: i, stmt: stmt})
		case len(fields) >= 2 && fields[0] == ".native":
			symbols = append(symbols, symbol{kind: symbolNative, name: fields[1], line: i, stmt: stmt})
		case len(fields) == 1 && strings.HasSuffix(fields[0], ":") && len(fields[0]) > 1:
			symbols = append(symbols, symbol{kind: symbolLabel, name: strings.TrimSuffix(fields[0], ":"), line: i, stmt: stmt})
		}
	}
	return symbols
}

// scanReferences returns the 0-based lines where name is used as a branch
// target or call operand.
func scanReferences(text, name string) []int {
	var lines []int
	for i, line := range strings.Split(text, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 || fields[1] != name {
			continue
		}
		switch fields[0] {
		case "jump", "beq", "call", ".entry":
			lines = append(lines, i)
		}
	}
	return lines
}

// ---------------------------------------------------------------------------
// Hover documentation
// ---------------------------------------------------------------------------

var directiveDocs = map[string]string{
	".func":   "`.func <name> <argCount> <returns:0|1>`\n\nStarts a managed function. Its body runs until the next directive or end of file.",
	".native": "`.native <name> <argCount> <returns:0|1>`\n\nDeclares a host-provided function. Natives have no body; calls resolve against the host registry by name.",
	".entry":  "`.entry <name>`\n\nSelects the entry function. Without it, the first function is the entry point.",
	".locals": "`.locals <count>`\n\nSizes the local slot table, discarding earlier `.local` presets. The loader grows the table to fit arguments and the return slot.",
	".local":  "`.local <index> <value>`\n\nPresets one local slot. The index must be inside the current `.locals` size.",
}

var instructionDocs = map[string]string{
	"ldarg":      "Push local slot *n* onto the operand stack.",
	"starg":      "Pop the top of the stack into local slot *n*.",
	"add.u":      "Unsigned 32-bit addition.",
	"add.s":      "Signed 32-bit addition.",
	"sub.u":      "Unsigned 32-bit subtraction.",
	"sub.s":      "Signed 32-bit subtraction.",
	"mul.u":      "Unsigned 32-bit multiplication.",
	"mul.s":      "Signed 32-bit multiplication.",
	"div.u":      "Unsigned 32-bit division. Division by zero is a fault.",
	"div.s":      "Signed 32-bit division. Division by zero is a fault.",
	"jump":       "Continue at the labeled instruction.",
	"beq":        "Pop two values; branch to the label when they are equal.",
	"call":       "Call the named function. Arguments are popped from this frame's stack, top of stack first.",
	"ret":        "Return from the current function. The value in the return slot (if declared) is pushed to the caller.",
	"breakpoint": "Emit a diagnostic snapshot of this frame and continue.",
}

// binary ops pop the left operand last: the value pushed first becomes the
// right-hand side.
const operandOrderNote = "Pops the left operand from the top of the stack; the first-pushed value is the right-hand side."

func instructionHover(mnemonic string) string {
	doc, ok := instructionDocs[mnemonic]
	if !ok {
		return ""
	}
	op, ok := bytecode.OpcodeForMnemonic(mnemonic)
	if !ok {
		return ""
	}
	info := bytecode.GetOpcodeInfo(op)

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**", mnemonic)
	switch info.Operand {
	case bytecode.OperandLocal:
		b.WriteString(" `<slot>`")
	case bytecode.OperandTarget:
		b.WriteString(" `<label>`")
	case bytecode.OperandFunc:
		b.WriteString(" `<function>`")
	}
	b.WriteString("\n\n")
	b.WriteString(doc)
	if op.IsArithmetic() {
		b.WriteString("\n\n")
		b.WriteString(operandOrderNote)
	}
	return b.String()
}

func symbolHover(sym symbol) string {
	switch sym.kind {
	case symbolFunction:
		return fmt.Sprintf("**%s** (function)\n\n```\n%s\n```", sym.name, sym.stmt)
	case symbolNative:
		return fmt.Sprintf("**%s** (native function)\n\n```\n%s\n```", sym.name, sym.stmt)
	default:
		return fmt.Sprintf("**%s** (label)", sym.name)
	}
}

// ---------------------------------------------------------------------------
// Cursor text extraction
// ---------------------------------------------------------------------------

func isWordRune(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.'
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordRune(rune(line[start-1])) {
		start--
	}
	if start == col {
		return ""
	}
	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordRune(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordRune(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}
	return line[start:end]
}

// lineRange spans one whole line of text.
func lineRange(text string, line int) protocol.Range {
	length := 0
	lines := strings.Split(text, "\n")
	if line >= 0 && line < len(lines) {
		length = len(lines[line])
	}
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(line), Character: 0},
		End:   protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(length)},
	}
}
