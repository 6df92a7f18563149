package asm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/darksv/interpreter/pkg/bytecode"
)

// loader is the disposable builder behind Load. One loader translates one
// source unit and is discarded afterwards; all of its state is transient.
//
// Label scope is function-local: pendingLabels, labels, and labelOffsets
// reset at every .func. Call-target scope is program-global: calledNames
// accumulates across the whole unit so a function may call one defined
// later in the source.
type loader struct {
	functions []bytecode.Function
	current   *bytecode.Function

	pendingLabels []string          // declared, waiting for the next instruction
	labelOffsets  map[string]uint32 // bound label -> instruction offset
	labels        []symbolRef       // branch placeholder table, first-occurrence order
	calledNames   []symbolRef       // call placeholder table, first-occurrence order

	entry    symbolRef
	inNative bool
	line     int
}

// Load translates assembly source read from r into a program. The name is
// stamped onto the program for listings and trace output; LoadFile passes
// the file path. Failures are *LoadError values wrapping the package's
// sentinel discriminants.
func Load(r io.Reader, name string) (*bytecode.Program, error) {
	l := &loader{labelOffsets: make(map[string]uint32)}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		l.line++
		stmt := strings.TrimSpace(sc.Text())
		if stmt == "" {
			continue
		}

		var err error
		switch {
		case strings.HasPrefix(stmt, "."):
			err = l.directive(stmt)
		case strings.HasSuffix(stmt, ":"):
			err = l.label(strings.TrimSuffix(stmt, ":"), stmt)
		default:
			err = l.instruction(stmt)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("asm: read source: %w", err)
	}

	if err := l.finishFunction(); err != nil {
		return nil, err
	}
	if err := l.resolveCalls(); err != nil {
		return nil, err
	}
	entry, err := l.resolveEntry()
	if err != nil {
		return nil, err
	}

	return &bytecode.Program{Name: name, Entry: entry, Functions: l.functions}, nil
}

// LoadString translates in-memory source. Used by tests and the language
// server.
func LoadString(source, name string) (*bytecode.Program, error) {
	return Load(strings.NewReader(source), name)
}

// LoadFile translates the source file at path. The path becomes the
// program name.
func LoadFile(path string) (*bytecode.Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("asm: open source: %w", err)
	}
	defer f.Close()
	return Load(f, path)
}

// ---------------------------------------------------------------------------
// Pass 1: statement handling
// ---------------------------------------------------------------------------

func (l *loader) directive(stmt string) error {
	fields := strings.Fields(stmt[1:])
	if len(fields) == 0 {
		return l.errf(stmt, ErrUnknownDirective)
	}

	switch fields[0] {
	case "func":
		if err := l.finishFunction(); err != nil {
			return err
		}
		hdr, err := l.functionHeader(stmt, fields)
		if err != nil {
			return err
		}
		l.current = hdr
		l.inNative = false
		l.pendingLabels = l.pendingLabels[:0]
		l.labels = l.labels[:0]
		l.labelOffsets = make(map[string]uint32)

	case "native":
		if err := l.finishFunction(); err != nil {
			return err
		}
		hdr, err := l.functionHeader(stmt, fields)
		if err != nil {
			return err
		}
		hdr.Kind = bytecode.FunctionNative
		l.functions = append(l.functions, *hdr)
		l.inNative = true

	case "entry":
		if len(fields) < 2 {
			return l.errf(stmt, fmt.Errorf("%w: missing entry name", ErrMalformedOperand))
		}
		l.entry = symbolRef{name: fields[1], line: l.line, stmt: stmt}

	case "locals":
		if err := l.requireBody(stmt); err != nil {
			return err
		}
		count, err := l.parseUint(stmt, fields, 1, 16)
		if err != nil {
			return err
		}
		l.current.DefaultLocals = make([]uint32, count)

	case "local":
		if err := l.requireBody(stmt); err != nil {
			return err
		}
		idx, err := l.parseUint(stmt, fields, 1, 16)
		if err != nil {
			return err
		}
		value, err := l.parseUint(stmt, fields, 2, 32)
		if err != nil {
			return err
		}
		if int(idx) >= len(l.current.DefaultLocals) {
			return l.errf(stmt, fmt.Errorf("%w: slot %d of %d", ErrLocalOutOfRange, idx, len(l.current.DefaultLocals)))
		}
		l.current.DefaultLocals[idx] = uint32(value)

	default:
		return l.errf(stmt, fmt.Errorf("%w %q", ErrUnknownDirective, fields[0]))
	}
	return nil
}

// functionHeader parses the shared ".func/.native <name> <argCount>
// <returns 0|1>" header and rejects redeclared names.
func (l *loader) functionHeader(stmt string, fields []string) (*bytecode.Function, error) {
	if len(fields) < 4 {
		return nil, l.errf(stmt, fmt.Errorf("%w: want name, argument count, and returns flag", ErrMalformedOperand))
	}
	name := fields[1]
	args, err := l.parseUint(stmt, fields, 2, 16)
	if err != nil {
		return nil, err
	}
	returns, err := l.parseFlag(stmt, fields, 3)
	if err != nil {
		return nil, err
	}
	for i := range l.functions {
		if l.functions[i].Name == name {
			return nil, l.errf(stmt, fmt.Errorf("%w %q", ErrDuplicateFunction, name))
		}
	}
	return &bytecode.Function{
		Kind:         bytecode.FunctionManaged,
		Name:         name,
		ArgCount:     uint16(args),
		ReturnsValue: returns,
	}, nil
}

func (l *loader) label(name, stmt string) error {
	if err := l.requireBody(stmt); err != nil {
		return err
	}
	l.pendingLabels = append(l.pendingLabels, name)
	return nil
}

func (l *loader) instruction(stmt string) error {
	if err := l.requireBody(stmt); err != nil {
		return err
	}

	fields := strings.Fields(stmt)
	op, ok := bytecode.OpcodeForMnemonic(fields[0])
	if !ok {
		return l.errf(stmt, fmt.Errorf("%w %q", ErrUnknownMnemonic, fields[0]))
	}

	var arg uint32
	switch bytecode.GetOpcodeInfo(op).Operand {
	case bytecode.OperandLocal:
		idx, err := l.parseUint(stmt, fields, 1, 8)
		if err != nil {
			return err
		}
		arg = uint32(idx)

	case bytecode.OperandTarget:
		if len(fields) < 2 {
			return l.errf(stmt, fmt.Errorf("%w: missing label", ErrMalformedOperand))
		}
		arg = placeholderFor(&l.labels, fields[1], l.line, stmt)

	case bytecode.OperandFunc:
		if len(fields) < 2 {
			return l.errf(stmt, fmt.Errorf("%w: missing callee name", ErrMalformedOperand))
		}
		arg = placeholderFor(&l.calledNames, fields[1], l.line, stmt)
	}

	l.bindPendingLabels()
	l.current.Body = append(l.current.Body, bytecode.Inst(op, arg))
	return nil
}

// requireBody rejects statements that need an open managed function.
func (l *loader) requireBody(stmt string) error {
	if l.current != nil {
		return nil
	}
	if l.inNative {
		return l.errf(stmt, ErrNativeBody)
	}
	return l.errf(stmt, ErrNoFunction)
}

// bindPendingLabels binds every pending label to the next body position.
// Called before appending an instruction and once more at finalization, so
// trailing labels resolve to one past the last instruction: the implicit
// return.
func (l *loader) bindPendingLabels() {
	position := uint32(len(l.current.Body))
	for _, name := range l.pendingLabels {
		l.labelOffsets[name] = position
	}
	l.pendingLabels = l.pendingLabels[:0]
}

// symbolRef is one symbolic reference recorded in pass 1: a name plus the
// statement that first used it. Resolution failures at finalization report
// that statement's location.
type symbolRef struct {
	name string
	line int
	stmt string
}

// placeholderFor returns the index of name in the placeholder table,
// appending a new reference on first occurrence.
func placeholderFor(table *[]symbolRef, name string, line int, stmt string) uint32 {
	for i := range *table {
		if (*table)[i].name == name {
			return uint32(i)
		}
	}
	*table = append(*table, symbolRef{name: name, line: line, stmt: stmt})
	return uint32(len(*table) - 1)
}

// ---------------------------------------------------------------------------
// Pass 2: finalization
// ---------------------------------------------------------------------------

// finishFunction completes the in-progress function: binds trailing labels,
// rewrites branch placeholders to absolute offsets, grows DefaultLocals to
// the argument/return minimum, and appends the function to the table.
func (l *loader) finishFunction() error {
	if l.current == nil {
		return nil
	}
	l.bindPendingLabels()

	fn := l.current
	l.current = nil
	for i := range fn.Body {
		in := &fn.Body[i]
		if !in.Op.IsBranch() {
			continue
		}
		ref := l.labels[in.Arg]
		offset, ok := l.labelOffsets[ref.name]
		if !ok {
			return &LoadError{Line: ref.line, Stmt: ref.stmt, Err: fmt.Errorf("%w %q in function %q", ErrUnresolvedLabel, ref.name, fn.Name)}
		}
		in.Arg = offset
	}

	if min := fn.MinLocals(); len(fn.DefaultLocals) < min {
		grown := make([]uint32, min)
		copy(grown, fn.DefaultLocals)
		fn.DefaultLocals = grown
	}

	l.functions = append(l.functions, *fn)
	return nil
}

// resolveCalls rewrites every call placeholder to the matching
// function-table index, across all functions. Runs after the whole unit is
// loaded, which is what makes forward calls legal.
func (l *loader) resolveCalls() error {
	for fi := range l.functions {
		body := l.functions[fi].Body
		for ii := range body {
			if body[ii].Op != bytecode.OpCall {
				continue
			}
			ref := l.calledNames[body[ii].Arg]
			idx, ok := l.functionIndex(ref.name)
			if !ok {
				return &LoadError{Line: ref.line, Stmt: ref.stmt, Err: fmt.Errorf("%w %q in function %q", ErrUnresolvedCall, ref.name, l.functions[fi].Name)}
			}
			body[ii].Arg = uint32(idx)
		}
	}
	return nil
}

func (l *loader) resolveEntry() (uint16, error) {
	if l.entry.name == "" {
		return 0, nil
	}
	idx, ok := l.functionIndex(l.entry.name)
	if !ok {
		return 0, &LoadError{Line: l.entry.line, Stmt: l.entry.stmt, Err: fmt.Errorf("%w %q", ErrUnresolvedEntry, l.entry.name)}
	}
	return uint16(idx), nil
}

func (l *loader) functionIndex(name string) (int, bool) {
	for i := range l.functions {
		if l.functions[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Operand parsing
// ---------------------------------------------------------------------------

// parseUint parses fields[pos] as an unsigned integer of the given bit
// size. A missing or unparsable field is a malformed-operand load error.
func (l *loader) parseUint(stmt string, fields []string, pos, bits int) (uint64, error) {
	if pos >= len(fields) {
		return 0, l.errf(stmt, fmt.Errorf("%w: missing operand", ErrMalformedOperand))
	}
	v, err := strconv.ParseUint(fields[pos], 10, bits)
	if err != nil {
		return 0, l.errf(stmt, fmt.Errorf("%w %q", ErrMalformedOperand, fields[pos]))
	}
	return v, nil
}

// parseFlag parses fields[pos] as the 0|1 returns flag.
func (l *loader) parseFlag(stmt string, fields []string, pos int) (bool, error) {
	if pos >= len(fields) {
		return false, l.errf(stmt, fmt.Errorf("%w: missing returns flag", ErrMalformedOperand))
	}
	switch fields[pos] {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, l.errf(stmt, fmt.Errorf("%w: returns flag must be 0 or 1, got %q", ErrMalformedOperand, fields[pos]))
	}
}

func (l *loader) errf(stmt string, err error) *LoadError {
	return &LoadError{Line: l.line, Stmt: stmt, Err: err}
}
