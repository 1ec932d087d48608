package vm

import (
	"fmt"
	"strings"

	"github.com/chazu/pyrite/pyc"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is one instruction byte. Numbering follows CPython 3.9 so that
// compiled .pyc files run unchanged.
type Opcode byte

// HaveArgument is the first opcode that carries an operand byte.
const HaveArgument Opcode = 90

// Stack operations
const (
	OpPad       Opcode = 0 // operand slot of argument-less wordcode
	OpPopTop    Opcode = 1
	OpRotTwo    Opcode = 2
	OpRotThree  Opcode = 3
	OpDupTop    Opcode = 4
	OpDupTopTwo Opcode = 5
	OpRotFour   Opcode = 6
	OpNop       Opcode = 9
)

// Unary and binary operators
const (
	OpUnaryPositive Opcode = 10
	OpUnaryNegative Opcode = 11
	OpUnaryNot      Opcode = 12
	OpUnaryInvert   Opcode = 15

	OpBinaryPower       Opcode = 19
	OpBinaryMultiply    Opcode = 20
	OpBinaryModulo      Opcode = 22
	OpBinaryAdd         Opcode = 23
	OpBinarySubtract    Opcode = 24
	OpBinarySubscr      Opcode = 25
	OpBinaryFloorDivide Opcode = 26
	OpBinaryTrueDivide  Opcode = 27
	OpInplaceFloorDiv   Opcode = 28
	OpInplaceTrueDiv    Opcode = 29
	OpBinaryLShift      Opcode = 62
	OpBinaryRShift      Opcode = 63
	OpBinaryAnd         Opcode = 64
	OpBinaryXor         Opcode = 65
	OpBinaryOr          Opcode = 66

	OpInplaceAdd      Opcode = 55
	OpInplaceSubtract Opcode = 56
	OpInplaceMultiply Opcode = 57
	OpInplaceModulo   Opcode = 59
	OpInplacePower    Opcode = 67
	OpInplaceLShift   Opcode = 75
	OpInplaceRShift   Opcode = 76
	OpInplaceAnd      Opcode = 77
	OpInplaceXor      Opcode = 78
	OpInplaceOr       Opcode = 79
)

// Subscripts, iteration, misc
const (
	OpReraise            Opcode = 48
	OpWithExceptStart    Opcode = 49
	OpStoreSubscr        Opcode = 60
	OpDeleteSubscr       Opcode = 61
	OpGetIter            Opcode = 68
	OpGetYieldFromIter   Opcode = 69
	OpPrintExpr          Opcode = 70
	OpLoadBuildClass     Opcode = 71
	OpYieldFrom          Opcode = 72
	OpLoadAssertionError Opcode = 74
	OpListToTuple        Opcode = 82
	OpReturnValue        Opcode = 83
	OpImportStar         Opcode = 84
	OpSetupAnnotations   Opcode = 85
	OpYieldValue         Opcode = 86
	OpPopBlock           Opcode = 87
	OpPopExcept          Opcode = 89
)

// Opcodes with an operand
const (
	OpStoreName          Opcode = 90
	OpDeleteName         Opcode = 91
	OpUnpackSequence     Opcode = 92
	OpForIter            Opcode = 93
	OpUnpackEx           Opcode = 94
	OpStoreAttr          Opcode = 95
	OpDeleteAttr         Opcode = 96
	OpStoreGlobal        Opcode = 97
	OpDeleteGlobal       Opcode = 98
	OpLoadConst          Opcode = 100
	OpLoadName           Opcode = 101
	OpBuildTuple         Opcode = 102
	OpBuildList          Opcode = 103
	OpBuildSet           Opcode = 104
	OpBuildMap           Opcode = 105
	OpLoadAttr           Opcode = 106
	OpCompareOp          Opcode = 107
	OpImportName         Opcode = 108
	OpImportFrom         Opcode = 109
	OpJumpForward        Opcode = 110
	OpJumpIfFalseOrPop   Opcode = 111
	OpJumpIfTrueOrPop    Opcode = 112
	OpJumpAbsolute       Opcode = 113
	OpPopJumpIfFalse     Opcode = 114
	OpPopJumpIfTrue      Opcode = 115
	OpLoadGlobal         Opcode = 116
	OpIsOp               Opcode = 117
	OpContainsOp         Opcode = 118
	OpJumpIfNotExcMatch  Opcode = 121
	OpSetupFinally       Opcode = 122
	OpLoadFast           Opcode = 124
	OpStoreFast          Opcode = 125
	OpDeleteFast         Opcode = 126
	OpRaiseVarargs       Opcode = 130
	OpCallFunction       Opcode = 131
	OpMakeFunction       Opcode = 132
	OpBuildSlice         Opcode = 133
	OpLoadClosure        Opcode = 135
	OpLoadDeref          Opcode = 136
	OpStoreDeref         Opcode = 137
	OpCallFunctionKw     Opcode = 141
	OpCallFunctionEx     Opcode = 142
	OpSetupWith          Opcode = 143
	OpExtendedArg        Opcode = 144
	OpListAppend         Opcode = 145
	OpSetAdd             Opcode = 146
	OpMapAdd             Opcode = 147
	OpLoadClassDeref     Opcode = 148
	OpFormatValue        Opcode = 155
	OpBuildConstKeyMap   Opcode = 156
	OpBuildString        Opcode = 157
	OpLoadMethod         Opcode = 160
	OpCallMethod         Opcode = 161
	OpListExtend         Opcode = 162
	OpSetUpdate          Opcode = 163
	OpDictMerge          Opcode = 164
	OpDictUpdate         Opcode = 165
)

// MAKE_FUNCTION operand flags, consumed in this order from the top.
const (
	MakeDefaults    = 0x01
	MakeKwDefaults  = 0x02
	MakeAnnotations = 0x04
	MakeClosure     = 0x08
)

// COMPARE_OP operands.
const (
	CmpLT = iota
	CmpLE
	CmpEQ
	CmpNE
	CmpGT
	CmpGE
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// jumpKind says how an operand names its target.
type jumpKind uint8

const (
	jumpNone jumpKind = iota
	jumpRelative
	jumpAbsolute
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name string
	Jump jumpKind
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpPad:       {"<0>", jumpNone},
	OpPopTop:    {"POP_TOP", jumpNone},
	OpRotTwo:    {"ROT_TWO", jumpNone},
	OpRotThree:  {"ROT_THREE", jumpNone},
	OpDupTop:    {"DUP_TOP", jumpNone},
	OpDupTopTwo: {"DUP_TOP_TWO", jumpNone},
	OpRotFour:   {"ROT_FOUR", jumpNone},
	OpNop:       {"NOP", jumpNone},

	OpUnaryPositive: {"UNARY_POSITIVE", jumpNone},
	OpUnaryNegative: {"UNARY_NEGATIVE", jumpNone},
	OpUnaryNot:      {"UNARY_NOT", jumpNone},
	OpUnaryInvert:   {"UNARY_INVERT", jumpNone},

	OpBinaryPower:       {"BINARY_POWER", jumpNone},
	OpBinaryMultiply:    {"BINARY_MULTIPLY", jumpNone},
	OpBinaryModulo:      {"BINARY_MODULO", jumpNone},
	OpBinaryAdd:         {"BINARY_ADD", jumpNone},
	OpBinarySubtract:    {"BINARY_SUBTRACT", jumpNone},
	OpBinarySubscr:      {"BINARY_SUBSCR", jumpNone},
	OpBinaryFloorDivide: {"BINARY_FLOOR_DIVIDE", jumpNone},
	OpBinaryTrueDivide:  {"BINARY_TRUE_DIVIDE", jumpNone},
	OpInplaceFloorDiv:   {"INPLACE_FLOOR_DIVIDE", jumpNone},
	OpInplaceTrueDiv:    {"INPLACE_TRUE_DIVIDE", jumpNone},
	OpBinaryLShift:      {"BINARY_LSHIFT", jumpNone},
	OpBinaryRShift:      {"BINARY_RSHIFT", jumpNone},
	OpBinaryAnd:         {"BINARY_AND", jumpNone},
	OpBinaryXor:         {"BINARY_XOR", jumpNone},
	OpBinaryOr:          {"BINARY_OR", jumpNone},
	OpInplaceAdd:        {"INPLACE_ADD", jumpNone},
	OpInplaceSubtract:   {"INPLACE_SUBTRACT", jumpNone},
	OpInplaceMultiply:   {"INPLACE_MULTIPLY", jumpNone},
	OpInplaceModulo:     {"INPLACE_MODULO", jumpNone},
	OpInplacePower:      {"INPLACE_POWER", jumpNone},
	OpInplaceLShift:     {"INPLACE_LSHIFT", jumpNone},
	OpInplaceRShift:     {"INPLACE_RSHIFT", jumpNone},
	OpInplaceAnd:        {"INPLACE_AND", jumpNone},
	OpInplaceXor:        {"INPLACE_XOR", jumpNone},
	OpInplaceOr:         {"INPLACE_OR", jumpNone},

	OpReraise:            {"RERAISE", jumpNone},
	OpWithExceptStart:    {"WITH_EXCEPT_START", jumpNone},
	OpStoreSubscr:        {"STORE_SUBSCR", jumpNone},
	OpDeleteSubscr:       {"DELETE_SUBSCR", jumpNone},
	OpGetIter:            {"GET_ITER", jumpNone},
	OpGetYieldFromIter:   {"GET_YIELD_FROM_ITER", jumpNone},
	OpPrintExpr:          {"PRINT_EXPR", jumpNone},
	OpLoadBuildClass:     {"LOAD_BUILD_CLASS", jumpNone},
	OpYieldFrom:          {"YIELD_FROM", jumpNone},
	OpLoadAssertionError: {"LOAD_ASSERTION_ERROR", jumpNone},
	OpListToTuple:        {"LIST_TO_TUPLE", jumpNone},
	OpReturnValue:        {"RETURN_VALUE", jumpNone},
	OpImportStar:         {"IMPORT_STAR", jumpNone},
	OpSetupAnnotations:   {"SETUP_ANNOTATIONS", jumpNone},
	OpYieldValue:         {"YIELD_VALUE", jumpNone},
	OpPopBlock:           {"POP_BLOCK", jumpNone},
	OpPopExcept:          {"POP_EXCEPT", jumpNone},

	OpStoreName:         {"STORE_NAME", jumpNone},
	OpDeleteName:        {"DELETE_NAME", jumpNone},
	OpUnpackSequence:    {"UNPACK_SEQUENCE", jumpNone},
	OpForIter:           {"FOR_ITER", jumpRelative},
	OpUnpackEx:          {"UNPACK_EX", jumpNone},
	OpStoreAttr:         {"STORE_ATTR", jumpNone},
	OpDeleteAttr:        {"DELETE_ATTR", jumpNone},
	OpStoreGlobal:       {"STORE_GLOBAL", jumpNone},
	OpDeleteGlobal:      {"DELETE_GLOBAL", jumpNone},
	OpLoadConst:         {"LOAD_CONST", jumpNone},
	OpLoadName:          {"LOAD_NAME", jumpNone},
	OpBuildTuple:        {"BUILD_TUPLE", jumpNone},
	OpBuildList:         {"BUILD_LIST", jumpNone},
	OpBuildSet:          {"BUILD_SET", jumpNone},
	OpBuildMap:          {"BUILD_MAP", jumpNone},
	OpLoadAttr:          {"LOAD_ATTR", jumpNone},
	OpCompareOp:         {"COMPARE_OP", jumpNone},
	OpImportName:        {"IMPORT_NAME", jumpNone},
	OpImportFrom:        {"IMPORT_FROM", jumpNone},
	OpJumpForward:       {"JUMP_FORWARD", jumpRelative},
	OpJumpIfFalseOrPop:  {"JUMP_IF_FALSE_OR_POP", jumpAbsolute},
	OpJumpIfTrueOrPop:   {"JUMP_IF_TRUE_OR_POP", jumpAbsolute},
	OpJumpAbsolute:      {"JUMP_ABSOLUTE", jumpAbsolute},
	OpPopJumpIfFalse:    {"POP_JUMP_IF_FALSE", jumpAbsolute},
	OpPopJumpIfTrue:     {"POP_JUMP_IF_TRUE", jumpAbsolute},
	OpLoadGlobal:        {"LOAD_GLOBAL", jumpNone},
	OpIsOp:              {"IS_OP", jumpNone},
	OpContainsOp:        {"CONTAINS_OP", jumpNone},
	OpJumpIfNotExcMatch: {"JUMP_IF_NOT_EXC_MATCH", jumpAbsolute},
	OpSetupFinally:      {"SETUP_FINALLY", jumpRelative},
	OpLoadFast:          {"LOAD_FAST", jumpNone},
	OpStoreFast:         {"STORE_FAST", jumpNone},
	OpDeleteFast:        {"DELETE_FAST", jumpNone},
	OpRaiseVarargs:      {"RAISE_VARARGS", jumpNone},
	OpCallFunction:      {"CALL_FUNCTION", jumpNone},
	OpMakeFunction:      {"MAKE_FUNCTION", jumpNone},
	OpBuildSlice:        {"BUILD_SLICE", jumpNone},
	OpLoadClosure:       {"LOAD_CLOSURE", jumpNone},
	OpLoadDeref:         {"LOAD_DEREF", jumpNone},
	OpStoreDeref:        {"STORE_DEREF", jumpNone},
	OpCallFunctionKw:    {"CALL_FUNCTION_KW", jumpNone},
	OpCallFunctionEx:    {"CALL_FUNCTION_EX", jumpNone},
	OpSetupWith:         {"SETUP_WITH", jumpRelative},
	OpExtendedArg:       {"EXTENDED_ARG", jumpNone},
	OpListAppend:        {"LIST_APPEND", jumpNone},
	OpSetAdd:            {"SET_ADD", jumpNone},
	OpMapAdd:            {"MAP_ADD", jumpNone},
	OpLoadClassDeref:    {"LOAD_CLASSDEREF", jumpNone},
	OpFormatValue:       {"FORMAT_VALUE", jumpNone},
	OpBuildConstKeyMap:  {"BUILD_CONST_KEY_MAP", jumpNone},
	OpBuildString:       {"BUILD_STRING", jumpNone},
	OpLoadMethod:        {"LOAD_METHOD", jumpNone},
	OpCallMethod:        {"CALL_METHOD", jumpNone},
	OpListExtend:        {"LIST_EXTEND", jumpNone},
	OpSetUpdate:         {"SET_UPDATE", jumpNone},
	OpDictMerge:         {"DICT_MERGE", jumpNone},
	OpDictUpdate:        {"DICT_UPDATE", jumpNone},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%d", byte(op))}
}

// HasArg reports whether the opcode is followed by an operand byte.
func (op Opcode) HasArg() bool { return op >= HaveArgument }

func (op Opcode) String() string { return op.Info().Name }

// ---------------------------------------------------------------------------
// CodeBuilder: assembles wordcode with labels
// ---------------------------------------------------------------------------

// Label is a jump target inside a CodeBuilder.
type Label struct {
	pos int // instruction index, -1 until marked
}

type instr struct {
	op    Opcode
	arg   int
	label *Label
	line  int
}

// CodeBuilder assembles a code object. Every instruction is two bytes, as
// in CPython wordcode; operands above 255 get EXTENDED_ARG prefixes and
// jump operands are resolved once the layout is final.
type CodeBuilder struct {
	code   *pyc.Code
	instrs []instr
	line   int
	consts map[string]int
}

// NewCodeBuilder starts a code object with the given name.
func NewCodeBuilder(name, filename string) *CodeBuilder {
	return &CodeBuilder{
		code: &pyc.Code{
			Name:        name,
			Filename:    filename,
			FirstLineNo: 1,
			Consts:      []pyc.Value{},
			Names:       []string{},
			VarNames:    []string{},
			FreeVars:    []string{},
			CellVars:    []string{},
		},
		line:   1,
		consts: make(map[string]int),
	}
}

// Params declares positional parameters. They become the first varnames.
func (b *CodeBuilder) Params(names ...string) *CodeBuilder {
	for _, n := range names {
		b.Local(n)
	}
	b.code.ArgCount = int32(len(names))
	return b
}

// KwOnly declares keyword-only parameters after the positional ones.
func (b *CodeBuilder) KwOnly(names ...string) *CodeBuilder {
	for _, n := range names {
		b.Local(n)
	}
	b.code.KwOnlyArgCount = int32(len(names))
	return b
}

// SetFlags ORs flags into the code flags.
func (b *CodeBuilder) SetFlags(flags int32) *CodeBuilder {
	b.code.Flags |= flags
	return b
}

// CellVars declares variables captured by nested functions.
func (b *CodeBuilder) CellVars(names ...string) *CodeBuilder {
	b.code.CellVars = append(b.code.CellVars, names...)
	return b
}

// FreeVars declares variables captured from the enclosing function.
func (b *CodeBuilder) FreeVars(names ...string) *CodeBuilder {
	b.code.FreeVars = append(b.code.FreeVars, names...)
	return b
}

// Const adds a constant and returns its index. Scalars are deduplicated.
func (b *CodeBuilder) Const(v pyc.Value) int {
	key := ""
	switch v.(type) {
	case nil, pyc.None, bool, int64, float64, string:
		key = fmt.Sprintf("%T:%v", v, v)
		if i, ok := b.consts[key]; ok {
			return i
		}
	}
	if v == nil {
		v = pyc.None{}
	}
	b.code.Consts = append(b.code.Consts, v)
	i := len(b.code.Consts) - 1
	if key != "" {
		b.consts[key] = i
	}
	return i
}

// Name returns the index of a global or attribute name.
func (b *CodeBuilder) Name(n string) int { return addName(&b.code.Names, n) }

// Local returns the index of a fast local.
func (b *CodeBuilder) Local(n string) int { return addName(&b.code.VarNames, n) }

// Deref returns the closure index of a cell or free variable.
func (b *CodeBuilder) Deref(n string) int {
	for i, c := range b.code.CellVars {
		if c == n {
			return i
		}
	}
	for i, c := range b.code.FreeVars {
		if c == n {
			return len(b.code.CellVars) + i
		}
	}
	panic(fmt.Sprintf("CodeBuilder: %s is neither a cell nor a free variable", n))
}

func addName(names *[]string, n string) int {
	for i, x := range *names {
		if x == n {
			return i
		}
	}
	*names = append(*names, n)
	return len(*names) - 1
}

// Line sets the source line for the following instructions.
func (b *CodeBuilder) Line(n int) *CodeBuilder {
	if len(b.instrs) == 0 {
		b.code.FirstLineNo = int32(n)
	}
	b.line = n
	return b
}

// Op emits an instruction.
func (b *CodeBuilder) Op(op Opcode, arg ...int) *CodeBuilder {
	a := 0
	if len(arg) > 0 {
		a = arg[0]
	}
	b.instrs = append(b.instrs, instr{op: op, arg: a, line: b.line})
	return b
}

// LoadConst emits LOAD_CONST for v.
func (b *CodeBuilder) LoadConst(v pyc.Value) *CodeBuilder {
	return b.Op(OpLoadConst, b.Const(v))
}

// NewLabel creates an unmarked label.
func (b *CodeBuilder) NewLabel() *Label { return &Label{pos: -1} }

// Mark binds label to the next instruction.
func (b *CodeBuilder) Mark(l *Label) *CodeBuilder {
	if l.pos >= 0 {
		panic("label already marked")
	}
	l.pos = len(b.instrs)
	return b
}

// Jump emits a jump-family instruction targeting l.
func (b *CodeBuilder) Jump(op Opcode, l *Label) *CodeBuilder {
	if op.Info().Jump == jumpNone {
		panic(fmt.Sprintf("CodeBuilder: %s is not a jump", op))
	}
	b.instrs = append(b.instrs, instr{op: op, label: l, line: b.line})
	return b
}

func extPrefixes(arg int) int {
	n := 0
	for arg > 0xff {
		arg >>= 8
		n++
	}
	return n
}

// Build resolves labels and returns the code object.
func (b *CodeBuilder) Build() *pyc.Code {
	n := len(b.instrs)
	size := make([]int, n) // bytes per instruction including prefixes
	for i := range size {
		size[i] = 2 * (1 + extPrefixes(b.instrs[i].arg))
	}
	offsets := make([]int, n+1)

	for {
		for i := 0; i < n; i++ {
			offsets[i+1] = offsets[i] + size[i]
		}
		changed := false
		for i := range b.instrs {
			in := &b.instrs[i]
			if in.label == nil {
				continue
			}
			if in.label.pos < 0 {
				panic("CodeBuilder: jump to unmarked label")
			}
			target := offsets[in.label.pos]
			if in.op.Info().Jump == jumpRelative {
				in.arg = target - offsets[i+1]
			} else {
				in.arg = target
			}
			if s := 2 * (1 + extPrefixes(in.arg)); s > size[i] {
				size[i] = s
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	var code []byte
	var lnotab []byte
	lastAddr, lastLine := 0, int(b.code.FirstLineNo)
	for i, in := range b.instrs {
		start := len(code)
		for k := size[i]/2 - 1; k > 0; k-- {
			code = append(code, byte(OpExtendedArg), byte(in.arg>>(8*k)))
		}
		code = append(code, byte(in.op), byte(in.arg))
		if in.line != lastLine {
			lnotab = appendLineDelta(lnotab, start-lastAddr, in.line-lastLine)
			lastAddr, lastLine = start, in.line
		}
	}

	c := *b.code
	c.Bytecode = code
	c.LNoTab = lnotab
	c.NLocals = int32(len(c.VarNames))
	c.StackSize = int32(max(8, len(b.instrs)))
	return &c
}

func appendLineDelta(tab []byte, addr, line int) []byte {
	for addr > 255 {
		tab = append(tab, 255, 0)
		addr -= 255
	}
	for line > 127 {
		tab = append(tab, byte(addr), 127)
		addr = 0
		line -= 127
	}
	for line < -128 {
		tab = append(tab, byte(addr), byte(0x80))
		addr = 0
		line += 128
	}
	return append(tab, byte(addr), byte(int8(line)))
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble renders a code object and its nested code constants.
func Disassemble(c *pyc.Code) string {
	var b strings.Builder
	disassemble(&b, c)
	return b.String()
}

func disassemble(b *strings.Builder, c *pyc.Code) {
	fmt.Fprintf(b, "Disassembly of %s (%s, line %d):\n", c.Name, c.Filename, c.FirstLineNo)
	code := c.Bytecode
	ext := 0
	for pc := 0; pc+1 < len(code); pc += 2 {
		op := Opcode(code[pc])
		arg := int(code[pc+1]) | ext
		if op == OpExtendedArg {
			ext = arg << 8
			continue
		}
		ext = 0
		fmt.Fprintf(b, "%6d  %-22s", pc, op.Info().Name)
		if op.HasArg() {
			fmt.Fprintf(b, " %d", arg)
			if note := operandNote(c, op, arg, pc+2); note != "" {
				fmt.Fprintf(b, " (%s)", note)
			}
		}
		b.WriteByte('\n')
	}
	for _, k := range c.Consts {
		if nested, ok := k.(*pyc.Code); ok {
			b.WriteByte('\n')
			disassemble(b, nested)
		}
	}
}

var compareNames = [...]string{"<", "<=", "==", "!=", ">", ">="}

func operandNote(c *pyc.Code, op Opcode, arg, next int) string {
	at := func(names []string, i int) string {
		if i >= 0 && i < len(names) {
			return names[i]
		}
		return "?"
	}
	switch op.Info().Jump {
	case jumpRelative:
		return fmt.Sprintf("to %d", next+arg)
	case jumpAbsolute:
		return fmt.Sprintf("to %d", arg)
	}
	switch op {
	case OpLoadConst:
		if arg < len(c.Consts) {
			if nested, ok := c.Consts[arg].(*pyc.Code); ok {
				return "<code " + nested.Name + ">"
			}
			return fmt.Sprintf("%v", c.Consts[arg])
		}
	case OpLoadName, OpStoreName, OpDeleteName, OpLoadGlobal, OpStoreGlobal, OpDeleteGlobal,
		OpLoadAttr, OpStoreAttr, OpDeleteAttr, OpLoadMethod, OpImportName, OpImportFrom:
		return at(c.Names, arg)
	case OpLoadFast, OpStoreFast, OpDeleteFast:
		return at(c.VarNames, arg)
	case OpLoadClosure, OpLoadDeref, OpStoreDeref, OpLoadClassDeref:
		if arg < len(c.CellVars) {
			return c.CellVars[arg]
		}
		return at(c.FreeVars, arg-len(c.CellVars))
	case OpCompareOp:
		if arg < len(compareNames) {
			return compareNames[arg]
		}
	}
	return ""
}
