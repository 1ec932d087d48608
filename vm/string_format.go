package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Format specifications
// ---------------------------------------------------------------------------

// formatSpec is a parsed [[fill]align][sign][#][0][width][,][.precision][type].
type formatSpec struct {
	fill  rune
	align byte
	sign  byte
	alt   bool
	width int
	group byte
	prec  int
	typ   byte
}

func parseFormatSpec(spec string) (formatSpec, bool) {
	fs := formatSpec{fill: ' ', prec: -1}
	r := []rune(spec)
	i := 0
	isAlign := func(c rune) bool { return c == '<' || c == '>' || c == '=' || c == '^' }
	switch {
	case len(r) >= 2 && isAlign(r[1]):
		fs.fill, fs.align = r[0], byte(r[1])
		i = 2
	case len(r) >= 1 && isAlign(r[0]):
		fs.align = byte(r[0])
		i = 1
	}
	if i < len(r) && (r[i] == '+' || r[i] == '-' || r[i] == ' ') {
		fs.sign = byte(r[i])
		i++
	}
	if i < len(r) && r[i] == '#' {
		fs.alt = true
		i++
	}
	if i < len(r) && r[i] == '0' {
		if fs.align == 0 {
			fs.fill, fs.align = '0', '='
		}
		i++
	}
	start := i
	for i < len(r) && r[i] >= '0' && r[i] <= '9' {
		i++
	}
	if i > start {
		fs.width, _ = strconv.Atoi(string(r[start:i]))
	}
	if i < len(r) && (r[i] == ',' || r[i] == '_') {
		fs.group = byte(r[i])
		i++
	}
	if i < len(r) && r[i] == '.' {
		i++
		start = i
		for i < len(r) && r[i] >= '0' && r[i] <= '9' {
			i++
		}
		if i == start {
			return fs, false
		}
		fs.prec, _ = strconv.Atoi(string(r[start:i]))
	}
	if i < len(r) {
		if r[i] >= utf8.RuneSelf {
			return fs, false
		}
		fs.typ = byte(r[i])
		i++
	}
	return fs, i == len(r)
}

// format implements format(v, spec). Builtin scalars are formatted
// natively; other values use their __format__ when a klass defines one.
func (vm *VM) format(v Value, spec string) string {
	switch x := v.(type) {
	case *Bool:
		if spec == "" {
			return vm.repr(x)
		}
		n, _ := AsInt(x)
		return vm.formatInt(n, spec)
	case *Int:
		if x.klass == vm.k.int || spec != "" {
			return vm.formatInt(x.v, spec)
		}
	case *Float:
		return vm.formatFloatSpec(x.v, spec)
	case *Str:
		if x.klass == vm.k.str || spec != "" {
			return vm.formatStr(x.s, spec)
		}
	}
	if m := vm.lookup(v.Klass(), "__format__"); m != nil {
		if _, native := m.(*NativeFunction); !native {
			r := vm.callVirtual(m, []Value{v, vm.Str(spec)}, nil)
			if r == nil {
				return ""
			}
			s, ok := AsString(r)
			if !ok {
				vm.raise(vm.k.typeError, "__format__ must return a str, not %s", r.Klass().name)
			}
			return s
		}
	}
	if spec != "" {
		vm.raise(vm.k.typeError, "unsupported format string passed to %s.__format__", v.Klass().name)
		return ""
	}
	return vm.str(v)
}

func (vm *VM) badSpec(spec string) string {
	vm.raise(vm.k.valueError, "Invalid format specifier '%s'", spec)
	return ""
}

func (vm *VM) unknownCode(typ byte, kind string) string {
	vm.raise(vm.k.valueError, "Unknown format code '%c' for object of type '%s'", typ, kind)
	return ""
}

func (vm *VM) formatInt(n int64, spec string) string {
	fs, ok := parseFormatSpec(spec)
	if !ok {
		return vm.badSpec(spec)
	}
	switch fs.typ {
	case 'e', 'E', 'f', 'F', 'g', 'G', '%':
		return vm.formatFloatSpec(float64(n), spec)
	}
	if fs.prec >= 0 {
		vm.raise(vm.k.valueError, "Precision not allowed in integer format specifier")
		return ""
	}
	u := uint64(n)
	if n < 0 {
		u = uint64(-n)
	}
	var body, prefix string
	groupSize := 3
	switch fs.typ {
	case 0, 'd', 'n':
		body = strconv.FormatUint(u, 10)
	case 'x', 'X':
		body, prefix, groupSize = strconv.FormatUint(u, 16), "0x", 4
	case 'o':
		body, prefix, groupSize = strconv.FormatUint(u, 8), "0o", 4
	case 'b':
		body, prefix, groupSize = strconv.FormatUint(u, 2), "0b", 4
	case 'c':
		if n < 0 || n > utf8.MaxRune {
			vm.raise(vm.k.overflowError, "%%c arg not in range(0x110000)")
			return ""
		}
		return applyPadding(string(rune(n)), fs, '<')
	default:
		return vm.unknownCode(fs.typ, "int")
	}
	if fs.group != 0 {
		body = groupDigits(body, string(fs.group), groupSize, groupSize == 4)
	}
	if fs.typ == 'X' {
		body = strings.ToUpper(body)
		prefix = "0X"
	}
	if !fs.alt {
		prefix = ""
	}
	return padNumber(signFor(n < 0, fs.sign)+prefix, body, fs)
}

func (vm *VM) formatFloatSpec(f float64, spec string) string {
	fs, ok := parseFormatSpec(spec)
	if !ok {
		return vm.badSpec(spec)
	}
	neg := math.Signbit(f) && !math.IsNaN(f)
	a := math.Abs(f)
	prec := fs.prec
	if prec < 0 {
		prec = 6
	}
	var body string
	switch {
	case math.IsInf(a, 0):
		body = "inf"
	case math.IsNaN(a):
		body = "nan"
	}
	switch fs.typ {
	case 0:
		if body != "" {
			break
		}
		if fs.prec < 0 {
			body = formatFloat(a)
		} else {
			body = strconv.FormatFloat(a, 'g', max(fs.prec, 1), 64)
		}
	case 'f', 'F':
		if body == "" {
			body = strconv.FormatFloat(a, 'f', prec, 64)
		}
	case 'e', 'E':
		if body == "" {
			body = strconv.FormatFloat(a, 'e', prec, 64)
		}
	case 'g', 'G', 'n':
		if body == "" {
			body = strconv.FormatFloat(a, 'g', max(prec, 1), 64)
		}
	case '%':
		if body == "" {
			body = strconv.FormatFloat(a*100, 'f', prec, 64)
		}
		body += "%"
	default:
		return vm.unknownCode(fs.typ, "float")
	}
	if fs.typ == 'F' || fs.typ == 'E' || fs.typ == 'G' {
		body = strings.ToUpper(body)
	}
	if fs.group != 0 {
		body = groupDigits(body, string(fs.group), 3, false)
	}
	return padNumber(signFor(neg, fs.sign), body, fs)
}

func (vm *VM) formatStr(s, spec string) string {
	fs, ok := parseFormatSpec(spec)
	if !ok {
		return vm.badSpec(spec)
	}
	if fs.typ != 0 && fs.typ != 's' {
		return vm.unknownCode(fs.typ, "str")
	}
	if fs.sign != 0 {
		vm.raise(vm.k.valueError, "Sign not allowed in string format specifier")
		return ""
	}
	if fs.align == '=' {
		vm.raise(vm.k.valueError, "'=' alignment not allowed in string format specifier")
		return ""
	}
	if fs.prec >= 0 {
		if r := []rune(s); len(r) > fs.prec {
			s = string(r[:fs.prec])
		}
	}
	return applyPadding(s, fs, '<')
}

func signFor(neg bool, sign byte) string {
	switch {
	case neg:
		return "-"
	case sign == '+':
		return "+"
	case sign == ' ':
		return " "
	}
	return ""
}

// padNumber pads a number to the spec width. '=' puts the fill between
// the sign and the digits.
func padNumber(sign, body string, fs formatSpec) string {
	if fs.align == '=' {
		n := fs.width - utf8.RuneCountInString(sign) - utf8.RuneCountInString(body)
		if n > 0 {
			return sign + strings.Repeat(string(fs.fill), n) + body
		}
		return sign + body
	}
	return applyPadding(sign+body, fs, '>')
}

func applyPadding(s string, fs formatSpec, def byte) string {
	align := fs.align
	if align == 0 {
		align = def
	}
	return padString(s, fs.width, fs.fill, align)
}

// groupDigits separates the leading run of digits into groups of size.
func groupDigits(body, sep string, size int, hex bool) string {
	end := 0
	for end < len(body) && isDigit(body[end], hex) {
		end++
	}
	digits, rest := body[:end], body[end:]
	if len(digits) <= size {
		return body
	}
	var b strings.Builder
	first := len(digits) % size
	if first > 0 {
		b.WriteString(digits[:first])
	}
	for i := first; i < len(digits); i += size {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(digits[i : i+size])
	}
	return b.String() + rest
}

func isDigit(c byte, hex bool) bool {
	if c >= '0' && c <= '9' {
		return true
	}
	return hex && ((c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F'))
}

// ---------------------------------------------------------------------------
// str.format
// ---------------------------------------------------------------------------

// formatMethod implements str.format: {} and {n} take positional
// arguments, {name} takes keywords, and fields may carry .attr and [key]
// accessors, a !r/!s/!a conversion and a :spec that may itself contain
// replacement fields.
func (vm *VM) formatMethod(s string, args []Value, kw *Dict) string {
	auto := 0
	return vm.expandFields(s, args, kw, &auto, 2)
}

func (vm *VM) expandFields(s string, args []Value, kw *Dict, auto *int, depth int) string {
	if depth == 0 {
		vm.raise(vm.k.valueError, "Max string recursion exceeded")
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '{':
			if i+1 < len(s) && s[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := matchingBrace(s, i)
			if end < 0 {
				vm.raise(vm.k.valueError, "Single '{' encountered in format string")
				return ""
			}
			text := vm.replaceField(s[i+1:end], args, kw, auto, depth)
			if vm.status == statusException {
				return ""
			}
			b.WriteString(text)
			i = end
		case '}':
			if i+1 < len(s) && s[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			vm.raise(vm.k.valueError, "Single '}' encountered in format string")
			return ""
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func matchingBrace(s string, open int) int {
	depth := 0
	for j := open; j < len(s); j++ {
		switch s[j] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

func (vm *VM) replaceField(field string, args []Value, kw *Dict, auto *int, depth int) string {
	name, spec := field, ""
	if i := strings.IndexByte(field, ':'); i >= 0 {
		name, spec = field[:i], field[i+1:]
	}
	var conv byte
	if i := strings.IndexByte(name, '!'); i >= 0 {
		if i+2 != len(name) {
			vm.raise(vm.k.valueError, "expected ':' after conversion specifier")
			return ""
		}
		name, conv = name[:i], name[i+1]
	}
	head := name
	rest := ""
	if i := strings.IndexAny(name, ".["); i >= 0 {
		head, rest = name[:i], name[i:]
	}
	var v Value
	switch {
	case head == "":
		if *auto >= len(args) {
			vm.raise(vm.k.indexError, "Replacement index %d out of range for positional args tuple", *auto)
			return ""
		}
		v = args[*auto]
		*auto++
	case isDecimal(head):
		n, _ := strconv.Atoi(head)
		if n >= len(args) {
			vm.raise(vm.k.indexError, "Replacement index %d out of range for positional args tuple", n)
			return ""
		}
		v = args[n]
	default:
		if kw != nil {
			v = kw.GetStr(head)
		}
		if v == nil {
			vm.raise(vm.k.keyError, "%s", quote(head))
			return ""
		}
	}

	// The field takes its auto index before any nested field in its spec.
	if strings.ContainsRune(spec, '{') {
		spec = vm.expandFields(spec, args, kw, auto, depth-1)
		if vm.status == statusException {
			return ""
		}
	}

	for rest != "" && v != nil {
		if rest[0] == '.' {
			end := strings.IndexAny(rest[1:], ".[")
			if end < 0 {
				end = len(rest) - 1
			}
			v = vm.getattr(v, rest[1:end+1])
			rest = rest[end+1:]
			continue
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			vm.raise(vm.k.valueError, "Missing ']' in format string")
			return ""
		}
		key := rest[1:end]
		var kv Value
		if isDecimal(key) {
			n, _ := strconv.ParseInt(key, 10, 64)
			kv = vm.Int(n)
		} else {
			kv = vm.Str(key)
		}
		v = vm.getItem(v, kv)
		rest = rest[end+1:]
	}
	if v == nil {
		return ""
	}

	switch conv {
	case 0:
	case 'r', 'a':
		v = vm.strResult(vm.repr(v))
	case 's':
		v = vm.strResult(vm.str(v))
	default:
		vm.raise(vm.k.valueError, "Unknown conversion specifier %c", conv)
		return ""
	}
	if v == nil {
		return ""
	}
	return vm.format(v, spec)
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// printf-style formatting
// ---------------------------------------------------------------------------

// percentFormat implements format % arg. A tuple supplies the positional
// values; a dict supplies %(name) values.
func (vm *VM) percentFormat(format string, arg Value) string {
	var args []Value
	var mapping *Dict
	switch x := arg.(type) {
	case *Tuple:
		args = x.items
	case *Dict:
		if strings.Contains(format, "%(") {
			mapping = x
		} else {
			args = []Value{x}
		}
	default:
		args = []Value{arg}
	}

	next := 0
	take := func() Value {
		if next >= len(args) {
			vm.raise(vm.k.typeError, "not enough arguments for format string")
			return nil
		}
		next++
		return args[next-1]
	}
	takeInt := func() (int, bool) {
		v := take()
		if v == nil {
			return 0, false
		}
		n, ok := AsInt(v)
		if !ok {
			vm.raise(vm.k.typeError, "* wants int")
		}
		return int(n), ok
	}

	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			b.WriteByte(format[i])
			continue
		}
		i++
		if i >= len(format) {
			vm.raise(vm.k.valueError, "incomplete format")
			return ""
		}

		var val Value
		if format[i] == '(' {
			if mapping == nil {
				vm.raise(vm.k.typeError, "format requires a mapping")
				return ""
			}
			end := strings.IndexByte(format[i:], ')')
			if end < 0 {
				vm.raise(vm.k.valueError, "incomplete format key")
				return ""
			}
			key := format[i+1 : i+end]
			i += end + 1
			if val = mapping.GetStr(key); val == nil {
				vm.raise(vm.k.keyError, "%s", quote(key))
				return ""
			}
		}

		var flags []byte
		for i < len(format) && strings.IndexByte("-+ #0", format[i]) >= 0 {
			flags = append(flags, format[i])
			i++
		}
		width, prec := -1, -1
		if i < len(format) && format[i] == '*' {
			n, ok := takeInt()
			if !ok {
				return ""
			}
			if n < 0 {
				flags = append(flags, '-')
				n = -n
			}
			width = n
			i++
		} else {
			start := i
			for i < len(format) && format[i] >= '0' && format[i] <= '9' {
				i++
			}
			if i > start {
				width, _ = strconv.Atoi(format[start:i])
			}
		}
		if i < len(format) && format[i] == '.' {
			i++
			if i < len(format) && format[i] == '*' {
				n, ok := takeInt()
				if !ok {
					return ""
				}
				prec = n
				i++
			} else {
				start := i
				for i < len(format) && format[i] >= '0' && format[i] <= '9' {
					i++
				}
				prec, _ = strconv.Atoi(format[start:i])
			}
		}
		if i >= len(format) {
			vm.raise(vm.k.valueError, "incomplete format")
			return ""
		}
		verb := format[i]
		if verb == '%' {
			b.WriteByte('%')
			continue
		}
		if val == nil {
			if val = take(); val == nil {
				return ""
			}
		}
		s, ok := vm.percentOne(verb, string(flags), width, prec, val, i)
		if !ok {
			return ""
		}
		b.WriteString(s)
	}
	if mapping == nil && next < len(args) {
		vm.raise(vm.k.typeError, "not all arguments converted during string formatting")
		return ""
	}
	return b.String()
}

// percentOne renders one conversion by translating it to the equivalent
// fmt verb.
func (vm *VM) percentOne(verb byte, flags string, width, prec int, v Value, at int) (string, bool) {
	directive := func(keep string, goVerb byte, p int) string {
		var d strings.Builder
		d.WriteByte('%')
		for i := 0; i < len(flags); i++ {
			if strings.IndexByte(keep, flags[i]) >= 0 {
				d.WriteByte(flags[i])
			}
		}
		if width >= 0 {
			d.WriteString(strconv.Itoa(width))
		}
		if p >= 0 {
			d.WriteByte('.')
			d.WriteString(strconv.Itoa(p))
		}
		d.WriteByte(goVerb)
		return d.String()
	}

	switch verb {
	case 's', 'r', 'a':
		var s string
		if verb == 's' {
			s = vm.str(v)
		} else {
			s = vm.repr(v)
		}
		if vm.status == statusException {
			return "", false
		}
		return fmt.Sprintf(directive("-", 's', prec), s), true

	case 'd', 'i', 'u':
		n, ok := AsInt(v)
		if !ok {
			f, isFloat := AsFloat(v)
			if !isFloat {
				vm.raise(vm.k.typeError, "%%%c format: a real number is required, not %s", verb, v.Klass().name)
				return "", false
			}
			n = int64(math.Trunc(f))
		}
		return fmt.Sprintf(directive("-+ 0", 'd', -1), n), true

	case 'x', 'X', 'o':
		n, ok := AsInt(v)
		if !ok {
			vm.raise(vm.k.typeError, "%%%c format: an integer is required, not %s", verb, v.Klass().name)
			return "", false
		}
		if verb == 'o' && strings.IndexByte(flags, '#') >= 0 {
			s := "0o" + strconv.FormatUint(uint64(abs64(n)), 8)
			if n < 0 {
				s = "-" + s
			}
			return fmt.Sprintf(directive("-", 's', -1), s), true
		}
		return fmt.Sprintf(directive("-+ 0#", verb, -1), n), true

	case 'e', 'E', 'f', 'F', 'g', 'G':
		f, ok := AsFloat(v)
		if !ok {
			vm.raise(vm.k.typeError, "must be real number, not %s", v.Klass().name)
			return "", false
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			s := formatFloat(f)
			if verb == 'E' || verb == 'F' || verb == 'G' {
				s = strings.ToUpper(s)
			}
			return fmt.Sprintf(directive("-", 's', -1), s), true
		}
		if prec < 0 {
			prec = 6
		}
		goVerb := verb
		if verb == 'F' {
			goVerb = 'f'
		}
		return fmt.Sprintf(directive("-+ 0#", goVerb, prec), f), true

	case 'c':
		var r rune
		if n, ok := AsInt(v); ok {
			r = rune(n)
		} else if s, ok := AsString(v); ok && utf8.RuneCountInString(s) == 1 {
			r, _ = utf8.DecodeRuneInString(s)
		} else {
			vm.raise(vm.k.typeError, "%%c requires int or char")
			return "", false
		}
		return fmt.Sprintf(directive("-", 'c', -1), r), true
	}
	vm.raise(vm.k.valueError, "unsupported format character '%c' (0x%x) at index %d", verb, verb, at)
	return "", false
}
