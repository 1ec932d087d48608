package vm

import (
	"strings"
	"unicode"
)

// ---------------------------------------------------------------------------
// str Primitives
// ---------------------------------------------------------------------------

func strOf(v Value) string { return v.(*Str).s }

func (vm *VM) registerStringPrimitives() {
	c := vm.k.str
	c.construct = func(vm *VM, k *Klass, args []Value, kw *Dict) Value {
		if !vm.arity("str", args, 0, 1) || !vm.checkKw("str", kw) {
			return nil
		}
		if len(args) == 0 {
			return vm.Str("")
		}
		if s, ok := args[0].(*Str); ok && s.klass == vm.k.str {
			return s
		}
		return vm.strResult(vm.str(args[0]))
	}

	// Operators

	vm.addMethod1(c, "__add__", func(vm *VM, self, arg Value) Value {
		b, ok := AsString(arg)
		if !ok {
			return vm.NotImplemented
		}
		return vm.Str(strOf(self) + b)
	})
	repeat := func(vm *VM, self, arg Value) Value {
		n, ok := AsInt(arg)
		if !ok {
			return vm.NotImplemented
		}
		if n <= 0 {
			return vm.Str("")
		}
		return vm.Str(strings.Repeat(strOf(self), int(n)))
	}
	vm.addMethod1(c, "__mul__", repeat)
	vm.addMethod1(c, "__rmul__", repeat)
	vm.addMethod1(c, "__mod__", func(vm *VM, self, arg Value) Value {
		return vm.strResult(vm.percentFormat(strOf(self), arg))
	})

	cmp := map[string]func(c int) bool{
		"__eq__": func(c int) bool { return c == 0 },
		"__ne__": func(c int) bool { return c != 0 },
		"__lt__": func(c int) bool { return c < 0 },
		"__le__": func(c int) bool { return c <= 0 },
		"__gt__": func(c int) bool { return c > 0 },
		"__ge__": func(c int) bool { return c >= 0 },
	}
	for name, test := range cmp {
		test := test
		vm.addMethod1(c, name, func(vm *VM, self, arg Value) Value {
			b, ok := AsString(arg)
			if !ok {
				return vm.NotImplemented
			}
			return vm.Bool(test(strings.Compare(strOf(self), b)))
		})
	}

	vm.addMethod1(c, "__contains__", func(vm *VM, self, arg Value) Value {
		sub, ok := AsString(arg)
		if !ok {
			vm.raise(vm.k.typeError, "'in <string>' requires string as left operand, not %s", arg.Klass().name)
			return nil
		}
		return vm.Bool(strings.Contains(strOf(self), sub))
	})

	vm.addMethod1(c, "__getitem__", func(vm *VM, self, key Value) Value {
		r := []rune(strOf(self))
		if sl, ok := key.(*Slice); ok {
			start, stop, step, ok := vm.sliceIndices(sl, len(r))
			if !ok {
				return nil
			}
			var b strings.Builder
			if step > 0 {
				for i := start; i < stop; i += step {
					b.WriteRune(r[i])
				}
			} else {
				for i := start; i > stop; i += step {
					b.WriteRune(r[i])
				}
			}
			return vm.Str(b.String())
		}
		i, ok := vm.normIndex(key, len(r), "string")
		if !ok {
			return nil
		}
		return vm.Str(string(r[i]))
	})

	vm.addMethod0(c, "__len__", func(vm *VM, self Value) Value {
		return vm.Int(int64(len([]rune(strOf(self)))))
	})
	vm.addMethod0(c, "__iter__", func(vm *VM, self Value) Value { return vm.newSeqIter(self) })
	vm.addMethod0(c, "__hash__", func(vm *VM, self Value) Value {
		h, _ := vm.hash(self)
		return vm.Int(h)
	})
	vm.addMethod0(c, "__repr__", func(vm *VM, self Value) Value { return vm.Str(quote(strOf(self))) })
	vm.addMethod0(c, "__str__", func(vm *VM, self Value) Value { return vm.Str(strOf(self)) })
	vm.addMethod1(c, "__format__", func(vm *VM, self, spec Value) Value {
		s, ok := AsString(spec)
		if !ok {
			vm.raise(vm.k.typeError, "format spec must be str")
			return nil
		}
		return vm.strResult(vm.format(self, s))
	})

	// Case

	vm.addMethod0(c, "upper", func(vm *VM, self Value) Value { return vm.Str(strings.ToUpper(strOf(self))) })
	vm.addMethod0(c, "lower", func(vm *VM, self Value) Value { return vm.Str(strings.ToLower(strOf(self))) })
	vm.addMethod0(c, "capitalize", func(vm *VM, self Value) Value {
		r := []rune(strings.ToLower(strOf(self)))
		if len(r) > 0 {
			r[0] = unicode.ToUpper(r[0])
		}
		return vm.Str(string(r))
	})
	vm.addMethod0(c, "title", func(vm *VM, self Value) Value {
		r := []rune(strOf(self))
		prev := false
		for i, x := range r {
			if unicode.IsLetter(x) {
				if prev {
					r[i] = unicode.ToLower(x)
				} else {
					r[i] = unicode.ToUpper(x)
				}
				prev = true
			} else {
				prev = false
			}
		}
		return vm.Str(string(r))
	})

	// Predicates

	classes := map[string]func(rune) bool{
		"isdigit": unicode.IsDigit,
		"isalpha": unicode.IsLetter,
		"isspace": unicode.IsSpace,
		"isalnum": func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) },
	}
	for name, pred := range classes {
		pred := pred
		vm.addMethod0(c, name, func(vm *VM, self Value) Value {
			s := strOf(self)
			if s == "" {
				return vm.False
			}
			for _, r := range s {
				if !pred(r) {
					return vm.False
				}
			}
			return vm.True
		})
	}
	vm.addMethod0(c, "isupper", func(vm *VM, self Value) Value {
		s := strOf(self)
		return vm.Bool(s != strings.ToLower(s) && s == strings.ToUpper(s))
	})
	vm.addMethod0(c, "islower", func(vm *VM, self Value) Value {
		s := strOf(self)
		return vm.Bool(s != strings.ToUpper(s) && s == strings.ToLower(s))
	})

	vm.addMethodN(c, "startswith", 1, 1, func(vm *VM, self Value, args []Value) Value {
		return vm.affix(strOf(self), args[0], "startswith", strings.HasPrefix)
	})
	vm.addMethodN(c, "endswith", 1, 1, func(vm *VM, self Value, args []Value) Value {
		return vm.affix(strOf(self), args[0], "endswith", strings.HasSuffix)
	})

	// Searching

	vm.addMethod1(c, "find", func(vm *VM, self, arg Value) Value {
		return vm.search(strOf(self), arg, "find", strings.Index, false)
	})
	vm.addMethod1(c, "rfind", func(vm *VM, self, arg Value) Value {
		return vm.search(strOf(self), arg, "rfind", strings.LastIndex, false)
	})
	vm.addMethod1(c, "index", func(vm *VM, self, arg Value) Value {
		return vm.search(strOf(self), arg, "index", strings.Index, true)
	})
	vm.addMethod1(c, "count", func(vm *VM, self, arg Value) Value {
		sub, ok := vm.strArg("count", arg)
		if !ok {
			return nil
		}
		if sub == "" {
			return vm.Int(int64(len([]rune(strOf(self))) + 1))
		}
		return vm.Int(int64(strings.Count(strOf(self), sub)))
	})

	// Transformation

	vm.addMethodN(c, "replace", 2, 3, func(vm *VM, self Value, args []Value) Value {
		old, ok1 := vm.strArg("replace", args[0])
		repl, ok2 := vm.strArg("replace", args[1])
		if !ok1 || !ok2 {
			return nil
		}
		n := int64(-1)
		if len(args) == 3 {
			n, _ = AsInt(args[2])
		}
		return vm.Str(strings.Replace(strOf(self), old, repl, int(n)))
	})

	strip := func(name string, fn func(s, cutset string) string, space func(string) string) {
		vm.addMethodN(c, name, 0, 1, func(vm *VM, self Value, args []Value) Value {
			if len(args) == 0 || args[0] == vm.None {
				return vm.Str(space(strOf(self)))
			}
			chars, ok := vm.strArg(name, args[0])
			if !ok {
				return nil
			}
			return vm.Str(fn(strOf(self), chars))
		})
	}
	strip("strip", strings.Trim, strings.TrimSpace)
	strip("lstrip", strings.TrimLeft, func(s string) string { return strings.TrimLeftFunc(s, unicode.IsSpace) })
	strip("rstrip", strings.TrimRight, func(s string) string { return strings.TrimRightFunc(s, unicode.IsSpace) })

	vm.addMethodN(c, "split", 0, 2, func(vm *VM, self Value, args []Value) Value {
		maxsplit := -1
		if len(args) == 2 {
			n, _ := AsInt(args[1])
			maxsplit = int(n)
		}
		var parts []string
		if len(args) == 0 || args[0] == vm.None {
			parts = splitFields(strOf(self), maxsplit)
		} else {
			sep, ok := vm.strArg("split", args[0])
			if !ok {
				return nil
			}
			if sep == "" {
				vm.raise(vm.k.valueError, "empty separator")
				return nil
			}
			if maxsplit < 0 {
				parts = strings.Split(strOf(self), sep)
			} else {
				parts = strings.SplitN(strOf(self), sep, maxsplit+1)
			}
		}
		return vm.strList(parts)
	})
	vm.addMethod0(c, "splitlines", func(vm *VM, self Value) Value {
		var lines []string
		for s := strOf(self); s != ""; {
			i := strings.IndexAny(s, "\r\n")
			if i < 0 {
				lines = append(lines, s)
				break
			}
			lines = append(lines, s[:i])
			if s[i] == '\r' && i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			s = s[i+1:]
		}
		return vm.strList(lines)
	})

	vm.addMethod1(c, "join", func(vm *VM, self, arg Value) Value {
		var parts []string
		i := 0
		ok := vm.iterate(arg, func(x Value) bool {
			s, isStr := AsString(x)
			if !isStr {
				vm.raise(vm.k.typeError, "sequence item %d: expected str instance, %s found", i, x.Klass().name)
				return false
			}
			parts = append(parts, s)
			i++
			return true
		})
		if !ok {
			return nil
		}
		return vm.Str(strings.Join(parts, strOf(self)))
	})

	// Padding

	pad := func(name string, align byte) {
		vm.addMethodN(c, name, 1, 2, func(vm *VM, self Value, args []Value) Value {
			width, ok := AsInt(args[0])
			if !ok {
				vm.raise(vm.k.typeError, "'%s' object cannot be interpreted as an integer", args[0].Klass().name)
				return nil
			}
			fill := ' '
			if len(args) == 2 {
				f := []rune(strOf(args[1]))
				if len(f) != 1 {
					vm.raise(vm.k.typeError, "The fill character must be exactly one character long")
					return nil
				}
				fill = f[0]
			}
			return vm.Str(padString(strOf(self), int(width), fill, align))
		})
	}
	pad("ljust", '<')
	pad("rjust", '>')
	pad("center", '^')
	vm.addMethod1(c, "zfill", func(vm *VM, self, arg Value) Value {
		width, _ := AsInt(arg)
		s := strOf(self)
		sign := ""
		if s != "" && (s[0] == '-' || s[0] == '+') {
			sign, s = s[:1], s[1:]
		}
		return vm.Str(sign + padString(s, int(width)-len(sign), '0', '>'))
	})

	vm.addMethodKw(c, "format", func(vm *VM, self Value, args []Value, kw *Dict) Value {
		return vm.strResult(vm.formatMethod(strOf(self), args, kw))
	})
}

func (vm *VM) strArg(fn string, v Value) (string, bool) {
	s, ok := AsString(v)
	if !ok {
		vm.raise(vm.k.typeError, "%s() argument must be str, not %s", fn, v.Klass().name)
	}
	return s, ok
}

func (vm *VM) strList(parts []string) Value {
	items := make([]Value, len(parts))
	for i, p := range parts {
		items[i] = vm.Str(p)
	}
	return vm.newList(items)
}

// affix implements startswith and endswith; the argument may be a tuple
// of candidates.
func (vm *VM) affix(s string, arg Value, fn string, test func(s, fix string) bool) Value {
	if t, ok := arg.(*Tuple); ok {
		for _, x := range t.items {
			fix, ok := vm.strArg(fn, x)
			if !ok {
				return nil
			}
			if test(s, fix) {
				return vm.True
			}
		}
		return vm.False
	}
	fix, ok := vm.strArg(fn, arg)
	if !ok {
		return nil
	}
	return vm.Bool(test(s, fix))
}

// search returns a rune index. A miss is -1, or ValueError when strict.
func (vm *VM) search(s string, arg Value, fn string, find func(s, sub string) int, strict bool) Value {
	sub, ok := vm.strArg(fn, arg)
	if !ok {
		return nil
	}
	i := find(s, sub)
	if i < 0 {
		if strict {
			vm.raise(vm.k.valueError, "substring not found")
			return nil
		}
		return vm.Int(-1)
	}
	return vm.Int(int64(len([]rune(s[:i]))))
}

// splitFields splits on runs of whitespace, at most maxsplit times.
func splitFields(s string, maxsplit int) []string {
	if maxsplit < 0 {
		return strings.Fields(s)
	}
	var out []string
	rest := strings.TrimLeftFunc(s, unicode.IsSpace)
	for rest != "" {
		if len(out) == maxsplit {
			out = append(out, rest)
			break
		}
		i := strings.IndexFunc(rest, unicode.IsSpace)
		if i < 0 {
			out = append(out, rest)
			break
		}
		out = append(out, rest[:i])
		rest = strings.TrimLeftFunc(rest[i:], unicode.IsSpace)
	}
	return out
}

// padString pads s to width runes. align is '<', '>' or '^'.
func padString(s string, width int, fill rune, align byte) string {
	n := width - len([]rune(s))
	if n <= 0 {
		return s
	}
	f := string(fill)
	switch align {
	case '<':
		return s + strings.Repeat(f, n)
	case '^':
		left := n / 2
		return strings.Repeat(f, left) + s + strings.Repeat(f, n-left)
	}
	return strings.Repeat(f, n) + s
}
