// Package vm implements the pyrite virtual machine.
//
// This package contains:
//   - Heap-resident values and the klass/MRO object model
//   - Dunder-based operator and protocol dispatch with a method cache
//   - Frames, argument binding, closures and generators
//   - The bytecode interpreter and its exception unwinding
//   - The pyc loader, importer and builtin namespace
package vm
