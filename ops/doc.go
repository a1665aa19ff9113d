// Package ops resolves the host's op name->id table into a typed,
// immutable snapshot.
//
// Opcodes are opaque small integers the host assigns at process start.
// Guest-side code refers to ops by name, resolves the Table once during
// startup, and passes OpCode values around from then on; numeric codes
// are never hard-coded because they differ between process instances.
package ops
