// Package led implements the LED module (opcode base 64). The original
// source (rpled-vm/src/modules/led.rs) ships only a single no-op sub-opcode
// with the remaining LED control calls commented out; this mirrors that
// scope exactly rather than inventing a GPIO driver the core VM has no
// business owning (see the design notes on why this stays a stub).
package led

import "github.com/stestagg/rpled/internal/vm"

// Module implements vm.ModuleImpl for the LED module. It holds no state: the
// original has none either, since real pixel-buffer state belongs to a
// hardware driver outside the portable VM core.
type Module struct{}

// New returns an LED module.
func New() *Module { return &Module{} }

// Reset is a no-op; Module carries no state.
func (m *Module) Reset() {}

// Ops returns the module's sub-opcode table: one no-op entry, matching the
// original's sole active handler.
func (m *Module) Ops() map[byte]vm.ModuleOp {
	return map[byte]vm.ModuleOp{
		1: {Arity: vm.Arity0, Handler: noop},
	}
}

func noop(*vm.VM, []int16) error { return nil }
