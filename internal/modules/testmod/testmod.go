// Package testmod implements the Test module (opcode base 60): a harness
// module present only in test/debug builds that records a message per call
// instead of touching any real hardware. Grounded on
// rpled-vm/src/modules/test.rs.
package testmod

import (
	"fmt"

	"github.com/stestagg/rpled/internal/vm"
)

// Module implements vm.ModuleImpl for the Test module.
type Module struct {
	log      func(msg string)
	Messages []string
}

// New returns a Test module. If log is nil, recorded messages are only kept
// in Messages; if non-nil (e.g. wired to charmbracelet/log), each message is
// also forwarded there as it is recorded.
func New(log func(msg string)) *Module {
	return &Module{log: log}
}

func (m *Module) record(msg string) {
	m.Messages = append(m.Messages, msg)
	if m.log != nil {
		m.log(msg)
	}
}

// Reset clears recorded messages; called by vm.VM.Load.
func (m *Module) Reset() {
	m.Messages = nil
}

// Ops returns the module's sub-opcode table: five entries matching the
// original's test_no_args/test_one_arg/test_two_args/test_four_u8/test_print.
func (m *Module) Ops() map[byte]vm.ModuleOp {
	return map[byte]vm.ModuleOp{
		1: {Arity: vm.Arity0, Handler: m.testNoArgs},
		2: {Arity: vm.Arity1, Handler: m.testOneArg},
		3: {Arity: vm.Arity2, Handler: m.testTwoArgs},
		4: {Arity: vm.ArityN, Words: 2, Handler: m.testFourU8},
		5: {Arity: vm.ArityN, Words: 2, Handler: m.testPrint},
	}
}

func (m *Module) testNoArgs(_ *vm.VM, _ []int16) error {
	m.record("TEST_NO_ARGS")
	return nil
}

func (m *Module) testOneArg(_ *vm.VM, args []int16) error {
	m.record(fmt.Sprintf("TEST_ONE_ARG: %d", args[0]))
	return nil
}

func (m *Module) testTwoArgs(_ *vm.VM, args []int16) error {
	m.record(fmt.Sprintf("TEST_TWO_ARGS: %d, %d", args[0], args[1]))
	return nil
}

// testFourU8 reinterprets the two packed i16 words as four individual u8
// values, matching the original's test_four_u8(a,b,c,d: u8).
func (m *Module) testFourU8(_ *vm.VM, args []int16) error {
	w0 := uint16(args[0])
	w1 := uint16(args[1])
	a, b := byte(w0&0xff), byte(w0>>8)
	c, d := byte(w1&0xff), byte(w1>>8)
	m.record(fmt.Sprintf("TEST_FOUR_U8: %d, %d, %d, %d", a, b, c, d))
	return nil
}

// testPrint reads msg_len bytes directly from VM memory starting at
// msg_ptr (a heap offset) and records them as a message, matching the
// original's test_print(msg_ptr: u16, msg_len: u16).
func (m *Module) testPrint(v *vm.VM, args []int16) error {
	ptr := uint16(args[0])
	length := uint16(args[1])
	mem := v.Memory()
	start := v.HeapStart() + int(ptr)
	end := start + int(length)
	if start < v.HeapStart() || end > v.HeapEnd() || end < start {
		return fmt.Errorf("testmod: test_print message out of heap bounds")
	}
	msg := string(mem[start:end])
	m.record(fmt.Sprintf("TEST_PRINT: %q", msg))
	return nil
}
