package vm_test

import (
	"context"
	"testing"
	"time"

	"github.com/stestagg/rpled/internal/bytecode"
	"github.com/stestagg/rpled/internal/program"
	"github.com/stestagg/rpled/internal/vm"
)

func runToHalt(t *testing.T, code []byte) *vm.VM {
	t.Helper()
	v := newTestVM(t, buildImage("P", nil, code))
	if _, ok := vm.AsHalt(v.Run(context.Background())); !ok {
		t.Fatalf("expected a halt")
	}
	return v
}

// Property 4: Push v; Pop leaves sp unchanged.
func TestPropertyPushPopRoundTrip(t *testing.T) {
	v := newTestVM(t, buildImage("P4", nil, nil))
	spBefore := v.SP()

	code := append([]byte{op(bytecode.Push)}, u16le(0xBEEF)...)
	code = append(code, op(bytecode.Pop), op(bytecode.Halt))
	v = newTestVM(t, buildImage("P4", nil, code))
	if _, ok := vm.AsHalt(v.Run(context.Background())); !ok {
		t.Fatalf("expected a halt")
	}
	if v.SP() != spBefore {
		t.Fatalf("expected sp restored to %d, got %d", spBefore, v.SP())
	}
}

// Property 6a: Swap; Swap is identity on the top two u16.
func TestPropertySwapSwapIsIdentity(t *testing.T) {
	var code []byte
	code = append(code, op(bytecode.Push))
	code = append(code, u16le(1)...)
	code = append(code, op(bytecode.Push))
	code = append(code, u16le(2)...)
	code = append(code, op(bytecode.Swap), op(bytecode.Swap), op(bytecode.Halt))

	v := runToHalt(t, code)
	top := readTopU16(t, v)
	second := readSecondU16(t, v)
	if top != 2 || second != 1 {
		t.Fatalf("expected [1,2] unchanged (top=2,second=1), got top=%d second=%d", top, second)
	}
}

// Property 6b: Rot; Rot; Rot is identity on the top three.
func TestPropertyRotThriceIsIdentity(t *testing.T) {
	var code []byte
	for _, v := range []uint16{1, 2, 3} {
		code = append(code, op(bytecode.Push))
		code = append(code, u16le(v)...)
	}
	code = append(code, op(bytecode.Rot), op(bytecode.Rot), op(bytecode.Rot), op(bytecode.Halt))

	v := runToHalt(t, code)
	top := readTopU16(t, v)
	if top != 3 {
		t.Fatalf("expected top=3 after three rotations, got %d", top)
	}
}

// Property 7: Call/Ret pairing restores pc to the instruction after Call.
func TestPropertyCallRetPairing(t *testing.T) {
	haltInstr := []byte{op(bytecode.Halt)}
	retInstr := []byte{op(bytecode.Ret)}

	// Layout: [Call][Halt][Ret]
	// Call is 4 bytes (op+i16+u8); callee (Ret) starts right after Halt.
	offset := len(haltInstr)
	callInstr := append([]byte{op(bytecode.Call)}, i16le(int16(offset))...)
	callInstr = append(callInstr, 0) // frame_entries = 0

	code := append([]byte{}, callInstr...)
	code = append(code, haltInstr...)
	code = append(code, retInstr...)

	v := newTestVM(t, buildImage("P7", nil, code))
	h, ok := vm.AsHalt(v.Run(context.Background()))
	if !ok || h.Reason != vm.HaltOp {
		t.Fatalf("expected Halt(HaltOp) at the instruction after Call, got %v", h)
	}
	if v.PC() != len(callInstr)+1 {
		t.Fatalf("expected pc=%d (after Halt), got %d", len(callInstr)+1, v.PC())
	}
}

// Property 8: Jmp 0 is a no-op in effect (advances past its own operand only).
func TestPropertyJumpZeroIsNoop(t *testing.T) {
	jmp := append([]byte{op(bytecode.Jmp)}, i16le(0)...)
	code := append(jmp, op(bytecode.Halt))

	v := newTestVM(t, buildImage("P8", nil, code))
	h, ok := vm.AsHalt(v.Run(context.Background()))
	if !ok || h.Reason != vm.HaltOp {
		t.Fatalf("expected Halt(HaltOp), got %v", h)
	}
	if v.PC() != len(code) {
		t.Fatalf("expected pc at end of code (%d), got %d", len(code), v.PC())
	}
}

// Property 9: if halt_signal is set, Run returns Halt(Signal) within 1024
// instructions.
func TestPropertyHaltSignalLatency(t *testing.T) {
	// An infinite loop: Jmp 0 repeated; offset -3 jumps back to itself
	// (Jmp is 3 bytes: op + i16).
	loop := append([]byte{op(bytecode.Jmp)}, i16le(-3)...)

	v := vm.New(vm.Options{MemorySize: 256, Enabled: program.FlagTest | program.FlagLED})
	if err := v.Load(buildImage("P9", nil, loop)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- v.Run(context.Background()) }()

	time.Sleep(5 * time.Millisecond)
	v.Signal().Raise()

	select {
	case err := <-done:
		h, ok := vm.AsHalt(err)
		if !ok || h.Reason != vm.HaltSignal {
			t.Fatalf("expected Halt(Signal), got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not observe the halt signal in time")
	}
}

// Property 10 (partial): an out-of-bounds heap access is a typed error, not
// a panic or silent corruption.
func TestPropertyHeapBoundsSafety(t *testing.T) {
	code := append([]byte{op(bytecode.Load)}, u16le(0xFFFF)...)
	v := newTestVM(t, buildImage("P10", nil, code))
	err := v.Run(context.Background())
	if _, ok := err.(*vm.HeapOverflowError); !ok {
		t.Fatalf("expected HeapOverflowError, got %v (%T)", err, err)
	}
}

func readSecondU16(t *testing.T, v *vm.VM) uint16 {
	t.Helper()
	mem := v.Memory()
	sp := v.SP()
	if sp+4 > len(mem) {
		t.Fatalf("stack pointer out of range for second element: %d", sp)
	}
	return uint16(mem[sp+2]) | uint16(mem[sp+3])<<8
}
