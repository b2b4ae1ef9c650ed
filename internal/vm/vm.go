// Package vm implements the rpled bytecode virtual machine: memory
// partitioning, the run loop, opcode handlers, and the module dispatch ABI.
// Grounded throughout on rpled-vm/src/vm.rs, generalizing the teacher's
// register-machine vm.go (KTStephano-GVM) into the spec's stack+heap+frame
// model.
package vm

import (
	"context"
	"fmt"

	"github.com/stestagg/rpled/internal/bytecode"
	"github.com/stestagg/rpled/internal/memio"
	"github.com/stestagg/rpled/internal/program"
	"github.com/stestagg/rpled/internal/vmsync"
)

// MinStackSize mirrors program.MinStackSize; re-exported so embedders that
// only import vm can see the constraint the loader enforces.
const MinStackSize = program.MinStackSize

// VM is a single resident instance: one fixed-size memory array partitioned
// into code, heap, and stack regions. A VM is owned by exactly one goroutine
// during Run; there is no internal locking.
type VM struct {
	memory []byte

	heapStart int
	heapEnd   int
	maxPC     int

	pc int
	sp int
	fp int // explicit frame-base register, see design notes on frame tracking

	modules    map[bytecode.Op]ModuleImpl
	enabled    program.Flags
	halt       vmsync.Signal
	delay      vmsync.Delayer
	debugger   Debugger
	opCounter  uint32
	lastHalt   HaltReason
}

// Options configures a new VM instance.
type Options struct {
	// MemorySize is N, the VM's total resident memory in bytes.
	MemorySize int
	// Signal and Delay select the Sync Abstraction implementation. If nil,
	// a hosted NotifySignal/NotifyDelayer pair is used.
	Signal vmsync.Signal
	Delay  vmsync.Delayer
	// Debugger installs pre/post-op hooks. If nil, a no-op Debugger is used.
	Debugger Debugger
	// Modules are the compiled-in modules, keyed by their opcode base
	// (program.FlagTest -> bytecode.TestModuleBase, etc).
	Modules map[bytecode.Op]ModuleImpl
	// Enabled is the bitmask of modules this build supports, independent of
	// which ones a given program actually requires.
	Enabled program.Flags
}

// New constructs a VM with zeroed memory. It does not load a program; call
// Load before Run.
func New(opts Options) *VM {
	if opts.MemorySize <= 0 {
		opts.MemorySize = 8192
	}
	sig := opts.Signal
	if sig == nil {
		sig = vmsync.NewNotifySignal()
	}
	delay := opts.Delay
	if delay == nil {
		delay = vmsync.NotifyDelayer{}
	}
	dbg := opts.Debugger
	if dbg == nil {
		dbg = NopDebugger{}
	}
	modules := opts.Modules
	if modules == nil {
		modules = map[bytecode.Op]ModuleImpl{}
	}
	return &VM{
		memory:   make([]byte, opts.MemorySize),
		modules:  modules,
		enabled:  opts.Enabled,
		halt:     sig,
		delay:    delay,
		debugger: dbg,
	}
}

// PC returns the current program counter.
func (v *VM) PC() int { return v.pc }

// SP returns the current stack pointer.
func (v *VM) SP() int { return v.sp }

// FP returns the current frame base.
func (v *VM) FP() int { return v.fp }

// HeapStart, HeapEnd, MaxPC, and MemorySize expose the VM's memory
// partitioning for debuggers and tests.
func (v *VM) HeapStart() int   { return v.heapStart }
func (v *VM) HeapEnd() int     { return v.heapEnd }
func (v *VM) MaxPC() int       { return v.maxPC }
func (v *VM) MemorySize() int  { return len(v.memory) }

// Memory returns the VM's backing array. Callers must not mutate it while
// Run is executing; the single-owner rule is the VM's only synchronization
// discipline (see design notes on shared resources).
func (v *VM) Memory() []byte { return v.memory }

// Signal returns the halt signal, so an external pauser can call Raise.
func (v *VM) Signal() vmsync.Signal { return v.halt }

// SignalHalt raises the halt signal, giving an external controller — a
// debugger hitting a breakpoint, a cancellation path — a single verb to
// request a stop instead of reaching through Signal() directly.
func (v *VM) SignalHalt() { v.halt.Raise() }

// Pause requests that a concurrently running Run stop. Grounded on
// rpled-vm/src/vm.rs's pause(): it raises the signal and then waits for the
// signal to read raised, which resolves immediately since Raise just set it
// — the original's pause doesn't itself wait for run() to return, only for
// the signal's own wait primitive to resolve. The actual convergence point
// is the caller observing the goroutine running Run return a
// Halt{Reason: HaltSignal}; Pause does not block on that.
func (v *VM) Pause(ctx context.Context) error {
	v.halt.Raise()
	return v.halt.WaitRaised(ctx)
}

// ResetProgram restarts execution of the already-loaded program: pc, sp, fp,
// the halt signal, and every module's state return to what Load
// established, without re-parsing or re-copying the image. Grounded on
// rpled-vm/src/vm.rs's reset_program, which restarts a resident program
// rather than reloading it from bytes.
func (v *VM) ResetProgram() {
	v.halt.Clear()
	v.pc = 0
	v.sp = len(v.memory)
	v.fp = 0
	v.opCounter = 0
	for _, m := range v.modules {
		m.Reset()
	}
}

// Load validates and installs a program image, resetting all VM state.
// Grounded on rpled-vm/src/vm.rs's load() and program.rs's validate_program.
func (v *VM) Load(image []byte) error {
	hdr, err := program.Parse(image)
	if err != nil {
		return err
	}
	if err := hdr.CheckRequiredModules(v.enabled); err != nil {
		return err
	}

	codeLen := len(image) - hdr.HeaderEnd
	if codeLen < 0 {
		return program.ErrUnreadableHeader
	}

	// Heap-size policy: heap is sized to match code length, NOT the
	// header's requested heap_size field. This mirrors the original
	// loader's observable behavior; see design notes for the caveat.
	heapSize := codeLen
	heapEnd := codeLen + heapSize
	if heapEnd > len(v.memory)-program.MinStackSize {
		return fmt.Errorf("program: code+heap (%d) leaves fewer than %d bytes of stack in a %d byte VM", heapEnd, program.MinStackSize, len(v.memory))
	}

	for i := range v.memory {
		v.memory[i] = 0
	}
	copy(v.memory[:codeLen], image[hdr.HeaderEnd:])

	v.heapStart = codeLen
	v.heapEnd = heapEnd
	v.maxPC = v.heapStart
	if v.maxPC > 0xFFFF {
		v.maxPC = 0xFFFF
	}
	v.pc = 0
	v.sp = len(v.memory)
	v.fp = 0

	for _, m := range v.modules {
		m.Reset()
	}

	return nil
}

// SetPC bounds-checks and installs a new program counter. An out-of-range
// target resets pc to 0 and reports PCOverflow, matching rpled-vm/src/vm.rs.
func (v *VM) SetPC(pc int) error {
	if pc < 0 || pc > v.maxPC {
		v.pc = 0
		return &PCOverflowError{PC: pc}
	}
	v.pc = pc
	return nil
}

// readPCBytes reads n bytes from the code region starting at pc, advancing
// pc, bounds-checked against maxPC.
func (v *VM) readPCBytes(n int) ([]byte, error) {
	if v.pc < 0 || v.pc+n > v.maxPC {
		at := v.pc
		v.pc = 0
		return nil, &PCOverflowError{PC: at}
	}
	b := v.memory[v.pc : v.pc+n]
	v.pc += n
	return b, nil
}

func (v *VM) readPCU8() (byte, error) {
	b, err := v.readPCBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (v *VM) readPCU16() (uint16, error) {
	b, err := v.readPCBytes(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

func (v *VM) readPCI16() (int16, error) {
	u, err := v.readPCU16()
	return int16(u), err
}

// heapAddr validates a 16-bit heap offset and returns its absolute index.
func (v *VM) heapAddr(off uint16) (int, error) {
	addr := v.heapStart + int(off)
	if int(off) < 0 || addr+2 > v.heapEnd {
		return 0, &HeapOverflowError{Addr: off}
	}
	return addr, nil
}

func (v *VM) loadHeap16(off uint16) (uint16, error) {
	addr, err := v.heapAddr(off)
	if err != nil {
		return 0, err
	}
	return memio.ReadU16At(v.memory, addr)
}

func (v *VM) storeHeap16(off uint16, val uint16) error {
	addr, err := v.heapAddr(off)
	if err != nil {
		return err
	}
	return memio.WriteU16At(v.memory, addr, val)
}

// frameAddr validates a 16-bit frame-relative offset and returns its
// absolute index. fp is the sp value recorded immediately after Call pushes
// the return address and the caller's frame base; the callee's reserved locals occupy the
// frame_entries*2 bytes immediately below fp, growing toward lower
// addresses the same way the stack does, so local slot 0 lives at
// [fp-2, fp) and slot k at [fp-2*(k+1), fp-2*k).
func (v *VM) frameAddr(off uint16) (int, error) {
	addr := v.fp - int(off) - 2
	if addr < v.sp || addr+2 > len(v.memory) || addr < 0 {
		return 0, &StackOverflowError{}
	}
	return addr, nil
}
