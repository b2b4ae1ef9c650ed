package vm

import (
	"context"

	"github.com/stestagg/rpled/internal/bytecode"
	"github.com/stestagg/rpled/internal/memio"
)

// Run executes instructions until a halt condition or error. It never
// returns nil: a clean stop is always a *Halt. Grounded on
// rpled-vm/src/vm.rs's run().
func (v *VM) Run(ctx context.Context) error {
	v.halt.Clear()
	v.opCounter = 0

	for {
		if v.opCounter%1024 == 0 {
			if v.halt.IsRaised() {
				v.halt.Clear()
				return &Halt{Reason: HaltSignal}
			}
		}
		v.opCounter++

		if v.pc == v.maxPC {
			return &Halt{Reason: HaltProgramEnd}
		}

		v.debugger.WillRunOp(v)
		err := v.runOne(ctx)
		v.debugger.DidRunOp(v)
		if err != nil {
			return err
		}
	}
}

// runOne decodes and executes exactly one instruction.
func (v *VM) runOne(ctx context.Context) error {
	opByte, err := v.readPCU8()
	if err != nil {
		return err
	}
	op := bytecode.Op(opByte)

	if bytecode.IsCore(op) {
		return v.runCoreOp(ctx, op)
	}

	base, variant, ok := classifyModuleOp(op)
	if !ok {
		return &InvalidOpcodeError{Op: opByte, PC: v.pc - 1}
	}
	subOp, err := v.readPCU8()
	if err != nil {
		return err
	}
	nWords := 0
	if variant == bytecode.CallN {
		n, err := v.readPCU8()
		if err != nil {
			return err
		}
		nWords = int(n)
	}
	return v.dispatchModuleCall(base, variant, subOp, nWords)
}

var moduleBases = []bytecode.Op{bytecode.TestModuleBase, bytecode.LEDModuleBase}

func classifyModuleOp(op bytecode.Op) (bytecode.Op, bytecode.ModuleVariant, bool) {
	for _, base := range moduleBases {
		if v, ok := bytecode.VariantOf(base, op); ok {
			return base, v, true
		}
	}
	return 0, 0, false
}

// runCoreOp executes one of the fixed opcodes 1-41.
func (v *VM) runCoreOp(ctx context.Context, op bytecode.Op) error {
	switch op {
	case bytecode.Push:
		val, err := v.readPCU16()
		if err != nil {
			return err
		}
		return v.pushU16(val)

	case bytecode.Load:
		addr, err := v.readPCU16()
		if err != nil {
			return err
		}
		val, err := v.loadHeap16(addr)
		if err != nil {
			return err
		}
		return v.pushU16(val)

	case bytecode.Store:
		addr, err := v.readPCU16()
		if err != nil {
			return err
		}
		val, err := v.popU16()
		if err != nil {
			return err
		}
		return v.storeHeap16(addr, val)

	case bytecode.Pop:
		return v.popN(2)

	case bytecode.PopN:
		n, err := v.readPCU8()
		if err != nil {
			return err
		}
		return v.popN(int(n))

	case bytecode.Dup:
		top, err := v.peekU16(0)
		if err != nil {
			return err
		}
		return v.pushU16(top)

	case bytecode.Swap:
		a, err := v.peekU16(0)
		if err != nil {
			return err
		}
		b, err := v.peekU16(1)
		if err != nil {
			return err
		}
		if err := v.pokeU16(0, b); err != nil {
			return err
		}
		return v.pokeU16(1, a)

	case bytecode.Over:
		second, err := v.peekU16(1)
		if err != nil {
			return err
		}
		return v.pushU16(second)

	case bytecode.Rot:
		// Reading the three u16 slots in ascending-address order (top,
		// second, third) as an array and rotating it left by one: new top
		// becomes the old second, new second the old third, new third the
		// old top.
		top, err := v.peekU16(0)
		if err != nil {
			return err
		}
		second, err := v.peekU16(1)
		if err != nil {
			return err
		}
		third, err := v.peekU16(2)
		if err != nil {
			return err
		}
		if err := v.pokeU16(0, second); err != nil {
			return err
		}
		if err := v.pokeU16(1, third); err != nil {
			return err
		}
		return v.pokeU16(2, top)

	case bytecode.Zero:
		return v.pushU16(0)

	case bytecode.LoadFrame:
		off, err := v.readPCU16()
		if err != nil {
			return err
		}
		addr, err := v.frameAddr(off)
		if err != nil {
			return err
		}
		val, err := memio.ReadU16At(v.memory, addr)
		if err != nil {
			return &StackOverflowError{}
		}
		return v.pushU16(val)

	case bytecode.StoreFrame:
		off, err := v.readPCU16()
		if err != nil {
			return err
		}
		val, err := v.popU16()
		if err != nil {
			return err
		}
		addr, err := v.frameAddr(off)
		if err != nil {
			return err
		}
		if err := memio.WriteU16At(v.memory, addr, val); err != nil {
			return &StackOverflowError{}
		}
		return nil

	case bytecode.Add, bytecode.Sub, bytecode.Mul, bytecode.Div, bytecode.Mod:
		return v.runMathOp(op)

	case bytecode.Eq, bytecode.Ne, bytecode.Lt, bytecode.Gt, bytecode.Le, bytecode.Ge:
		return v.runCompareOp(op)

	case bytecode.And, bytecode.Or, bytecode.Xor, bytecode.Not:
		return v.runBitwiseOp(op)

	case bytecode.Inc, bytecode.Dec, bytecode.Neg, bytecode.Abs:
		return v.runUnaryOp(op)

	case bytecode.Clamp:
		return v.runClamp()

	case bytecode.Jmp:
		return v.runJump(unconditional)

	case bytecode.Jz:
		return v.runJump(jumpIfZero)

	case bytecode.Jnz:
		return v.runJump(jumpIfNotZero)

	case bytecode.Call:
		return v.runCall(callUnconditional)

	case bytecode.CallZ:
		return v.runCall(callIfZero)

	case bytecode.CallNz:
		return v.runCall(callIfNotZero)

	case bytecode.Ret:
		return v.runRet()

	case bytecode.Halt:
		return &Halt{Reason: HaltOp}

	case bytecode.Sleep:
		us, err := v.popU16()
		if err != nil {
			return err
		}
		return v.delay.Delay(ctx, us)

	default:
		return &InvalidOpcodeError{Op: byte(op), PC: v.pc - 1}
	}
}
