package vm

import "github.com/stestagg/rpled/internal/bytecode"

// runMathOp implements Add/Sub/Mul/Div/Mod: pop b, pop a, push a<op>b using
// wrapping 16-bit two's-complement arithmetic (Go's int16 arithmetic wraps
// silently, matching the original's explicit wrapping_* calls).
func (v *VM) runMathOp(op bytecode.Op) error {
	b, err := v.popI16()
	if err != nil {
		return err
	}
	a, err := v.popI16()
	if err != nil {
		return err
	}

	var result int16
	switch op {
	case bytecode.Add:
		result = a + b
	case bytecode.Sub:
		result = a - b
	case bytecode.Mul:
		result = a * b
	case bytecode.Div:
		if b == 0 {
			return &DivisionByZeroError{}
		}
		result = a / b
	case bytecode.Mod:
		if b == 0 {
			return &DivisionByZeroError{}
		}
		result = a % b
	}
	return v.pushI16(result)
}

// runUnaryOp implements Inc/Dec/Neg/Abs on the top of stack, wrapping.
func (v *VM) runUnaryOp(op bytecode.Op) error {
	a, err := v.popI16()
	if err != nil {
		return err
	}
	var result int16
	switch op {
	case bytecode.Inc:
		result = a + 1
	case bytecode.Dec:
		result = a - 1
	case bytecode.Neg:
		result = -a
	case bytecode.Abs:
		if a < 0 {
			result = -a
		} else {
			result = a
		}
	}
	return v.pushI16(result)
}

// runClamp implements Clamp: the popped packed struct is declared in
// {max, min, val} field order (ClampVals in the original), so the field
// nearest the current top is max, then min, then val. A compiler emitting
// this opcode must therefore push val first, then min, then max, so max
// ends up at the new top.
func (v *VM) runClamp() error {
	fields, err := v.popPackedI16(3)
	if err != nil {
		return err
	}
	max, min, val := fields[0], fields[1], fields[2]
	switch {
	case val < min:
		val = min
	case val > max:
		val = max
	}
	return v.pushI16(val)
}
