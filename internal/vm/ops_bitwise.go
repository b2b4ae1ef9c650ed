package vm

import "github.com/stestagg/rpled/internal/bytecode"

// runBitwiseOp implements And/Or/Xor (pop b, pop a, push a<op>b) and Not
// (pop a, push ^a), all on i16.
func (v *VM) runBitwiseOp(op bytecode.Op) error {
	if op == bytecode.Not {
		a, err := v.popI16()
		if err != nil {
			return err
		}
		return v.pushI16(^a)
	}

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
	case bytecode.And:
		result = a & b
	case bytecode.Or:
		result = a | b
	case bytecode.Xor:
		result = a ^ b
	}
	return v.pushI16(result)
}
