package vm

import "github.com/stestagg/rpled/internal/bytecode"

// runCompareOp implements Eq/Ne/Lt/Gt/Le/Ge: pop b, pop a, push 1 or 0 for
// a<op>b as i16.
func (v *VM) runCompareOp(op bytecode.Op) error {
	b, err := v.popI16()
	if err != nil {
		return err
	}
	a, err := v.popI16()
	if err != nil {
		return err
	}

	var result bool
	switch op {
	case bytecode.Eq:
		result = a == b
	case bytecode.Ne:
		result = a != b
	case bytecode.Lt:
		result = a < b
	case bytecode.Gt:
		result = a > b
	case bytecode.Le:
		result = a <= b
	case bytecode.Ge:
		result = a >= b
	}
	if result {
		return v.pushI16(1)
	}
	return v.pushI16(0)
}
