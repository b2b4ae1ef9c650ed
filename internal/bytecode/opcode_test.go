package bytecode

import "testing"

func TestOpcodeNumbering(t *testing.T) {
	cases := []struct {
		op   Op
		want byte
	}{
		{Push, 1}, {LoadFrame, 11}, {StoreFrame, 12}, {Add, 13},
		{Eq, 18}, {And, 24}, {Not, 27}, {Clamp, 32}, {Jmp, 33},
		{Call, 36}, {Ret, 39}, {Halt, 40}, {Sleep, 41},
	}
	for _, c := range cases {
		if byte(c.op) != c.want {
			t.Errorf("%s: want opcode %d, got %d", c.op, c.want, byte(c.op))
		}
	}
}

func TestModuleBases(t *testing.T) {
	if TestModuleBase != 60 {
		t.Errorf("test module base: want 60, got %d", TestModuleBase)
	}
	if LEDModuleBase != 64 {
		t.Errorf("led module base: want 64, got %d", LEDModuleBase)
	}
}

func TestVariantOf(t *testing.T) {
	v, ok := VariantOf(TestModuleBase, 62)
	if !ok || v != Call2 {
		t.Fatalf("expected Call2 in range, got %v ok=%v", v, ok)
	}
	if _, ok := VariantOf(TestModuleBase, 64); ok {
		t.Fatalf("expected 64 to fall outside the test module block")
	}
}

func TestLookupRoundTrip(t *testing.T) {
	op, ok := Lookup("add")
	if !ok || op != Add {
		t.Fatalf("expected Add, got %v ok=%v", op, ok)
	}
}

func TestOperandSizes(t *testing.T) {
	if Push.Size() != 3 {
		t.Errorf("push size: want 3, got %d", Push.Size())
	}
	if Call.Size() != 4 {
		t.Errorf("call size: want 4, got %d", Call.Size())
	}
	if Halt.Size() != 1 {
		t.Errorf("halt size: want 1, got %d", Halt.Size())
	}
}
