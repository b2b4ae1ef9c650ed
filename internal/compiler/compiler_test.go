package compiler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stestagg/rpled/internal/compiler"
	"github.com/stestagg/rpled/internal/pixelscript"
	"github.com/stestagg/rpled/internal/program"
	"github.com/stestagg/rpled/internal/vm"
)

func runImage(t *testing.T, image []byte) *vm.VM {
	t.Helper()
	v := vm.New(vm.Options{MemorySize: 512})
	require.NoError(t, v.Load(image))
	if err := v.Run(context.Background()); err != nil {
		_, ok := vm.AsHalt(err)
		require.True(t, ok, "Run failed: %v", err)
	}
	return v
}

func heapU16(v *vm.VM, off uint16) uint16 {
	mem := v.Memory()
	base := v.HeapStart() + int(off)
	return uint16(mem[base]) | uint16(mem[base+1])<<8
}

// TestCompileGlobalArithmetic exercises global declaration, assignment, and
// binary arithmetic without any functions involved.
func TestCompileGlobalArithmetic(t *testing.T) {
	prog := &pixelscript.Program{
		Header: pixelscript.Header{Name: "arith"},
		Body: []pixelscript.Stmt{
			&pixelscript.LocalDecl{Name: "x", Init: &pixelscript.NumberLit{Value: 3}},
			&pixelscript.Assign{Name: "x", Value: &pixelscript.Binary{
				Op:    "+",
				Left:  &pixelscript.Ident{Name: "x"},
				Right: &pixelscript.NumberLit{Value: 4},
			}},
		},
	}

	image, err := compiler.Compile(prog)
	require.NoError(t, err)

	v := runImage(t, image)
	require.Equal(t, uint16(7), heapU16(v, 0))
}

// TestCompileRecursiveFunction exercises FuncDecl/Call/Ret frame handling
// across a recursive call chain, plus If and the argument-scratch calling
// convention.
func TestCompileRecursiveFunction(t *testing.T) {
	// global counter = 0
	// func inc(n)
	//   if n > 0 then
	//     counter = counter + n
	//     inc(n - 1)
	//   end
	// end
	// inc(3)
	// local result = counter
	inc := &pixelscript.FuncDecl{
		Name:   "inc",
		Params: []string{"n"},
		Body: []pixelscript.Stmt{
			&pixelscript.If{
				Cond: &pixelscript.Binary{Op: ">", Left: &pixelscript.Ident{Name: "n"}, Right: &pixelscript.NumberLit{Value: 0}},
				Then: []pixelscript.Stmt{
					&pixelscript.Assign{Name: "counter", Value: &pixelscript.Binary{
						Op:    "+",
						Left:  &pixelscript.Ident{Name: "counter"},
						Right: &pixelscript.Ident{Name: "n"},
					}},
					&pixelscript.ExprStmt{Expr: &pixelscript.Call{
						Callee: "inc",
						Args:   []pixelscript.Expr{&pixelscript.Binary{Op: "-", Left: &pixelscript.Ident{Name: "n"}, Right: &pixelscript.NumberLit{Value: 1}}},
					}},
				},
			},
		},
	}

	prog := &pixelscript.Program{
		Header: pixelscript.Header{Name: "rec"},
		Body: []pixelscript.Stmt{
			&pixelscript.LocalDecl{Name: "counter", Init: &pixelscript.NumberLit{Value: 0}},
			inc,
			&pixelscript.ExprStmt{Expr: &pixelscript.Call{Callee: "inc", Args: []pixelscript.Expr{&pixelscript.NumberLit{Value: 3}}}},
			&pixelscript.LocalDecl{Name: "result", Init: &pixelscript.Ident{Name: "counter"}},
		},
	}

	image, err := compiler.Compile(prog)
	require.NoError(t, err)

	v := runImage(t, image)
	// heap layout: slot 0 is inc's argument-scratch word, slot 1 (off 2) is
	// counter, slot 2 (off 4) is result.
	require.Equal(t, uint16(6), heapU16(v, 4))
}

// TestCompileWhileLoop exercises While, Break, and jump patching across a
// backward branch.
func TestCompileWhileLoop(t *testing.T) {
	// local i = 0
	// local sum = 0
	// while i < 10 do
	//   sum = sum + i
	//   i = i + 1
	//   if i == 5 then
	//     break
	//   end
	// end
	prog := &pixelscript.Program{
		Header: pixelscript.Header{Name: "loop"},
		Body: []pixelscript.Stmt{
			&pixelscript.LocalDecl{Name: "i", Init: &pixelscript.NumberLit{Value: 0}},
			&pixelscript.LocalDecl{Name: "sum", Init: &pixelscript.NumberLit{Value: 0}},
			&pixelscript.While{
				Cond: &pixelscript.Binary{Op: "<", Left: &pixelscript.Ident{Name: "i"}, Right: &pixelscript.NumberLit{Value: 10}},
				Body: []pixelscript.Stmt{
					&pixelscript.Assign{Name: "sum", Value: &pixelscript.Binary{Op: "+", Left: &pixelscript.Ident{Name: "sum"}, Right: &pixelscript.Ident{Name: "i"}}},
					&pixelscript.Assign{Name: "i", Value: &pixelscript.Binary{Op: "+", Left: &pixelscript.Ident{Name: "i"}, Right: &pixelscript.NumberLit{Value: 1}}},
					&pixelscript.If{
						Cond: &pixelscript.Binary{Op: "==", Left: &pixelscript.Ident{Name: "i"}, Right: &pixelscript.NumberLit{Value: 5}},
						Then: []pixelscript.Stmt{&pixelscript.Break{}},
					},
				},
			},
		},
	}

	image, err := compiler.Compile(prog)
	require.NoError(t, err)

	v := runImage(t, image)
	// heap layout: i at 0, sum at 2.
	require.Equal(t, uint16(10), heapU16(v, 2), "expected sum == 0+1+2+3+4")
}

// TestCompileRepeatUntil exercises RepeatUntil's post-tested shape: the
// condition is tested after each pass of the body, so the body runs three
// times before i >= 3 holds.
func TestCompileRepeatUntil(t *testing.T) {
	// local i = 0
	// local count = 0
	// repeat
	//   count = count + 1
	//   i = i + 1
	// until i >= 3
	prog := &pixelscript.Program{
		Header: pixelscript.Header{Name: "repeat"},
		Body: []pixelscript.Stmt{
			&pixelscript.LocalDecl{Name: "i", Init: &pixelscript.NumberLit{Value: 0}},
			&pixelscript.LocalDecl{Name: "count", Init: &pixelscript.NumberLit{Value: 0}},
			&pixelscript.RepeatUntil{
				Body: []pixelscript.Stmt{
					&pixelscript.Assign{Name: "count", Value: &pixelscript.Binary{Op: "+", Left: &pixelscript.Ident{Name: "count"}, Right: &pixelscript.NumberLit{Value: 1}}},
					&pixelscript.Assign{Name: "i", Value: &pixelscript.Binary{Op: "+", Left: &pixelscript.Ident{Name: "i"}, Right: &pixelscript.NumberLit{Value: 1}}},
				},
				Cond: &pixelscript.Binary{Op: ">=", Left: &pixelscript.Ident{Name: "i"}, Right: &pixelscript.NumberLit{Value: 3}},
			},
		},
	}

	image, err := compiler.Compile(prog)
	require.NoError(t, err)

	v := runImage(t, image)
	// heap layout: i at 0, count at 2.
	require.Equal(t, uint16(3), heapU16(v, 2))
}

func TestCompileRejectsNestedFunction(t *testing.T) {
	prog := &pixelscript.Program{
		Header: pixelscript.Header{Name: "bad"},
		Body: []pixelscript.Stmt{
			&pixelscript.FuncDecl{
				Name: "outer",
				Body: []pixelscript.Stmt{
					&pixelscript.FuncDecl{Name: "inner"},
				},
			},
		},
	}

	_, err := compiler.Compile(prog)
	require.Error(t, err)
}

func TestCompileRejectsUndeclaredCall(t *testing.T) {
	prog := &pixelscript.Program{
		Header: pixelscript.Header{Name: "bad"},
		Body: []pixelscript.Stmt{
			&pixelscript.ExprStmt{Expr: &pixelscript.Call{Callee: "doesNotExist"}},
		},
	}

	_, err := compiler.Compile(prog)
	require.Error(t, err)
}

func TestCompileRejectsReturnValue(t *testing.T) {
	prog := &pixelscript.Program{
		Header: pixelscript.Header{Name: "bad"},
		Body: []pixelscript.Stmt{
			&pixelscript.FuncDecl{
				Name: "f",
				Body: []pixelscript.Stmt{
					&pixelscript.Return{Value: &pixelscript.NumberLit{Value: 1}},
				},
			},
			&pixelscript.ExprStmt{Expr: &pixelscript.Call{Callee: "f"}},
		},
	}

	_, err := compiler.Compile(prog)
	require.Error(t, err)
}

func TestCompileEmitsRequiredModules(t *testing.T) {
	prog := &pixelscript.Program{
		Header: pixelscript.Header{Name: "mods", Modules: []string{"test", "led"}},
	}

	image, err := compiler.Compile(prog)
	require.NoError(t, err)

	hdr, err := program.Parse(image)
	require.NoError(t, err)
	require.Equal(t, program.FlagTest|program.FlagLED, hdr.RequiredFlags)
}
