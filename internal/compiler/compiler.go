package compiler

import (
	"errors"
	"fmt"

	"github.com/stestagg/rpled/internal/bytecode"
	"github.com/stestagg/rpled/internal/pixelscript"
)

var moduleNameToID = map[string]byte{
	"test": byte(bytecode.TestModuleBase),
	"led":  byte(bytecode.LEDModuleBase),
}

type funcInfo struct {
	label        Label
	params       []string
	frameEntries byte // params plus every local the body declares
}

// compilation holds the state threaded through one Compile call: the
// emitter, the two symbol tables (global heap slots, function table), and
// the fixed argument-passing scratch area.
//
// Calling convention: since the instruction set gives Call no way to place
// caller-evaluated argument values into the callee's freshly reserved frame
// window (the window sits below fp, the pushed arguments sit above it), a
// caller instead writes each argument into a small heap scratch area, and
// the callee's prologue is the first thing that runs after the jump,
// copying scratch into its own frame-local parameter slots before doing
// anything else — including any further calls, so recursive calls cannot
// clobber scratch out from under a still-reading caller. This is a
// compiler-level choice the specification leaves open; see DESIGN.md.
type compilation struct {
	em         *Emitter
	heap       *Heap
	globals    map[string]uint16
	funcs      map[string]*funcInfo
	argScratch []uint16
}

// Compile runs the feature gate over prog and translates it into a full
// program image. The header's requested heap size is the number of heap
// bytes the compiler allocated (argument scratch slots plus globals).
func Compile(prog *pixelscript.Program) ([]byte, error) {
	if errs := CheckFeatures(prog); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	c := &compilation{
		em:      NewEmitter(),
		heap:    &Heap{},
		globals: map[string]uint16{},
		funcs:   map[string]*funcInfo{},
	}

	var funcDecls []*pixelscript.FuncDecl
	maxParams := 0
	for _, s := range prog.Body {
		if fn, ok := s.(*pixelscript.FuncDecl); ok {
			funcDecls = append(funcDecls, fn)
			if len(fn.Params) > maxParams {
				maxParams = len(fn.Params)
			}
		}
	}
	c.argScratch = make([]uint16, maxParams)
	for i := range c.argScratch {
		c.argScratch[i] = c.heap.Allocate()
	}
	for _, fn := range funcDecls {
		entries := len(fn.Params) + countLocals(fn.Body)
		if entries > 255 {
			return nil, fmt.Errorf("compiler: function %q declares too many locals (%d)", fn.Name, entries)
		}
		c.funcs[fn.Name] = &funcInfo{label: c.em.NewLabel(), params: fn.Params, frameEntries: byte(entries)}
	}

	// The top-level body is emitted first, so every top-level global has its
	// heap slot before a function body that refers to it is compiled; the
	// function bodies follow, behind a jump to the end of the code.
	scope := (*Scope)(nil)
	for _, s := range prog.Body {
		if _, ok := s.(*pixelscript.FuncDecl); ok {
			continue
		}
		if err := c.compileStmt(scope, nil, s); err != nil {
			return nil, err
		}
	}

	if len(funcDecls) > 0 {
		endLabel := c.em.NewLabel()
		c.em.EmitJump(bytecode.Jmp, endLabel)
		for _, fn := range funcDecls {
			if err := c.compileFunc(fn); err != nil {
				return nil, err
			}
		}
		c.em.Place(endLabel)
	}

	code, err := c.em.Finish()
	if err != nil {
		return nil, err
	}

	var modIDs []byte
	for _, name := range prog.Header.Modules {
		id, ok := moduleNameToID[name]
		if !ok {
			return nil, fmt.Errorf("compiler: unknown module %q in header", name)
		}
		modIDs = append(modIDs, id)
	}

	return BuildImage(prog.Header.Name, modIDs, c.heap.Size(), code), nil
}

func (c *compilation) compileFunc(fn *pixelscript.FuncDecl) error {
	info := c.funcs[fn.Name]
	c.em.Place(info.label)

	scope := NewScope()
	for _, p := range fn.Params {
		if _, err := scope.Allocate(p); err != nil {
			return err
		}
	}
	// Prologue: drain the argument scratch slots into this frame's locals
	// before anything else can run, including a recursive call.
	for i := range fn.Params {
		c.em.EmitLoad(c.argScratch[i])
		c.em.EmitStoreFrame(uint16(i * 2))
	}

	for _, s := range fn.Body {
		if err := c.compileStmt(scope, nil, s); err != nil {
			return err
		}
	}
	c.em.EmitOp(bytecode.Ret)
	return nil
}

func (c *compilation) compileStmt(scope *Scope, loopExit *Label, s pixelscript.Stmt) error {
	switch n := s.(type) {
	case *pixelscript.LocalDecl:
		return c.compileLocalDecl(scope, n)

	case *pixelscript.Assign:
		return c.compileAssign(scope, n)

	case *pixelscript.ExprStmt:
		return c.compileExprStmt(scope, n.Expr)

	case *pixelscript.If:
		return c.compileIf(scope, loopExit, n)

	case *pixelscript.While:
		return c.compileWhile(scope, n)

	case *pixelscript.RepeatUntil:
		return c.compileRepeatUntil(scope, n)

	case *pixelscript.NumericFor:
		return c.compileNumericFor(scope, n)

	case *pixelscript.Return:
		if n.Value != nil {
			return fmt.Errorf("compiler: function return values are not supported")
		}
		if scope == nil {
			return fmt.Errorf("compiler: return used outside a function")
		}
		c.em.EmitOp(bytecode.Ret)
		return nil

	case *pixelscript.Break:
		if loopExit == nil {
			return fmt.Errorf("compiler: break used outside a loop")
		}
		c.em.EmitJump(bytecode.Jmp, *loopExit)
		return nil

	case *pixelscript.FuncDecl:
		return fmt.Errorf("compiler: nested function declaration %q", n.Name)

	default:
		return fmt.Errorf("compiler: unsupported statement %T", s)
	}
}

func (c *compilation) compileLocalDecl(scope *Scope, n *pixelscript.LocalDecl) error {
	if scope != nil {
		off, err := scope.Allocate(n.Name)
		if err != nil {
			return err
		}
		if n.Init != nil {
			if err := c.compileExpr(scope, n.Init); err != nil {
				return err
			}
		} else {
			c.em.EmitOp(bytecode.Zero)
		}
		c.em.EmitStoreFrame(off)
		return nil
	}

	off := c.heap.Allocate()
	c.globals[n.Name] = off
	if n.Init != nil {
		if err := c.compileExpr(scope, n.Init); err != nil {
			return err
		}
		c.em.EmitStore(off)
	}
	return nil
}

func (c *compilation) compileAssign(scope *Scope, n *pixelscript.Assign) error {
	if scope != nil {
		if off, ok := scope.Resolve(n.Name); ok {
			if err := c.compileExpr(scope, n.Value); err != nil {
				return err
			}
			c.em.EmitStoreFrame(off)
			return nil
		}
	}
	off, ok := c.globals[n.Name]
	if !ok {
		return fmt.Errorf("compiler: assignment to undeclared variable %q", n.Name)
	}
	if err := c.compileExpr(scope, n.Value); err != nil {
		return err
	}
	c.em.EmitStore(off)
	return nil
}

func (c *compilation) compileExprStmt(scope *Scope, e pixelscript.Expr) error {
	if call, ok := e.(*pixelscript.Call); ok {
		return c.compileCall(scope, call)
	}
	if err := c.compileExpr(scope, e); err != nil {
		return err
	}
	c.em.EmitOp(bytecode.Pop)
	return nil
}

func (c *compilation) compileIf(scope *Scope, loopExit *Label, n *pixelscript.If) error {
	if err := c.compileExpr(scope, n.Cond); err != nil {
		return err
	}
	elseLabel := c.em.NewLabel()
	c.em.EmitJump(bytecode.Jz, elseLabel)

	for _, s := range n.Then {
		if err := c.compileStmt(scope, loopExit, s); err != nil {
			return err
		}
	}
	if len(n.Else) > 0 {
		endLabel := c.em.NewLabel()
		c.em.EmitJump(bytecode.Jmp, endLabel)
		c.em.Place(elseLabel)
		for _, s := range n.Else {
			if err := c.compileStmt(scope, loopExit, s); err != nil {
				return err
			}
		}
		c.em.Place(endLabel)
	} else {
		c.em.Place(elseLabel)
	}
	return nil
}

func (c *compilation) compileWhile(scope *Scope, n *pixelscript.While) error {
	startLabel := c.em.NewLabel()
	endLabel := c.em.NewLabel()

	c.em.Place(startLabel)
	if err := c.compileExpr(scope, n.Cond); err != nil {
		return err
	}
	c.em.EmitJump(bytecode.Jz, endLabel)

	for _, s := range n.Body {
		if err := c.compileStmt(scope, &endLabel, s); err != nil {
			return err
		}
	}
	c.em.EmitJump(bytecode.Jmp, startLabel)
	c.em.Place(endLabel)
	return nil
}

// compileRepeatUntil is compileWhile's mirror image: the body runs once
// unconditionally before the condition is ever evaluated, and the backward
// jump fires while the condition is still false rather than before it's
// known.
func (c *compilation) compileRepeatUntil(scope *Scope, n *pixelscript.RepeatUntil) error {
	startLabel := c.em.NewLabel()
	endLabel := c.em.NewLabel()

	c.em.Place(startLabel)
	for _, s := range n.Body {
		if err := c.compileStmt(scope, &endLabel, s); err != nil {
			return err
		}
	}
	if err := c.compileExpr(scope, n.Cond); err != nil {
		return err
	}
	c.em.EmitJump(bytecode.Jz, startLabel)
	c.em.Place(endLabel)
	return nil
}

func (c *compilation) compileNumericFor(scope *Scope, n *pixelscript.NumericFor) error {
	var varAddr uint16
	if scope != nil {
		off, err := scope.Allocate(n.Var)
		if err != nil {
			return err
		}
		varAddr = off
	} else {
		varAddr = c.heap.Allocate()
		c.globals[n.Var] = varAddr
	}
	storeVar := func() {
		if scope != nil {
			c.em.EmitStoreFrame(varAddr)
		} else {
			c.em.EmitStore(varAddr)
		}
	}
	loadVar := func() {
		if scope != nil {
			c.em.EmitLoadFrame(varAddr)
		} else {
			c.em.EmitLoad(varAddr)
		}
	}

	if err := c.compileExpr(scope, n.Start); err != nil {
		return err
	}
	storeVar()

	startLabel := c.em.NewLabel()
	endLabel := c.em.NewLabel()
	c.em.Place(startLabel)

	loadVar()
	if err := c.compileExpr(scope, n.Stop); err != nil {
		return err
	}
	c.em.EmitOp(bytecode.Le)
	c.em.EmitJump(bytecode.Jz, endLabel)

	for _, s := range n.Body {
		if err := c.compileStmt(scope, &endLabel, s); err != nil {
			return err
		}
	}

	loadVar()
	if n.Step != nil {
		if err := c.compileExpr(scope, n.Step); err != nil {
			return err
		}
	} else {
		c.em.EmitPush(1)
	}
	c.em.EmitOp(bytecode.Add)
	storeVar()
	c.em.EmitJump(bytecode.Jmp, startLabel)
	c.em.Place(endLabel)
	return nil
}

func (c *compilation) compileCall(scope *Scope, call *pixelscript.Call) error {
	if call.Callee == "sleep" {
		if len(call.Args) != 1 {
			return fmt.Errorf("compiler: sleep expects exactly 1 argument")
		}
		if err := c.compileExpr(scope, call.Args[0]); err != nil {
			return err
		}
		c.em.EmitOp(bytecode.Sleep)
		return nil
	}

	info, ok := c.funcs[call.Callee]
	if !ok {
		return fmt.Errorf("compiler: call to undeclared function %q", call.Callee)
	}
	if len(call.Args) != len(info.params) {
		return fmt.Errorf("compiler: %q expects %d arguments, got %d", call.Callee, len(info.params), len(call.Args))
	}
	for i, a := range call.Args {
		if err := c.compileExpr(scope, a); err != nil {
			return err
		}
		c.em.EmitStore(c.argScratch[i])
	}
	c.em.EmitCall(bytecode.Call, info.label, info.frameEntries)
	return nil
}

// countLocals walks a function body and counts every slot it will need
// beyond its parameters: one per LocalDecl and one per numeric-for loop
// variable. It must visit statements in the same order compileStmt later
// allocates them in, since EmitCall needs the total frame_entries count up
// front, including for a function's own recursive calls to itself.
func countLocals(body []pixelscript.Stmt) int {
	n := 0
	for _, s := range body {
		switch st := s.(type) {
		case *pixelscript.LocalDecl:
			n++
		case *pixelscript.NumericFor:
			n++
			n += countLocals(st.Body)
		case *pixelscript.If:
			n += countLocals(st.Then)
			n += countLocals(st.Else)
		case *pixelscript.While:
			n += countLocals(st.Body)
		case *pixelscript.RepeatUntil:
			n += countLocals(st.Body)
		}
	}
	return n
}

func (c *compilation) compileExpr(scope *Scope, e pixelscript.Expr) error {
	switch n := e.(type) {
	case *pixelscript.NumberLit:
		c.em.EmitPush(uint16(n.Value))
		return nil

	case *pixelscript.Ident:
		if scope != nil {
			if off, ok := scope.Resolve(n.Name); ok {
				c.em.EmitLoadFrame(off)
				return nil
			}
		}
		off, ok := c.globals[n.Name]
		if !ok {
			return fmt.Errorf("compiler: reference to undeclared variable %q", n.Name)
		}
		c.em.EmitLoad(off)
		return nil

	case *pixelscript.Binary:
		if err := c.compileExpr(scope, n.Left); err != nil {
			return err
		}
		if err := c.compileExpr(scope, n.Right); err != nil {
			return err
		}
		op, ok := binaryOps[n.Op]
		if !ok {
			return fmt.Errorf("compiler: unsupported binary operator %q", n.Op)
		}
		c.em.EmitOp(op)
		return nil

	case *pixelscript.Unary:
		if n.Op == "not" {
			if err := c.compileExpr(scope, n.X); err != nil {
				return err
			}
			c.em.EmitPush(0)
			c.em.EmitOp(bytecode.Eq)
			return nil
		}
		if n.Op == "-" {
			if err := c.compileExpr(scope, n.X); err != nil {
				return err
			}
			c.em.EmitOp(bytecode.Neg)
			return nil
		}
		return fmt.Errorf("compiler: unsupported unary operator %q", n.Op)

	case *pixelscript.StringLit:
		return fmt.Errorf("compiler: string literals are not supported as expressions")

	case *pixelscript.Call:
		return fmt.Errorf("compiler: function calls cannot be used as expressions (no return-value convention)")

	default:
		return fmt.Errorf("compiler: unsupported expression %T", e)
	}
}

var binaryOps = map[string]bytecode.Op{
	"+": bytecode.Add, "-": bytecode.Sub, "*": bytecode.Mul, "/": bytecode.Div, "%": bytecode.Mod,
	"==": bytecode.Eq, "~=": bytecode.Ne, "<": bytecode.Lt, ">": bytecode.Gt, "<=": bytecode.Le, ">=": bytecode.Ge,
	"and": bytecode.And, "or": bytecode.Or,
}

