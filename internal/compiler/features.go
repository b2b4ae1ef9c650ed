package compiler

import (
	"fmt"

	"github.com/stestagg/rpled/internal/pixelscript"
)

// allowedBuiltins is the fixed allow-list of standard-library-like calls the
// compiler may emit directly instead of resolving as a user function.
// Grounded on the feature gate description: "any call to a standard-library
// function outside a fixed allow-list (currently sleep)".
var allowedBuiltins = map[string]bool{
	"sleep": true,
}

// CheckFeatures walks prog and collects one diagnostic per construct the VM
// cannot represent, following rpled-compile/src/script.rs's
// ScriptTransformer, which collects every violation instead of bailing on
// the first one so the compiler CLI can report them all together.
func CheckFeatures(prog *pixelscript.Program) []error {
	var errs []error
	declared := map[string]bool{}
	for _, s := range prog.Body {
		if fn, ok := s.(*pixelscript.FuncDecl); ok {
			declared[fn.Name] = true
		}
	}

	var checkBody func(body []pixelscript.Stmt, insideFunc bool)
	checkBody = func(body []pixelscript.Stmt, insideFunc bool) {
		for _, s := range body {
			switch n := s.(type) {
			case *pixelscript.FuncDecl:
				if insideFunc {
					errs = append(errs, fmt.Errorf("nested function declaration %q is not supported", n.Name))
				}
				checkExprsInBody(n.Body, declared, &errs)
				checkBody(n.Body, true)
			case *pixelscript.If:
				checkExprsInBody([]pixelscript.Stmt{&pixelscript.ExprStmt{Expr: n.Cond}}, declared, &errs)
				checkBody(n.Then, insideFunc)
				checkBody(n.Else, insideFunc)
			case *pixelscript.While:
				checkBody(n.Body, insideFunc)
			case *pixelscript.RepeatUntil:
				checkBody(n.Body, insideFunc)
			case *pixelscript.NumericFor:
				checkBody(n.Body, insideFunc)
			default:
				checkExprsInBody([]pixelscript.Stmt{s}, declared, &errs)
			}
		}
	}
	checkBody(prog.Body, false)
	return errs
}

// checkExprsInBody inspects the statement-level expressions for calls to
// undeclared, non-allow-listed names.
func checkExprsInBody(body []pixelscript.Stmt, declared map[string]bool, errs *[]error) {
	var walk func(e pixelscript.Expr)
	walk = func(e pixelscript.Expr) {
		switch n := e.(type) {
		case *pixelscript.Call:
			if !declared[n.Callee] && !allowedBuiltins[n.Callee] {
				*errs = append(*errs, fmt.Errorf("call to undeclared function or disallowed builtin %q", n.Callee))
			}
			for _, a := range n.Args {
				walk(a)
			}
		case *pixelscript.Binary:
			walk(n.Left)
			walk(n.Right)
		case *pixelscript.Unary:
			walk(n.X)
		}
	}
	for _, s := range body {
		switch n := s.(type) {
		case *pixelscript.ExprStmt:
			walk(n.Expr)
		case *pixelscript.LocalDecl:
			if n.Init != nil {
				walk(n.Init)
			}
		case *pixelscript.Assign:
			walk(n.Value)
		case *pixelscript.Return:
			if n.Value != nil {
				walk(n.Value)
			}
		}
	}
}
