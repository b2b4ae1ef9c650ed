package pixelscript

import "fmt"

// Parser is a recursive-descent parser for the Lua-subset source language.
// It accepts a strict subset whose only job is to feed the compiler back end
// a Program. The grammar still admits a few constructs the back end rejects
// (function declarations inside blocks, return with a value, string literals
// and calls used as expressions); compiler.Compile reports those.
type parser struct {
	lx  *lexer
	cur token
}

// Parse lexes and parses src into a Program. It does not run the feature
// gate; callers pass the result to compiler.Compile, which runs
// CheckFeatures itself.
func Parse(src string) (*Program, error) {
	p := &parser{lx: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}

	header, err := p.parseHeader()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, p.errf("unexpected trailing token %q", p.cur.text)
	}
	return &Program{Header: header, Body: body}, nil
}

func (p *parser) advance() error {
	t, err := p.lx.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *parser) errf(format string, args ...any) error {
	return fmt.Errorf("pixelscript: line %d: %s", p.cur.line, fmt.Sprintf(format, args...))
}

func (p *parser) isSymbol(s string) bool  { return p.cur.kind == tokSymbol && p.cur.text == s }
func (p *parser) isKeyword(s string) bool { return p.cur.kind == tokKeyword && p.cur.text == s }

func (p *parser) expectSymbol(s string) error {
	if !p.isSymbol(s) {
		return p.errf("expected %q, got %q", s, p.cur.text)
	}
	return p.advance()
}

func (p *parser) expectKeyword(s string) error {
	if !p.isKeyword(s) {
		return p.errf("expected %q, got %q", s, p.cur.text)
	}
	return p.advance()
}

func (p *parser) expectIdent() (string, error) {
	if p.cur.kind != tokIdent {
		return "", p.errf("expected identifier, got %q", p.cur.text)
	}
	name := p.cur.text
	return name, p.advance()
}

// parseHeader parses the required leading
// pixelscript = { name = "...", modules = {"a","b"}, entrypoint = "main" }
func (p *parser) parseHeader() (Header, error) {
	var h Header
	if p.cur.kind != tokIdent || p.cur.text != "pixelscript" {
		return h, p.errf("expected leading pixelscript header table, got %q", p.cur.text)
	}
	if err := p.advance(); err != nil {
		return h, err
	}
	if err := p.expectSymbol("="); err != nil {
		return h, err
	}
	if err := p.expectSymbol("{"); err != nil {
		return h, err
	}

	for !p.isSymbol("}") {
		field, err := p.expectIdent()
		if err != nil {
			return h, err
		}
		if err := p.expectSymbol("="); err != nil {
			return h, err
		}
		switch field {
		case "name", "entrypoint":
			if p.cur.kind != tokString {
				return h, p.errf("expected string value for %q", field)
			}
			if field == "name" {
				h.Name = p.cur.text
			} else {
				h.Entrypoint = p.cur.text
			}
			if err := p.advance(); err != nil {
				return h, err
			}
		case "modules":
			mods, err := p.parseStringList()
			if err != nil {
				return h, err
			}
			h.Modules = mods
		default:
			return h, p.errf("unknown header field %q", field)
		}
		if p.isSymbol(",") {
			if err := p.advance(); err != nil {
				return h, err
			}
		}
	}
	return h, p.expectSymbol("}")
}

func (p *parser) parseStringList() ([]string, error) {
	if err := p.expectSymbol("{"); err != nil {
		return nil, err
	}
	var out []string
	for !p.isSymbol("}") {
		if p.cur.kind != tokString {
			return nil, p.errf("expected string in list, got %q", p.cur.text)
		}
		out = append(out, p.cur.text)
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isSymbol(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	return out, p.expectSymbol("}")
}

// atBlockEnd reports whether the current token terminates a statement block
// (EOF, or one of the keywords parseBlock leaves unconsumed).
func (p *parser) atBlockEnd() bool {
	if p.cur.kind == tokEOF {
		return true
	}
	return p.isKeyword("end") || p.isKeyword("else") || p.isKeyword("elseif") || p.isKeyword("until")
}

func (p *parser) parseBlock() ([]Stmt, error) {
	var stmts []Stmt
	for !p.atBlockEnd() {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

func (p *parser) parseStmt() (Stmt, error) {
	switch {
	case p.isKeyword("local"):
		return p.parseLocalDecl()
	case p.isKeyword("if"):
		return p.parseIf()
	case p.isKeyword("while"):
		return p.parseWhile()
	case p.isKeyword("repeat"):
		return p.parseRepeatUntil()
	case p.isKeyword("for"):
		return p.parseNumericFor()
	case p.isKeyword("function"):
		return p.parseFuncDecl()
	case p.isKeyword("return"):
		return p.parseReturn()
	case p.isKeyword("break"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Break{}, nil
	case p.cur.kind == tokIdent:
		return p.parseIdentStmt()
	default:
		return nil, p.errf("unexpected token %q at start of statement", p.cur.text)
	}
}

func (p *parser) parseLocalDecl() (Stmt, error) {
	if err := p.advance(); err != nil { // consume "local"
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	decl := &LocalDecl{Name: name}
	if p.isSymbol("=") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		decl.Init = v
	}
	return decl, nil
}

// parseIdentStmt disambiguates "name = expr" from "name(args)" — the only
// two statement forms that may start with a bare identifier.
func (p *parser) parseIdentStmt() (Stmt, error) {
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if p.isSymbol("=") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &Assign{Name: name, Value: v}, nil
	}
	if p.isSymbol("(") {
		call, err := p.parseCallArgs(name)
		if err != nil {
			return nil, err
		}
		return &ExprStmt{Expr: call}, nil
	}
	return nil, p.errf("expected '=' or '(' after identifier %q", name)
}

func (p *parser) parseIf() (Stmt, error) {
	if err := p.advance(); err != nil { // "if"
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("then"); err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}

	node := &If{Cond: cond, Then: then}
	switch {
	case p.isKeyword("elseif"):
		// parseIf's first action is an unconditional advance past the
		// keyword token, so it can be reentered here to parse "elseif" as
		// if it were a fresh "if" starting a one-statement else-block.
		elseBranch, err := p.parseIf()
		if err != nil {
			return nil, err
		}
		node.Else = []Stmt{elseBranch}
		return node, nil
	case p.isKeyword("else"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		els, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		node.Else = els
		if err := p.expectKeyword("end"); err != nil {
			return nil, err
		}
		return node, nil
	default:
		return node, p.expectKeyword("end")
	}
}

func (p *parser) parseWhile() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("do"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("end"); err != nil {
		return nil, err
	}
	return &While{Cond: cond, Body: body}, nil
}

// parseRepeatUntil parses "repeat <body> until <cond>"; unlike while, the
// body is parsed before the condition even exists.
func (p *parser) parseRepeatUntil() (Stmt, error) {
	if err := p.advance(); err != nil { // "repeat"
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("until"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &RepeatUntil{Body: body, Cond: cond}, nil
}

func (p *parser) parseNumericFor() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("="); err != nil {
		return nil, err
	}
	start, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol(","); err != nil {
		return nil, err
	}
	stop, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	var step Expr
	if p.isSymbol(",") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		step, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("do"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("end"); err != nil {
		return nil, err
	}
	return &NumericFor{Var: name, Start: start, Stop: stop, Step: step, Body: body}, nil
}

func (p *parser) parseFuncDecl() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var params []string
	for !p.isSymbol(")") {
		pName, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		params = append(params, pName)
		if p.isSymbol(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.advance(); err != nil { // ")"
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("end"); err != nil {
		return nil, err
	}
	return &FuncDecl{Name: name, Params: params, Body: body}, nil
}

func (p *parser) parseReturn() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.atBlockEnd() {
		return &Return{}, nil
	}
	v, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &Return{Value: v}, nil
}

// Expression grammar, precedence low to high:
// or  ->  and  ->  comparison  ->  additive  ->  multiplicative  ->  unary  ->  primary

func (p *parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

var comparisonOps = map[string]bool{"==": true, "~=": true, "<": true, ">": true, "<=": true, ">=": true}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokSymbol && comparisonOps[p.cur.text] {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isSymbol("+") || p.isSymbol("-") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isSymbol("*") || p.isSymbol("/") || p.isSymbol("%") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.isSymbol("-") || p.isKeyword("not") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: op, X: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	switch {
	case p.cur.kind == tokNumber:
		v, err := parseNumber(p.cur.text, p.cur.line)
		if err != nil {
			return nil, err
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &NumberLit{Value: v}, nil

	case p.cur.kind == tokString:
		v := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &StringLit{Value: v}, nil

	case p.isSymbol("("):
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return inner, nil

	case p.cur.kind == tokIdent:
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if p.isSymbol("(") {
			return p.parseCallArgs(name)
		}
		return &Ident{Name: name}, nil

	default:
		return nil, p.errf("unexpected token %q in expression", p.cur.text)
	}
}

func (p *parser) parseCallArgs(callee string) (Expr, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var args []Expr
	for !p.isSymbol(")") {
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.isSymbol(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.advance(); err != nil { // ")"
		return nil, err
	}
	return &Call{Callee: callee, Args: args}, nil
}
