package compiler

import "fmt"

// Scope is a flat list of a single function's locals, resolved by linear
// scan, matching rpled-compile/src/scope.rs's Scope{variables: Vec<String>}.
// Nested closures are rejected by the feature gate (see features.go), so one
// Scope per function body is all the back-end ever needs.
type Scope struct {
	vars []string
}

// NewScope returns an empty local scope.
func NewScope() *Scope { return &Scope{} }

// Resolve returns the frame offset for name, scanning in declaration order.
func (s *Scope) Resolve(name string) (uint16, bool) {
	for i, v := range s.vars {
		if v == name {
			return uint16(i * 2), true
		}
	}
	return 0, false
}

// Allocate reserves the next local slot for name. The original panics on a
// duplicate declaration in the same scope; this returns an error instead,
// following Go's explicit-error convention.
func (s *Scope) Allocate(name string) (uint16, error) {
	if _, ok := s.Resolve(name); ok {
		return 0, fmt.Errorf("compiler: %q already declared in this scope", name)
	}
	off := uint16(len(s.vars) * 2)
	s.vars = append(s.vars, name)
	return off, nil
}

// FrameEntries returns the number of 16-bit locals this scope has reserved,
// the value a Call instruction carries as frame_entries.
func (s *Scope) FrameEntries() byte {
	return byte(len(s.vars))
}
