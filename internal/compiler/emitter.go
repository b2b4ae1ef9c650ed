// Package compiler implements the bytecode back-end: bytecode emission from
// a validated AST, symbol resolution (scope.go, heap.go), and jump
// patching. Grounded on rpled-compile/src/scope.rs, heap.rs, and the
// label/patch idiom in KTStephano-GVM's vm/compile.go, generalized from that
// teacher's register machine to the stack+heap+frame model.
package compiler

import (
	"encoding/binary"
	"fmt"

	"github.com/stestagg/rpled/internal/bytecode"
)

// Label is an opaque forward-reference handle. Place binds it to the
// current emission position; EmitJump/EmitCall may reference a Label before
// it is placed ("forward jumps emit a placeholder offset, patched when the
// destination address is known").
type Label int

type fixup struct {
	i16Pos     int // position of the 2-byte offset field to patch
	operandEnd int // pc value immediately after the full operand
	target     Label
}

// Emitter accumulates a code buffer and resolves jump/call targets once the
// whole function or program has been emitted.
type Emitter struct {
	buf      []byte
	labels   map[Label]int
	nextID   Label
	fixups   []fixup
}

// NewEmitter returns an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{labels: map[Label]int{}}
}

// Len returns the current size of the code buffer (the position the next
// emitted byte would occupy).
func (e *Emitter) Len() int { return len(e.buf) }

// NewLabel allocates an unplaced label.
func (e *Emitter) NewLabel() Label {
	e.nextID++
	return e.nextID
}

// Place binds l to the current emission position.
func (e *Emitter) Place(l Label) {
	e.labels[l] = len(e.buf)
}

func (e *Emitter) emitByte(b byte)     { e.buf = append(e.buf, b) }
func (e *Emitter) emitU16(v uint16)    { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }

// EmitOp emits a bare opcode with no operand (Pop, Dup, Swap, Over, Rot,
// Zero, the math/compare/bitwise/unary ops, Ret, Halt).
func (e *Emitter) EmitOp(op bytecode.Op) { e.emitByte(byte(op)) }

// EmitPush emits Push v.
func (e *Emitter) EmitPush(v uint16) {
	e.emitByte(byte(bytecode.Push))
	e.emitU16(v)
}

// EmitLoad/EmitStore emit heap-addressed Load/Store.
func (e *Emitter) EmitLoad(addr uint16) {
	e.emitByte(byte(bytecode.Load))
	e.emitU16(addr)
}

func (e *Emitter) EmitStore(addr uint16) {
	e.emitByte(byte(bytecode.Store))
	e.emitU16(addr)
}

// EmitLoadFrame/EmitStoreFrame emit frame-addressed locals access.
func (e *Emitter) EmitLoadFrame(off uint16) {
	e.emitByte(byte(bytecode.LoadFrame))
	e.emitU16(off)
}

func (e *Emitter) EmitStoreFrame(off uint16) {
	e.emitByte(byte(bytecode.StoreFrame))
	e.emitU16(off)
}

// EmitPopN emits PopN n.
func (e *Emitter) EmitPopN(n byte) {
	e.emitByte(byte(bytecode.PopN))
	e.emitByte(n)
}

// EmitJump emits one of Jmp/Jz/Jnz targeting l, patched once l is placed.
func (e *Emitter) EmitJump(op bytecode.Op, l Label) {
	e.emitByte(byte(op))
	pos := len(e.buf)
	e.emitU16(0) // placeholder
	e.fixups = append(e.fixups, fixup{i16Pos: pos, operandEnd: pos + 2, target: l})
}

// EmitCall emits one of Call/CallZ/CallNz targeting l with the given
// frame_entries count, patched once l is placed.
func (e *Emitter) EmitCall(op bytecode.Op, l Label, frameEntries byte) {
	e.emitByte(byte(op))
	pos := len(e.buf)
	e.emitU16(0) // placeholder
	e.emitByte(frameEntries)
	e.fixups = append(e.fixups, fixup{i16Pos: pos, operandEnd: pos + 3, target: l})
}

// EmitModuleCall0/1/2/N emit a module opcode block invocation. subOp is the
// module's own sub-opcode identifying which function to call; nWords is
// only meaningful (and emitted) for the CallN variant.
func (e *Emitter) EmitModuleCall0(base bytecode.Op, subOp byte) {
	e.emitByte(byte(base) + byte(bytecode.Call0))
	e.emitByte(subOp)
}

func (e *Emitter) EmitModuleCall1(base bytecode.Op, subOp byte) {
	e.emitByte(byte(base) + byte(bytecode.Call1))
	e.emitByte(subOp)
}

func (e *Emitter) EmitModuleCall2(base bytecode.Op, subOp byte) {
	e.emitByte(byte(base) + byte(bytecode.Call2))
	e.emitByte(subOp)
}

func (e *Emitter) EmitModuleCallN(base bytecode.Op, subOp byte, nWords byte) {
	e.emitByte(byte(base) + byte(bytecode.CallN))
	e.emitByte(subOp)
	e.emitByte(nWords)
}

// Finish resolves every recorded fixup against placed labels and returns
// the final code buffer. It errors if any referenced label was never
// placed.
func (e *Emitter) Finish() ([]byte, error) {
	for _, f := range e.fixups {
		target, ok := e.labels[f.target]
		if !ok {
			return nil, fmt.Errorf("compiler: label %d referenced but never placed", f.target)
		}
		offset := target - f.operandEnd
		if offset < -32768 || offset > 32767 {
			return nil, fmt.Errorf("compiler: jump offset %d out of i16 range", offset)
		}
		binary.LittleEndian.PutUint16(e.buf[f.i16Pos:f.i16Pos+2], uint16(int16(offset)))
	}
	return e.buf, nil
}
