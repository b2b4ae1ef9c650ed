package vm

// Debugger receives pre/post-op callbacks around every instruction. The
// default NopDebugger does nothing; a terminal debugger installs one that
// reads VM state and may call vm.Signal().Raise() to force the next
// 1024-op boundary to halt. Neither method may mutate vm.memory directly —
// only the run loop itself is allowed to, per the single-owner rule.
type Debugger interface {
	WillRunOp(v *VM)
	DidRunOp(v *VM)
}

// NopDebugger is the zero-cost default debug hook.
type NopDebugger struct{}

func (NopDebugger) WillRunOp(*VM) {}
func (NopDebugger) DidRunOp(*VM)  {}
