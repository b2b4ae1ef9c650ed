// Command rpled-debug loads a compiled program image and single-steps it
// in a terminal UI, translating the teacher's line-oriented single-step
// REPL (next/run/break <line>) into a Bubble Tea program.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/stestagg/rpled/internal/bytecode"
	"github.com/stestagg/rpled/internal/modules/led"
	"github.com/stestagg/rpled/internal/modules/testmod"
	"github.com/stestagg/rpled/internal/program"
	"github.com/stestagg/rpled/internal/vm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		memorySize uint16
		breaks     []int
	)

	cmd := &cobra.Command{
		Use:           "rpled-debug <image.pxi>",
		Short:         "Single-step a compiled pixelscript image in a terminal debugger",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			return runDebugger(image, memorySize, breaks)
		},
	}

	cmd.Flags().Uint16Var(&memorySize, "memory-size", 4096, "VM memory size in bytes")
	cmd.Flags().IntSliceVar(&breaks, "break", nil, "initial breakpoint program-counter values")

	return cmd
}

func runDebugger(image []byte, memorySize uint16, breaks []int) error {
	d := newTUIDebugger()
	for _, b := range breaks {
		d.breakpoints[b] = true
	}

	tm := testmod.New(func(msg string) { d.log("test: " + msg) })
	v := vm.New(vm.Options{
		MemorySize: int(memorySize),
		Debugger:   d,
		Enabled:    program.FlagTest | program.FlagLED,
		Modules: map[bytecode.Op]vm.ModuleImpl{
			bytecode.TestModuleBase: tm,
			bytecode.LEDModuleBase:  led.New(),
		},
	})
	if err := v.Load(image); err != nil {
		return fmt.Errorf("loading image: %w", err)
	}

	d.vm = v
	p := tea.NewProgram(newModel(d))
	d.send = p.Send

	go func() {
		err := v.Run(context.Background())
		d.send(haltMsg{err: err, pc: v.PC(), sp: v.SP(), fp: v.FP()})
	}()

	_, err := p.Run()
	return err
}

// tuiDebugger implements vm.Debugger, pausing the VM's goroutine between
// instructions until the terminal UI releases it, either one instruction
// at a time or in free-run until the next breakpoint.
type tuiDebugger struct {
	mu          sync.Mutex
	breakpoints map[int]bool
	autoRun     atomic.Bool
	stepCh      chan struct{}
	send        func(tea.Msg)
	logLines    []string
	vm          *vm.VM
}

func newTUIDebugger() *tuiDebugger {
	return &tuiDebugger{
		breakpoints: map[int]bool{},
		stepCh:      make(chan struct{}),
	}
}

func (d *tuiDebugger) log(line string) {
	d.mu.Lock()
	d.logLines = append(d.logLines, line)
	d.mu.Unlock()
}

func (d *tuiDebugger) isBreakpoint(pc int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.breakpoints[pc]
}

func (d *tuiDebugger) toggleBreakpoint(pc int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.breakpoints[pc] {
		delete(d.breakpoints, pc)
	} else {
		d.breakpoints[pc] = true
	}
}

func (d *tuiDebugger) WillRunOp(v *vm.VM) {
	pc := v.PC()
	hitBreak := d.isBreakpoint(pc)
	if hitBreak {
		d.autoRun.Store(false)
		// Route the breakpoint through the VM's own halt signal, per
		// SPEC_FULL.md §4.6 (the terminal debugger calls vm.SignalHalt() on
		// a breakpoint hit) — on top of the stepCh gate below, which is what
		// actually gives the TUI per-instruction control, since Run's own
		// signal check only happens every 1024 ops.
		v.SignalHalt()
	}
	if d.send != nil {
		d.send(stateMsg{pc: pc, sp: v.SP(), fp: v.FP(), breakpoint: hitBreak})
	}
	if !d.autoRun.Load() {
		<-d.stepCh
	}
}

func (d *tuiDebugger) DidRunOp(*vm.VM) {}

func (d *tuiDebugger) step() { go func() { d.stepCh <- struct{}{} }() }
func (d *tuiDebugger) run()  { d.autoRun.Store(true); d.step() }

// quit asks the VM to stop via Pause (so a still-running program observes
// the same halt signal a breakpoint raises) and releases any instruction
// currently blocked on stepCh so the VM's goroutine is not left stranded.
func (d *tuiDebugger) quit() {
	if d.vm != nil {
		d.vm.Pause(context.Background())
	}
	d.autoRun.Store(true)
	d.step()
}

type stateMsg struct {
	pc, sp, fp int
	breakpoint bool
}

type haltMsg struct {
	err        error
	pc, sp, fp int
}

type model struct {
	d             *tuiDebugger
	pc, sp, fp    int
	halted        bool
	haltText      string
	enteringBreak bool
	breakInput    string
}

func newModel(d *tuiDebugger) model { return model{d: d} }

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.pc, m.sp, m.fp = msg.pc, msg.sp, msg.fp
		if msg.breakpoint {
			m.d.log(fmt.Sprintf("breakpoint hit at pc=%d", msg.pc))
		}
		return m, nil

	case haltMsg:
		m.pc, m.sp, m.fp = msg.pc, msg.sp, msg.fp
		m.halted = true
		if msg.err != nil {
			m.haltText = msg.err.Error()
		} else {
			m.haltText = "stopped"
		}
		return m, nil

	case tea.KeyMsg:
		if m.enteringBreak {
			switch msg.String() {
			case "enter":
				if n, err := strconv.Atoi(m.breakInput); err == nil {
					m.d.toggleBreakpoint(n)
				}
				m.enteringBreak = false
				m.breakInput = ""
			case "esc":
				m.enteringBreak = false
				m.breakInput = ""
			case "backspace":
				if len(m.breakInput) > 0 {
					m.breakInput = m.breakInput[:len(m.breakInput)-1]
				}
			default:
				if len(msg.String()) == 1 && msg.String()[0] >= '0' && msg.String()[0] <= '9' {
					m.breakInput += msg.String()
				}
			}
			return m, nil
		}

		switch msg.String() {
		case "q", "ctrl+c":
			if !m.halted {
				m.d.quit()
			}
			return m, tea.Quit
		case "n":
			if !m.halted {
				m.d.step()
			}
		case "r":
			if !m.halted {
				m.d.run()
			}
		case "b":
			m.enteringBreak = true
		}
		return m, nil
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("rpled-debug") + "\n\n")
	fmt.Fprintf(&b, "pc=%-6d sp=%-6d fp=%-6d\n", m.pc, m.sp, m.fp)
	if m.halted {
		fmt.Fprintf(&b, "\nhalted: %s\n", m.haltText)
	}
	if m.enteringBreak {
		fmt.Fprintf(&b, "\nbreak at pc: %s_\n", m.breakInput)
	}
	b.WriteString("\n" + dimStyle.Render("n next   r run   b breakpoint   q quit"))
	return boxStyle.Render(b.String())
}
