// Command rpled-compile turns a pixelscript source file into a program
// image ready for rpled-vm to load.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/stestagg/rpled/internal/compiler"
	"github.com/stestagg/rpled/internal/pixelscript"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		output     string
		verbose    bool
		quiet      bool
		dumpAST    bool
		memorySize uint16
	)

	cmd := &cobra.Command{
		Use:           "rpled-compile <input.pxs>",
		Short:         "Compile a pixelscript source file into a program image",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(verbose, quiet)
			input := args[0]

			if ext := filepath.Ext(input); ext != ".pxl" && ext != ".pxs" {
				logger.Warn("input file does not have a .pxl/.pxs extension", "file", input)
			}

			src, err := os.ReadFile(input)
			if err != nil {
				return fmt.Errorf("reading %s: %w", input, err)
			}

			logger.Debug("parsing", "file", input)
			prog, err := pixelscript.Parse(string(src))
			if err != nil {
				return err
			}

			if dumpAST {
				dumpProgram(os.Stdout, prog)
			}

			if memorySize != 0 {
				logger.Debug("memory size hint", "bytes", memorySize)
			}

			logger.Debug("compiling", "name", prog.Header.Name, "modules", prog.Header.Modules)
			image, err := compiler.Compile(prog)
			if err != nil {
				return err
			}

			out := output
			if out == "" {
				out = defaultOutputPath(input)
			}
			if err := os.WriteFile(out, image, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			logger.Info("compiled", "input", input, "output", out, "bytes", len(image))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output image path (default: <input> with .bin extension)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress all logging except errors")
	cmd.Flags().BoolVar(&dumpAST, "dump-ast", false, "print the parsed AST to stdout before compiling")
	cmd.Flags().Uint16Var(&memorySize, "memory-size", 0, "memory size hint in bytes (only logged; not written into the image)")

	return cmd
}

// defaultOutputPath mirrors the original compiler's out.set_extension("bin").
func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(input, ext)
	return base + ".bin"
}

func newLogger(verbose, quiet bool) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: false})
	switch {
	case quiet:
		logger.SetLevel(log.ErrorLevel)
	case verbose:
		logger.SetLevel(log.DebugLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}

func dumpProgram(w *os.File, prog *pixelscript.Program) {
	fmt.Fprintf(w, "; name=%s modules=%v entrypoint=%s\n", prog.Header.Name, prog.Header.Modules, prog.Header.Entrypoint)
	for _, s := range prog.Body {
		fmt.Fprintf(w, "%T\n", s)
	}
}
