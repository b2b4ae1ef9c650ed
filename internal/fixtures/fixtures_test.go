// Package fixtures compiles and runs the pixelscript programs under
// testprogs/ end to end, bounding concurrent VM instances the way a CI
// fixture runner would across many scripts at once.
package fixtures_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/semaphore"

	"github.com/stestagg/rpled/internal/bytecode"
	"github.com/stestagg/rpled/internal/compiler"
	"github.com/stestagg/rpled/internal/modules/led"
	"github.com/stestagg/rpled/internal/modules/testmod"
	"github.com/stestagg/rpled/internal/pixelscript"
	"github.com/stestagg/rpled/internal/program"
	"github.com/stestagg/rpled/internal/vm"
)

type fixtureResult struct {
	Halted bool
	Reason string
}

func runFixture(path string) (fixtureResult, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return fixtureResult{}, err
	}
	prog, err := pixelscript.Parse(string(src))
	if err != nil {
		return fixtureResult{}, err
	}
	image, err := compiler.Compile(prog)
	if err != nil {
		return fixtureResult{}, err
	}

	v := vm.New(vm.Options{
		MemorySize: 512,
		Enabled:    program.FlagTest | program.FlagLED,
		Modules: map[bytecode.Op]vm.ModuleImpl{
			bytecode.TestModuleBase: testmod.New(nil),
			bytecode.LEDModuleBase:  led.New(),
		},
	})
	if err := v.Load(image); err != nil {
		return fixtureResult{}, err
	}
	runErr := v.Run(context.Background())
	h, ok := vm.AsHalt(runErr)
	if !ok {
		return fixtureResult{}, runErr
	}
	return fixtureResult{Halted: true, Reason: h.Reason.String()}, nil
}

func TestFixturesRunConcurrently(t *testing.T) {
	cases := []struct {
		path string
		want fixtureResult
	}{
		{path: "../../testprogs/blink.pxs", want: fixtureResult{Halted: true, Reason: "ProgramEnd"}},
	}

	sem := semaphore.NewWeighted(4)
	ctx := context.Background()
	results := make([]fixtureResult, len(cases))
	errs := make([]error, len(cases))

	var wg sync.WaitGroup
	for i, c := range cases {
		if err := sem.Acquire(ctx, 1); err != nil {
			t.Fatalf("acquiring semaphore: %v", err)
		}
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			defer sem.Release(1)
			results[i], errs[i] = runFixture(path)
		}(i, c.path)
	}
	wg.Wait()

	for i, c := range cases {
		if errs[i] != nil {
			t.Fatalf("%s: %v", c.path, errs[i])
		}
		if diff := cmp.Diff(c.want, results[i]); diff != "" {
			t.Errorf("%s: mismatch (-want +got):\n%s", c.path, diff)
		}
	}
}
