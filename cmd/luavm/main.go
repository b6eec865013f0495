// Package main is the luavm command. It runs lua 5.3 binary chunks and
// compiles lua source with luac first when it is given a source file.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"zombiezen.com/go/log"

	"github.com/tanema/luavm/src/chunk"
	"github.com/tanema/luavm/src/conf"
	"github.com/tanema/luavm/src/runtime"
)

type options struct {
	configPath string
	list       bool
	parseOnly  bool
	trace      bool
	step       bool
	quiet      bool
	maxSteps   int64
	debug      bool
}

func main() {
	rootCommand := newCommand()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		initLogging(false)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	c := &cobra.Command{
		Use:                   "luavm [options] FILE [args...]",
		Short:                 "run lua 5.3 binary chunks",
		Version:               conf.FullVersion(),
		Args:                  cobra.MinimumNArgs(1),
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	// everything after FILE belongs to the script
	c.Flags().SetInterspersed(false)
	opts := new(options)
	c.Flags().StringVar(&opts.configPath, "config", "", "read configuration from `path` (default "+conf.DefaultConfigFile+" if present)")
	c.Flags().BoolVarP(&opts.list, "list", "l", false, "print a listing of the loaded bytecode")
	c.Flags().BoolVarP(&opts.parseOnly, "parse-only", "p", false, "load the chunk without running it")
	c.Flags().BoolVarP(&opts.trace, "trace", "t", false, "log every executed instruction")
	c.Flags().BoolVarP(&opts.step, "step", "s", false, "run in the interactive step debugger")
	c.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "discard output from print")
	c.Flags().Int64Var(&opts.maxSteps, "max-steps", 0, "stop after `n` instructions, 0 is unlimited")
	c.Flags().BoolVar(&opts.debug, "debug", false, "show debugging output")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := conf.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, cfg, opts)
		initLogging(cfg.Debug || cfg.Trace)
		return run(cmd.Context(), cmd.OutOrStdout(), cfg, opts, args[0], args[1:])
	}
	return c
}

// applyFlags overrides config values with the flags that were set explicitly.
func applyFlags(cmd *cobra.Command, cfg *conf.Config, opts *options) {
	flags := cmd.Flags()
	if flags.Changed("trace") {
		cfg.Trace = opts.trace
	}
	if flags.Changed("quiet") {
		cfg.Quiet = opts.quiet
	}
	if flags.Changed("max-steps") {
		cfg.MaxSteps = opts.maxSteps
	}
	if flags.Changed("debug") {
		cfg.Debug = opts.debug
	}
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "luavm: ", log.StdFlags, nil),
		})
	})
}

func run(ctx context.Context, out io.Writer, cfg *conf.Config, opts *options, path string, scriptArgs []string) error {
	c, err := loadChunk(ctx, cfg, path)
	if err != nil {
		return err
	}
	if opts.list {
		fmt.Fprint(out, c.String())
	}
	if opts.parseOnly {
		return nil
	}

	vm := runtime.New(ctx, nil)
	if err := vm.Env().Set("arg", runtime.ArgTable(path, scriptArgs)); err != nil {
		return err
	}
	vm.Stdout = out
	if cfg.Quiet {
		vm.Stdout = io.Discard
	}
	vm.MaxSteps = cfg.MaxSteps
	if cfg.Trace {
		vm.OnStep = func(info runtime.StepInfo) {
			log.Debugf(ctx, "%*s%v", (info.Depth-1)*2, "", info)
		}
	}
	args := make([]any, len(scriptArgs))
	for i, arg := range scriptArgs {
		args[i] = arg
	}
	if err := vm.Load(c, args...); err != nil {
		return err
	}
	if opts.step {
		return vm.Debug(out)
	}
	results, err := vm.Run()
	if err != nil {
		return err
	}
	log.Debugf(ctx, "halted after %d steps with %d results", vm.Steps(), len(results))
	return nil
}

func loadChunk(ctx context.Context, cfg *conf.Config, path string) (*chunk.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !chunk.IsBinary(data) {
		if data, err = compile(ctx, cfg, path); err != nil {
			return nil, err
		}
	}
	log.Debugf(ctx, "loading binary chunk %s (%d bytes)", path, len(data))
	return chunk.Load(path, data)
}

// compile runs the configured compiler on a source file and returns the
// binary chunk it produced.
func compile(ctx context.Context, cfg *conf.Config, path string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "luavm")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	output := filepath.Join(dir, "luac.out")
	args := append(slices.Clone(cfg.CompilerArgs), "-o", output, path)
	log.Debugf(ctx, "compiling %s: %s %s", path, cfg.Compiler, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, cfg.Compiler, args...)
	stderr := new(bytes.Buffer)
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("compile %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return os.ReadFile(output)
}
