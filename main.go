package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/chainhelen/deet/bininfo"
	"github.com/chainhelen/deet/config"
	"github.com/chainhelen/deet/log"
)

var logger = log.Named("deet")

type rootFlags struct {
	configPath string
	logLevel   string
	entry      string
	breaks     []string
}

func (f *rootFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/deet/config.yml)")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn, error or panic")
	fs.StringVar(&f.entry, "entry", "", "function a backtrace stops at")
	fs.StringArrayVarP(&f.breaks, "break", "b", nil, "breakpoint set before the first run (*addr, function or file:line)")
}

// loadConfig merges the config file, the environment and the flags, in
// increasing order of precedence.
func (f *rootFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.entry != "" {
		cfg.EntryFunction = f.entry
	}
	cfg.Breakpoints = append(cfg.Breakpoints, f.breaks...)
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	var f rootFlags

	root := &cobra.Command{
		Use:          "deet",
		Short:        "deet is a small ptrace debugger for linux/amd64",
		SilenceUsage: true,
	}
	f.register(root.PersistentFlags())

	execCmd := &cobra.Command{
		Use:   "exec <binary> [args...]",
		Short: "debug an executable",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return debugSession(&f, args[0], args[1:], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	execCmd.Flags().SetInterspersed(false)

	debugCmd := &cobra.Command{
		Use:   "debug <file.go> [args...]",
		Short: "build a Go file without optimizations and debug it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filename, err := absoluteFilename(args[0])
			if err != nil {
				return err
			}
			execfile, err := build(filename)
			if err != nil {
				return err
			}
			defer remove(execfile)
			return debugSession(&f, execfile, args[1:], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	debugCmd.Flags().SetInterspersed(false)

	root.AddCommand(execCmd, debugCmd)
	return root
}

func debugSession(f *rootFlags, path string, args []string, in io.Reader, stdout, stderr io.Writer) error {
	cfg, err := f.loadConfig()
	if err != nil {
		return err
	}
	log.Setup(cfg.LogLevel, cfg.LogHTTPAddr)

	bi, err := bininfo.Load(path)
	if err != nil {
		return err
	}
	if bi.PIE {
		logger.Warn("position independent executable, addresses will not match", zap.String("path", path))
	}
	if bi.Optimized() {
		logger.Warn("binary is optimized, build with -gcflags all=-N -l", zap.String("path", path))
	}

	s := newSession(cfg, bi, args, stdout, stderr)
	for _, loc := range cfg.Breakpoints {
		s.addBreakpoint(loc)
	}
	s.repl(in)
	// a fatal stop already killed the tracee; cobra reports it and main
	// exits 1
	return s.fatal
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
