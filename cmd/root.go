package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/DefangLabs/defang-launcher/pkg/config"
	"github.com/DefangLabs/defang-launcher/pkg/launcher"
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// DebugEnv enables debug logging when set to a true value.
const DebugEnv = "DEFANG_LAUNCHER_DEBUG"

var (
	// Version and Commit describe the launcher build.
	Version = "dev"
	Commit  = "none"

	exitCode int
)

// RootCmd forwards every argument to the Defang CLI. Flag parsing is
// disabled so --help, --version and friends reach the wrapped executable.
var RootCmd = &cobra.Command{
	Use:   "defang [args...]",
	Short: "Self-updating launcher for the Defang CLI",
	Long: `Keeps the Defang CLI up to date and runs it with the given arguments.

The latest release is downloaded, verified and installed next to the launcher
before every run. Pass --use-latest=false to run the installed version as is.`,
	DisableFlagParsing: true,
	SilenceErrors:      true,
	SilenceUsage:       true,
	Args:               cobra.ArbitraryArgs,
	CompletionOptions:  cobra.CompletionOptions{DisableDefaultCmd: true},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetHandler(cli.Default)
		if debugEnabled() {
			log.SetLevel(log.DebugLevel)
			log.Debugf("Verbose logging enabled")
		} else {
			log.SetLevel(log.InfoLevel)
		}
		log.Debugf("Launcher %s (%s)", Version, Commit)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 && args[0] == "--" {
			args = args[1:]
		}
		code, err := run(cmd.Context(), args)
		exitCode = code
		return err
	},
}

// Execute runs the launcher with the process arguments and returns the exit
// status to terminate with.
func Execute(ctx context.Context) int {
	// A leading "--" keeps cobra from routing __complete to its own
	// completion command; RunE strips it again.
	RootCmd.SetArgs(append([]string{"--"}, os.Args[1:]...))

	if err := RootCmd.ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("launcher failed")
		return launcher.ExitInternal
	}
	return exitCode
}

func run(ctx context.Context, args []string) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			code, err = launcher.ExitInternal, fmt.Errorf("panic: %v", r)
		}
	}()

	// The resolved path locates config and the install dir; the invoked
	// name is what the user typed, symlinks included.
	launcherPath, err := os.Executable()
	if err != nil {
		return launcher.ExitInternal, errors.Wrap(err, "failed to locate the launcher executable")
	}
	if resolved, err := filepath.EvalSymlinks(launcherPath); err == nil {
		launcherPath = resolved
	}

	cfg, configPath, err := config.LoadOrDefault(filepath.Dir(launcherPath))
	if err != nil {
		return launcher.ExitInternal, err
	}
	if configPath != "" {
		log.Debugf("Config file: %s", configPath)
	}

	l, err := launcher.New(cfg, launcherPath, os.Args[0])
	if err != nil {
		return launcher.ExitInternal, err
	}
	return l.Run(ctx, args), nil
}

func debugEnabled() bool {
	enabled, err := strconv.ParseBool(os.Getenv(DebugEnv))
	return err == nil && enabled
}
