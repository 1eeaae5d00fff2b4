package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	version = "dev" // set by build flags
)

// exitError pins a command failure to one of the process exit codes named
// in spec.md §6: 1 config error, 2 startup dependency unreachable, 3 fatal
// internal error. A command that returns a plain error falls through to 3.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configError(err error) error     { return &exitError{code: 1, err: err} }
func dependencyError(err error) error { return &exitError{code: 2, err: err} }

var rootCmd = &cobra.Command{
	Use:     "coordinator",
	Short:   "Edge mesh coordinator: cross-region routing, caching, and resilience control plane",
	Long:    `Coordinator runs the edge mesh's control plane: correlation tracking, anomaly detection, circuit breaking, rate limiting, replica routing, edge caching, global load balancing, consensus evaluation, and the observability surface over all of it.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(flushCmd)
}

// Commands are defined in separate files:
// - serveCmd in serve.go
// - resetCmd, flushCmd in admin.go

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(3)
	}
}
