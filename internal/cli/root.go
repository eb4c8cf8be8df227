// Package cli implements devportalctl, a command-line client for the portal REST API.
package cli

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8000"

type app struct {
	server  string
	output  string
	timeout time.Duration
	yes     bool
	now     func() time.Time
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

func NewRootCommand() *cobra.Command {
	return NewRootCommandWithIO(os.Stdin, os.Stdout, os.Stderr)
}

func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{now: time.Now, stdin: in, stdout: out, stderr: errOut}

	server := os.Getenv("DEVPORTAL_SERVER")
	if server == "" {
		server = defaultServer
	}

	cmd := &cobra.Command{
		Use:           "devportalctl",
		Short:         "Manage temporary environments and services on the developer portal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return validOutput(a.output)
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.server, "server", server, "portal base URL (env DEVPORTAL_SERVER)")
	cmd.PersistentFlags().StringVarP(&a.output, "output", "o", outputTable, "output format: table, json or yaml")
	cmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "request timeout")
	cmd.PersistentFlags().BoolVarP(&a.yes, "yes", "y", false, "skip confirmation for destructive commands")

	cmd.AddCommand(
		newEnvCmd(a),
		newServicesCmd(a),
		newRestartCmd(a),
		newHealthCmd(a),
	)
	return cmd
}

func (a *app) client() (*client, error) {
	return newClient(a.server, a.timeout)
}
