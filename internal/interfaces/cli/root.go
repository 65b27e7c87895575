// Package cli implements the cohortctl command tree: operational commands
// for migrations, offline filter evaluation, and talking to a running API
// server.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build metadata, injected at link time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// RootOptions carries the persistent flags shared by every subcommand.
type RootOptions struct {
	ConfigPath string
	ServerAddr string
	Token      string
	TenantID   string
	OutputJSON bool
}

// NewRootCommand assembles the cohortctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cohortctl",
		Short: "Operational CLI for the cohort screening service",
		Long: "cohortctl manages a cohortd deployment: it runs tenant schema\n" +
			"migrations, evaluates filter trees against local CSV files, and\n" +
			"queries a running server for cohort comparisons.",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./cohortd.yaml)")
	pf.StringVar(&opts.ServerAddr, "server", "http://localhost:8080", "cohortd server base URL")
	pf.StringVar(&opts.Token, "token", "", "bearer token for server commands")
	pf.StringVar(&opts.TenantID, "tenant", "", "tenant ID for server commands")
	pf.BoolVar(&opts.OutputJSON, "json", false, "emit JSON instead of text")

	cmd.AddCommand(
		NewMigrateCmd(opts),
		NewEvalCmd(opts),
		NewCompareCmd(opts),
	)
	return cmd
}
