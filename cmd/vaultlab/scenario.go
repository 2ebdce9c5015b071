package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Vaultlab/pkg/labs/vault"
	"github.com/fortiblox/X1-Vaultlab/pkg/scenario"
)

func (c *cli) newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario <name>",
		Short: "Run a lab scenario",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runScenario,
	}
	cmd.Flags().String("profile", vault.ProfileSecure.Name, "Vault program profile")
	cmd.Flags().Bool("logs", false, "Print program logs of every step")
	cmd.Flags().Uint64("compute-limit", 0, "Compute units per transaction (0: default)")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List scenarios and profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SCENARIO\tDESCRIPTION")
			for _, s := range scenario.All() {
				fmt.Fprintf(w, "%s\t%s\n", s.Name, s.Description)
			}
			fmt.Fprintln(w, "\nPROFILE\tVAULT\tFLAWS")
			for _, p := range vault.Profiles() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.Layout, p.Flaws)
			}
			return w.Flush()
		},
	})
	return cmd
}

func (c *cli) runScenario(cmd *cobra.Command, args []string) error {
	s, err := scenario.Lookup(args[0])
	if err != nil {
		return err
	}
	profile, err := vault.ParseProfile(c.v.GetString("profile"))
	if err != nil {
		return err
	}
	id, err := c.programID()
	if err != nil {
		return err
	}

	db, err := c.openLedger()
	if err != nil {
		return err
	}
	defer db.Close()
	j, err := c.openJournal(false)
	if err != nil {
		return err
	}
	if j != nil {
		defer j.Close()
	}

	cfg := scenario.DefaultConfig()
	cfg.Profile = profile
	cfg.ProgramID = id
	cfg.DB = db
	cfg.Journal = j
	cfg.ComputeLimit = c.v.GetUint64("compute-limit")
	cfg.Logger = c.log

	env, err := scenario.NewEnv(cfg)
	if err != nil {
		return err
	}
	report, err := s.Run(env)
	if err != nil {
		return err
	}
	c.log.Info("scenario finished",
		zap.String("scenario", report.Scenario),
		zap.String("profile", report.Profile),
		zap.Bool("exploited", report.Exploited),
	)

	out := cmd.OutOrStdout()
	fmt.Fprint(out, report.String())
	if c.v.GetBool("logs") {
		for i, step := range report.Steps {
			fmt.Fprintf(out, "\nlogs of step %d:\n", i+1)
			for _, line := range step.Logs {
				fmt.Fprintf(out, "  %s\n", line)
			}
		}
	}
	return nil
}
