package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fortiblox/X1-Vaultlab/pkg/journal"
)

func (c *cli) newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the transaction journal",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Check the journal hash chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withJournal(func(j *journal.Journal) error {
				n, err := j.Verify()
				if err != nil {
					return fmt.Errorf("after %d entries: %w", n, err)
				}
				_, head := j.Head()
				fmt.Fprintf(cmd.OutOrStdout(), "%d entries ok, head %s\n", n, head)
				return nil
			})
		},
	})

	var from uint64
	list := &cobra.Command{
		Use:   "list",
		Short: "List journal entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withJournal(func(j *journal.Journal) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SEQ\tTIME\tTX\tCU\tRESULT")
				err := j.Iterate(from, func(rec journal.Record) error {
					e := rec.Entry
					result := "ok"
					if !e.Success {
						result = e.Error
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
						e.Seq, time.Unix(0, e.UnixNano).UTC().Format(time.RFC3339), e.TxID, e.ComputeUnits, result)
					return nil
				})
				if err != nil {
					return err
				}
				return w.Flush()
			})
		},
	}
	list.Flags().Uint64Var(&from, "from", 1, "First sequence number")
	cmd.AddCommand(list)
	return cmd
}

func (c *cli) withJournal(fn func(*journal.Journal) error) error {
	j, err := c.openJournal(true)
	if err != nil {
		return err
	}
	if j == nil {
		return errors.New("--journal is required")
	}
	defer j.Close()
	return fn(j)
}
