package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Vaultlab/pkg/accounts"
)

func (c *cli) newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export and import the accounts ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <file>",
		Short: "Write a snapshot of the --db ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withLedger(func(db accounts.DB) error {
				h, err := accounts.CreateSnapshot(args[0], db)
				if err != nil {
					return err
				}
				c.log.Info("snapshot created", zap.String("file", args[0]), zap.Uint64("accounts", h.AccountsCount))
				printHeader(cmd, h)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "load <file>",
		Short: "Load a snapshot into the --db ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withLedger(func(db accounts.DB) error {
				h, err := accounts.LoadSnapshot(args[0], db)
				if err != nil {
					return err
				}
				c.log.Info("snapshot loaded", zap.String("file", args[0]), zap.Uint64("accounts", h.AccountsCount))
				printHeader(cmd, h)
				return nil
			})
		},
	})
	return cmd
}

func (c *cli) withLedger(fn func(accounts.DB) error) error {
	if _, err := c.requireLedgerPath(); err != nil {
		return err
	}
	db, err := c.openLedger()
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func printHeader(cmd *cobra.Command, h accounts.SnapshotHeader) {
	fmt.Fprintf(cmd.OutOrStdout(), "height %d, %d accounts, state hash %s\n", h.Height, h.AccountsCount, h.StateHash)
}
