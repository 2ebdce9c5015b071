package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
	"github.com/fortiblox/X1-Vaultlab/pkg/labs/vault"
	"github.com/fortiblox/X1-Vaultlab/pkg/pda"
)

func (c *cli) newDeriveCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "derive [seed...]",
		Short: "Derive a program address",
		Long: `Derive the program address and bump for the given seeds under --program-id.

Seeds are "str:<text>", "key:<base58 pubkey>" or "hex:<bytes>"; a bare value is
a string. Without seeds the vault program's fixed addresses are printed, plus
the vault of --user when set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.programID()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) > 0 {
				seeds, err := pda.ParseSeeds(args)
				if err != nil {
					return err
				}
				addr, bump, err := pda.FindProgramAddress(seeds, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %d\n", addr, bump)
				return nil
			}

			addrs, err := vault.DeriveAddresses(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "program   %s\n", addrs.ProgramID)
			fmt.Fprintf(out, "config    %s\n", addrs.Config)
			fmt.Fprintf(out, "state     %s\n", addrs.State)
			fmt.Fprintf(out, "treasury  %s\n", addrs.Treasury)
			if user != "" {
				pk, err := types.PubkeyFromBase58(user)
				if err != nil {
					return fmt.Errorf("user: %w", err)
				}
				v, err := addrs.UserVault(pk)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "vault     %s\n", v)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Derive the vault of this wallet")
	return cmd
}
