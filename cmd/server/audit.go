package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newAuditCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Replay the movement log and compare it with the account counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ledger.Seed(cmd.Context()); err != nil {
				return err
			}
			report, err := a.ledger.Audit(cmd.Context())
			for _, acct := range report.Accounts {
				status := "ok"
				if acct.Violation != nil {
					status = acct.Violation.Error()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s movimientos=%-6d capital=%-14s %s\n",
					acct.AccountID, acct.Movements, acct.Stored.CapitalActual.StringFixed(2), status)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "capital total %s\n", report.TotalCapital.StringFixed(2))
			return nil
		},
	}
}
