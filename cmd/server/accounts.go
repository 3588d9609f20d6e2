package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newAccountsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "Print the balance of every account",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ledger.Seed(cmd.Context()); err != nil {
				return err
			}
			accounts, err := a.ledger.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "CUENTA\tMONEDA\tINGRESOS\tGASTOS\tCAPITAL\tACTIVA\t")
			total := decimal.Zero
			for _, acct := range accounts {
				cfg := acct.Config()
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t\n", acct.ID, cfg.Currency,
					acct.HistoricoIngresos.StringFixed(2), acct.HistoricoGastos.StringFixed(2),
					acct.CapitalActual.StringFixed(2), acct.Active)
				total = total.Add(acct.CapitalActual)
			}
			fmt.Fprintf(tw, "TOTAL\t\t\t\t%s\t\t\n", total.StringFixed(2))
			return tw.Flush()
		},
	}
}
