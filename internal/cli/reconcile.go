package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile PROVIDER ORDER_ID AMOUNT CURRENCY",
	Short: "Settle a payment confirmed outside any callback",
	Long: `Credit an order whose payment was confirmed by hand, typically a transfer
to the Monobank jar with the order id in its comment. The order is settled
through the same idempotent path as a verified callback: running this twice
credits once.

Example:
  linkpulse reconcile monobank U1-3f9a2b7c1d0e 199 UAH`,
	Args: cobra.ExactArgs(4),
	RunE: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	amount, err := decimal.NewFromString(args[2])
	if err != nil {
		return fmt.Errorf("AMOUNT %q is not a number", args[2])
	}

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()
	quiet(d)

	res, err := d.Billing.Reconcile(cmd.Context(), args[0], args[1], amount, args[3])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, +%d credits, balance %d\n", res.OrderID, res.Outcome, res.Credits, res.Balance)
	return nil
}
