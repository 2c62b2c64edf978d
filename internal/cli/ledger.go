package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/linkpulse/linkpulse/internal/domain"
)

// ─── Ledger CLI ─────────────────────────────────────────────────────────────
// Operator commands over the credit ledger. Every change goes through the
// same store operations the API uses, so each one appends exactly one entry.

func init() {
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(adjustCmd)
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerVerifyCmd)

	adjustCmd.Flags().String("reason", domain.ReasonAdminAdjust, "Ledger reason tag")
	ledgerShowCmd.Flags().Int("limit", 20, "Number of entries (0 for all)")
}

var balanceCmd = &cobra.Command{
	Use:   "balance ACCOUNT",
	Short: "Show an account balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runBalance,
}

func runBalance(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()
	quiet(d)

	bal, err := d.DB.Balance(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits\n", args[0], bal)
	return nil
}

// ─── adjust ─────────────────────────────────────────────────────────────────

var adjustCmd = &cobra.Command{
	Use:   "adjust ACCOUNT DELTA",
	Short: "Apply an admin credit adjustment",
	Long: `Add (positive DELTA) or remove (negative DELTA) credits. The result may not
go below zero unless [ledger].allow_negative_adjust is set.

Example:
  linkpulse adjust -- U1 -10`,
	Args: cobra.ExactArgs(2),
	RunE: runAdjust,
}

func runAdjust(cmd *cobra.Command, args []string) error {
	delta, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("DELTA must be an integer: %w", err)
	}
	reason, _ := cmd.Flags().GetString("reason")

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()
	quiet(d)

	if err := d.DB.Adjust(args[0], delta, reason); err != nil {
		return err
	}
	bal, err := d.DB.Balance(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %+d (%s), balance %d\n", args[0], delta, reason, bal)
	return nil
}

// ─── ledger ─────────────────────────────────────────────────────────────────

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and audit the credit ledger",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show ACCOUNT",
	Short: "List recent ledger entries, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerShow,
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()
	quiet(d)

	entries, err := d.DB.Entries(args[0], limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No entries for %s.\n", args[0])
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDELTA\tREASON\tTIME")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%+d\t%s\t%s\n", e.ID, e.Delta, e.Reason, e.Timestamp.Format(time.RFC3339))
	}
	return w.Flush()
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every balance equals the sum of its entries",
	Args:  cobra.NoArgs,
	RunE:  runLedgerVerify,
}

func runLedgerVerify(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()
	quiet(d)

	mismatches, err := d.DB.VerifyLedger()
	if err != nil {
		return err
	}
	if len(mismatches) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Ledger consistent.")
		return nil
	}
	for _, m := range mismatches {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: balance %d, entries sum %d\n", m.Account, m.Balance, m.EntriesSum)
	}
	return fmt.Errorf("%d account(s) out of balance", len(mismatches))
}
