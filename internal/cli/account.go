package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/linkpulse/linkpulse/internal/domain"
)

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.Flags().String("phone", "", "Set the contact phone before showing the account")
	accountCmd.Flags().Int("orders", 10, "Number of recent orders to list (0 for all)")
}

var accountCmd = &cobra.Command{
	Use:   "account ACCOUNT",
	Short: "Show an account, its contact phone and recent orders",
	Long: `Show an account's balance, contact phone and most recent orders.
With --phone, store a new contact number first.

Example:
  linkpulse account U1 --phone "+380 67 123 45 67"`,
	Args: cobra.ExactArgs(1),
	RunE: runAccount,
}

func runAccount(cmd *cobra.Command, args []string) error {
	rawPhone, _ := cmd.Flags().GetString("phone")
	limit, _ := cmd.Flags().GetInt("orders")

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()
	quiet(d)

	if rawPhone != "" {
		phone, err := domain.NormalizePhone(rawPhone)
		if err != nil {
			return err
		}
		if err := d.DB.SetPhone(args[0], phone); err != nil {
			return err
		}
	}

	acct, err := d.DB.GetAccount(args[0])
	if err != nil {
		return err
	}
	orders, err := d.DB.ListOrders(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	phone := acct.Phone
	if phone == "" {
		phone = "none"
	}
	fmt.Fprintf(out, "Account:  %s\n", acct.ID)
	fmt.Fprintf(out, "Balance:  %d credits\n", acct.Balance)
	fmt.Fprintf(out, "Phone:    %s\n", phone)
	fmt.Fprintf(out, "Created:  %s\n", acct.CreatedAt.Format(time.RFC3339))

	if len(orders) == 0 {
		fmt.Fprintln(out, "No orders.")
		return nil
	}
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tPROVIDER\tAMOUNT\tSTATUS\tCREDITS")
	for _, o := range orders {
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%d\n", o.ID, o.Provider, o.Amount.String(), o.Currency, o.Status, o.Credits)
	}
	return w.Flush()
}
