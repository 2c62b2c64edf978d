package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/linkpulse/linkpulse/internal/domain"
)

// ─── Watch CLI ──────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.AddCommand(watchAddCmd)
	watchCmd.AddCommand(watchListCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(tickCmd)

	watchAddCmd.Flags().StringP("frequency", "f", "daily", "daily or weekly")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage backlink watch jobs",
}

var watchAddCmd = &cobra.Command{
	Use:   "add SUBSCRIBER DOMAIN",
	Short: "Watch a domain for new backlinks",
	Args:  cobra.ExactArgs(2),
	RunE:  runWatchAdd,
}

func runWatchAdd(cmd *cobra.Command, args []string) error {
	name, err := domain.NormalizeDomain(args[1])
	if err != nil {
		return err
	}
	f, _ := cmd.Flags().GetString("frequency")
	freq, err := domain.ParseFrequency(f)
	if err != nil {
		return err
	}

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()
	quiet(d)

	id, err := d.DB.AddWatch(args[0], name, freq)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Watch %d: %s checks %s %s\n", id, args[0], name, freq)
	return nil
}

var watchListCmd = &cobra.Command{
	Use:   "list [SUBSCRIBER]",
	Short: "List watch jobs (all jobs when no subscriber is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatchList,
}

func runWatchList(cmd *cobra.Command, args []string) error {
	sub := ""
	if len(args) == 1 {
		sub = args[0]
	}

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()
	quiet(d)

	jobs, err := d.DB.ListWatches(sub)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No watch jobs.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSUBSCRIBER\tDOMAIN\tFREQUENCY\tLAST RUN")
	for _, j := range jobs {
		last := "never"
		if j.LastRunAt != nil {
			last = j.LastRunAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", j.ID, j.Subscriber, j.Domain, j.Frequency, last)
	}
	return w.Flush()
}

// ─── scan / tick ────────────────────────────────────────────────────────────

var scanCmd = &cobra.Command{
	Use:   "scan DOMAIN",
	Short: "Show a domain's backlinks that no watch run has reported yet",
	Long: `Fetch the domain's current backlinks and print the ones never recorded.
Nothing is written: the next scheduled run still reports them to the
domain's watchers. No credits are charged.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	name, err := domain.NormalizeDomain(args[0])
	if err != nil {
		return err
	}

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()
	quiet(d)

	if d.Scanner == nil {
		return fmt.Errorf("%w: set [seo] login and password", domain.ErrConfiguration)
	}
	links, err := d.Scanner.Preview(cmd.Context(), name)
	if err != nil {
		return err
	}
	recorded, err := d.Scanner.Recorded(name)
	if err != nil {
		return err
	}
	for _, l := range links {
		seen := "unknown"
		if !l.FirstSeen.IsZero() {
			seen = l.FirstSeen.Format("2006-01-02")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", seen, l.URL, l.Anchor)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d unreported backlink(s) for %s, %d already recorded\n", len(links), name, recorded)
	return nil
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler tick now",
	Long: `Run every watch job that is due at the current time, exactly as the
scheduler would. Jobs already run today are skipped.`,
	Args: cobra.NoArgs,
	RunE: runTick,
}

func runTick(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	if d.Scheduler == nil {
		return fmt.Errorf("%w: [scheduler] is not enabled", domain.ErrConfiguration)
	}
	r := d.Scheduler.Tick(cmd.Context(), time.Now())
	fmt.Fprintf(cmd.OutOrStdout(), "due %d, scanned %d, new links %d, notified %d, failed %d\n",
		r.Due, r.Scanned, r.NewLinks, r.Notified, r.Failed)
	return nil
}
