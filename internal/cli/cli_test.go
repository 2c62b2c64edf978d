package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/linkpulse/linkpulse/internal/domain"
)

// run executes the root command against a throwaway home directory.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	defer resetFlags(rootCmd)
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag to its default between runs.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func setHome(t *testing.T) {
	t.Helper()
	t.Setenv("LINKPULSE_HOME", t.TempDir())
	t.Setenv("LINKPULSE_LOG_LEVEL", "error")
}

func TestAdjustThenBalance(t *testing.T) {
	setHome(t)

	out, err := run(t, "adjust", "U1", "25")
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if !strings.Contains(out, "balance 25") {
		t.Errorf("adjust output = %q", out)
	}

	out, err = run(t, "balance", "U1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !strings.Contains(out, "U1: 25 credits") {
		t.Errorf("balance output = %q", out)
	}

	out, err = run(t, "ledger", "verify")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out, "Ledger consistent.") {
		t.Errorf("verify output = %q", out)
	}
}

func TestAdjustRejectsBadDelta(t *testing.T) {
	setHome(t)
	if _, err := run(t, "adjust", "U1", "lots"); err == nil {
		t.Fatal("expected error for non-integer delta")
	}
}

func TestAdjustBelowZeroFails(t *testing.T) {
	setHome(t)
	if _, err := run(t, "adjust", "--", "U1", "-5"); !errors.Is(err, domain.ErrNegativeBalance) {
		t.Fatalf("err = %v, want ErrNegativeBalance", err)
	}
}

func TestWatchAddAndList(t *testing.T) {
	setHome(t)

	out, err := run(t, "watch", "add", "U1", "https://Example.com/", "--frequency", "weekly")
	if err != nil {
		t.Fatalf("watch add: %v", err)
	}
	if !strings.Contains(out, "example.com weekly") {
		t.Errorf("watch add output = %q", out)
	}

	out, err = run(t, "watch", "list")
	if err != nil {
		t.Fatalf("watch list: %v", err)
	}
	if !strings.Contains(out, "example.com") || !strings.Contains(out, "never") {
		t.Errorf("watch list output = %q", out)
	}

	if _, err := run(t, "watch", "add", "U1", "not a domain", "--frequency", "daily"); !errors.Is(err, domain.ErrInvalidDomain) {
		t.Errorf("err = %v, want ErrInvalidDomain", err)
	}
}

func TestScanNeedsCredentials(t *testing.T) {
	setHome(t)
	if _, err := run(t, "scan", "example.com"); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestReconcileUnknownProvider(t *testing.T) {
	setHome(t)
	if _, err := run(t, "reconcile", "monobank", "U1-abc", "199", "UAH"); !errors.Is(err, domain.ErrUnknownProvider) {
		t.Fatalf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestAccountSetsPhone(t *testing.T) {
	setHome(t)
	if _, err := run(t, "account", "U1"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("unknown account err = %v, want ErrAccountNotFound", err)
	}
	if _, err := run(t, "adjust", "U1", "5"); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "account", "U1", "--phone", "+380 67 123 45 67")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !strings.Contains(out, "+380671234567") || !strings.Contains(out, "5 credits") || !strings.Contains(out, "No orders.") {
		t.Errorf("account output = %q", out)
	}

	if _, err := run(t, "account", "U1", "--phone", "nope"); !errors.Is(err, domain.ErrInvalidPhone) {
		t.Errorf("err = %v, want ErrInvalidPhone", err)
	}
}
