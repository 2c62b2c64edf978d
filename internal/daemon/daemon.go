package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linkpulse/linkpulse/internal/api"
	"github.com/linkpulse/linkpulse/internal/app/billing"
	"github.com/linkpulse/linkpulse/internal/app/watch"
	"github.com/linkpulse/linkpulse/internal/domain"
	"github.com/linkpulse/linkpulse/internal/infra/notify"
	"github.com/linkpulse/linkpulse/internal/infra/observability"
	"github.com/linkpulse/linkpulse/internal/infra/payment"
	"github.com/linkpulse/linkpulse/internal/infra/seo"
	"github.com/linkpulse/linkpulse/internal/infra/sqlite"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 15 * time.Second

// Daemon owns every long-lived component. Collaborators are built here and
// injected; nothing below holds a global client.
type Daemon struct {
	Config    Config
	Log       *logrus.Logger
	DB        *sqlite.DB
	Providers *payment.Registry
	Billing   *billing.Service
	Scanner   *watch.Scanner   // nil without seo credentials
	Checker   *watch.Checker   // nil without seo credentials
	Scheduler *watch.Scheduler // nil unless [scheduler].enabled
	Server    *api.Server

	log *logrus.Entry
}

// New builds the daemon from a validated config.
func New(cfg Config, log *logrus.Logger) (*Daemon, error) {
	if log == nil {
		log = observability.NewLogger(observability.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format}, nil)
	}
	d := &Daemon{Config: cfg, Log: log, log: observability.Component(log, "daemon")}

	prices, err := cfg.PriceTable()
	if err != nil {
		return nil, err
	}

	db, err := sqlite.Open(cfg.Database.Dir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetLedgerPolicy(sqlite.LedgerPolicy{
		InitialBonus:        cfg.Ledger.InitialBonus,
		AllowNegativeAdjust: cfg.Ledger.AllowNegativeAdjust,
	})
	d.DB = db

	providers, err := buildProviders(cfg.Payments)
	if err != nil {
		db.Close()
		return nil, err
	}
	d.Providers = payment.NewRegistry(providers...)
	d.Billing = billing.New(db, db, prices, d.Providers, log)

	if cfg.SEO.Login != "" && cfg.SEO.Password != "" {
		timeout, _ := parseDuration(cfg.SEO.Timeout, 30*time.Second)
		client, err := seo.New(seo.Config{
			BaseURL:       cfg.SEO.BaseURL,
			Login:         cfg.SEO.Login,
			Password:      cfg.SEO.Password,
			Timeout:       timeout,
			Limit:         cfg.SEO.Limit,
			RatePerSecond: cfg.SEO.RatePerSecond,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		d.Scanner = watch.NewScanner(client, db, log)
		d.Checker = watch.NewChecker(db, d.Scanner, cfg.Ledger.CheckCost, log)
	}

	if cfg.Scheduler.Enabled {
		if d.Scanner == nil {
			db.Close()
			return nil, fmt.Errorf("%w: scheduler needs seo credentials", domain.ErrConfiguration)
		}
		sched, err := buildScheduler(cfg, db, d.Scanner, log)
		if err != nil {
			db.Close()
			return nil, err
		}
		d.Scheduler = sched
	}

	d.Server = api.NewServer(log)
	if cfg.Metrics.Enabled {
		d.Server.EnableMetrics()
	}
	d.Server.SetPayments(&api.PaymentsAPI{Billing: d.Billing, Ledger: db, Orders: db, Log: log})
	d.Server.SetWatches(&api.WatchAPI{Store: db, Checker: d.Checker, Log: log})

	return d, nil
}

func buildProviders(cfg PaymentsConfig) ([]domain.PaymentProvider, error) {
	var out []domain.PaymentProvider
	if cfg.LiqPay.Enabled {
		p, err := payment.NewLiqPay(payment.LiqPayConfig{
			PublicKey:  cfg.LiqPay.PublicKey,
			PrivateKey: cfg.LiqPay.PrivateKey,
			ResultURL:  cfg.LiqPay.ResultURL,
			ServerURL:  cfg.LiqPay.ServerURL,
			Sandbox:    cfg.LiqPay.Sandbox,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if cfg.WayForPay.Enabled {
		p, err := payment.NewWayForPay(payment.WayForPayConfig{
			MerchantAccount: cfg.WayForPay.MerchantAccount,
			SecretKey:       cfg.WayForPay.SecretKey,
			Domain:          cfg.WayForPay.Domain,
			ServiceURL:      cfg.WayForPay.ServiceURL,
			ReturnURL:       cfg.WayForPay.ReturnURL,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if cfg.Monobank.Enabled {
		p, err := payment.NewMonobank(cfg.Monobank.JarURL)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func buildScheduler(cfg Config, db *sqlite.DB, scanner *watch.Scanner, log *logrus.Logger) (*watch.Scheduler, error) {
	sc := cfg.Scheduler
	interval, err := parseDuration(sc.Interval, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("%w: scheduler.interval: %v", domain.ErrConfiguration, err)
	}
	weekday, err := ParseWeekday(sc.Weekday)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: scheduler.timezone: %v", domain.ErrConfiguration, err)
	}

	tgTimeout, _ := parseDuration(cfg.Telegram.Timeout, 10*time.Second)
	notifier, err := notify.NewTelegram(notify.Config{
		Token:   cfg.Telegram.Token,
		BaseURL: cfg.Telegram.BaseURL,
		Timeout: tgTimeout,
	})
	if err != nil {
		return nil, err
	}

	return watch.NewScheduler(watch.Config{
		Interval: interval,
		Hour:     sc.Hour,
		Weekday:  weekday,
		Location: loc,
		Workers:  sc.Workers,
		MaxLinks: sc.MaxLinks,
	}, db, scanner, notifier, log), nil
}

// Run serves HTTP and runs the scheduler until ctx is cancelled, then shuts
// both down. In-flight snapshot inserts and ledger transactions finish
// before the database closes.
func (d *Daemon) Run(ctx context.Context) error {
	addr := net.JoinHostPort(d.Config.API.Host, strconv.Itoa(d.Config.API.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           d.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if d.Scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Scheduler.Start(ctx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		d.log.WithFields(logrus.Fields{
			"addr":      addr,
			"providers": d.Providers.Names(),
			"scheduler": d.Scheduler != nil,
		}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	d.log.Info("shutting down")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		d.log.WithError(err).Warn("http shutdown incomplete")
	}
	wg.Wait()
	return runErr
}

// Close releases the database.
func (d *Daemon) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
