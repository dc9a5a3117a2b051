// Command xray runs the report service or reports on a single message.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/synqronlabs/xray"
	"github.com/synqronlabs/xray/smtpd"
)

func main() {
	app := &cli.App{
		Name:    "xray",
		Usage:   "inspect test messages and report on their authenticity",
		Version: xray.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "JSON configuration file",
				EnvVars: []string{"XRAY_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log debug messages",
			},
			&cli.StringSliceFlag{
				Name:  "nameserver",
				Usage: "DNS server to query, host:port (repeatable)",
			},
			&cli.StringFlag{
				Name:  "spf",
				Usage: "SPF evaluator: spfquery or builtin",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "accept messages over SMTP and store their reports",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "listen", Usage: "SMTP listen address"},
					&cli.StringFlag{Name: "hostname", Usage: "name announced in the SMTP greeting"},
					&cli.StringFlag{Name: "metrics", Usage: "Prometheus listen address"},
				},
				Action: serve,
			},
			{
				Name:      "check",
				Usage:     "print the report of a message file",
				ArgsUsage: "<file.eml|->",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "from", Usage: "envelope sender", Required: true},
					&cli.StringFlag{Name: "to", Usage: "envelope recipient", Value: "check@localhost"},
					&cli.BoolFlag{Name: "save", Usage: "also store the report"},
				},
				Action: check,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*xray.Config, *slog.Logger, error) {
	cfg, err := xray.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, err
	}

	if c.IsSet("debug") {
		cfg.Debug = c.Bool("debug")
	}
	if c.IsSet("nameserver") {
		cfg.DNS.Nameservers = c.StringSlice("nameserver")
	}
	if c.IsSet("spf") {
		cfg.SPF.Evaluator = c.String("spf")
	}
	if c.IsSet("listen") {
		cfg.Listen.Addr = c.String("listen")
	}
	if c.IsSet("hostname") {
		cfg.Listen.Hostname = c.String("hostname")
	}
	if c.IsSet("metrics") {
		cfg.Metrics.Addr = c.String("metrics")
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := xray.NewLogger(os.Stderr, cfg.Debug)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func serve(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}

	store, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tester := cfg.NewTester()
	tester.SetLogger(logger)
	tester.Metrics = xray.NewMetrics(reg)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", slog.String("addr", cfg.Metrics.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", slog.Any("error", err))
			}
		}()
		defer metricsSrv.Close()
	}

	srv := smtpd.NewServer(&smtpd.Backend{
		Tester:  tester,
		Store:   store,
		Timeout: cfg.DNS.Lifetime.Duration * 3,
		Logger:  logger,
	}, smtpd.Config{
		Addr:            cfg.Listen.Addr,
		Domain:          cfg.Listen.Hostname,
		ReadTimeout:     cfg.Listen.ReadTimeout.Duration,
		WriteTimeout:    cfg.Listen.WriteTimeout.Duration,
		MaxMessageBytes: cfg.Listen.MaxMessageBytes,
		MaxRecipients:   cfg.Listen.MaxRecipients,
	})

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	logger.Info("service started",
		slog.String("addr", cfg.Listen.Addr),
		slog.String("version", xray.Version),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		if err := srv.Close(); err != nil {
			return err
		}
		return nil
	case err := <-errc:
		if errors.Is(err, smtp.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func check(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("check needs exactly one message file", 2)
	}

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}

	data, err := readMessage(c.Args().First())
	if err != nil {
		return err
	}

	tester := cfg.NewTester()
	tester.SetLogger(logger)

	rep, err := tester.Generate(c.Context, xray.Envelope{
		MailFrom:   c.String("from"),
		Recipients: []string{c.String("to")},
		Data:       data,
	})
	if err != nil {
		return err
	}

	if c.Bool("save") {
		if err := save(c.Context, cfg, rep); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func readMessage(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name) // nolint: gosec
}

func save(ctx context.Context, cfg *xray.Config, rep *xray.Report) error {
	store, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()

	docs, err := rep.Documents()
	if err != nil {
		return err
	}
	_, err = store.Save(ctx, rep.SentTo, docs)
	return err
}
