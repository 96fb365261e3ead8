package main

import (
	"fmt"
	"os"

	"github.com/busybox42/postbox/internal/config"
	"github.com/busybox42/postbox/internal/crypto"
	"github.com/busybox42/postbox/internal/logging"
	"github.com/busybox42/postbox/internal/mail"
	"github.com/busybox42/postbox/internal/metrics"
	"github.com/busybox42/postbox/internal/render"
	"github.com/busybox42/postbox/internal/runner"
	"github.com/busybox42/postbox/internal/sender"
	"github.com/busybox42/postbox/internal/store"
)

// app holds the wired components shared by the CLI commands.
type app struct {
	cfg     *config.Config
	crypter mail.Crypter
	store   *store.Store
	sender  *sender.Sender
	runner  *runner.Runner
	metrics *metrics.Metrics
}

// newApp loads configuration and wires the component graph.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logging.Setup(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	var crypter mail.Crypter
	if cfg.Encryption.Enabled || cfg.Encryption.Secret != "" {
		enc, err := crypto.New(cfg.Encryption.Secret, cfg.Encryption.Salt)
		if err != nil {
			return nil, fmt.Errorf("initializing encryption: %w", err)
		}
		crypter = enc
	}

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, store.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: config.Duration(cfg.Database.ConnMaxLifetime, 0),
	})
	if err != nil {
		return nil, err
	}

	st := store.New(db, cfg.Database.Driver, store.Options{
		MaxAttempts: cfg.Queue.MaxAttempts,
		Limit:       cfg.Queue.Limit,
	}, crypter)

	transport := sender.NewSMTPTransport(sender.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		Timeout:  config.Duration(cfg.SMTP.Timeout, 0),
	})

	m := metrics.New()

	snd := sender.New(st, transport, sender.NewDiskSource(cfg.Queue.AttachmentRoot), cfg.Queue.MaxAttempts)
	snd.SetMetrics(m)

	run := runner.New(st, snd, runner.Config{
		Workers: cfg.Queue.Workers,
		Budget:  config.Duration(cfg.Queue.CycleBudget, 0),
	})
	run.SetMetrics(m)

	return &app{
		cfg:     cfg,
		crypter: crypter,
		store:   st,
		sender:  snd,
		runner:  run,
		metrics: m,
	}, nil
}

// close releases the database handle.
func (a *app) close() {
	_ = a.store.DB().Close()
}

// mailer builds the composer entry point used by the resend path and by
// embedding applications; the CLI itself only needs it for renderer checks.
func (a *app) mailer() *mail.Mailer {
	renderer := render.NewDirRenderer(a.cfg.Templates.Dir, a.cfg.Templates.Ext)

	m := mail.NewMailer(a.store, renderer, a.crypter, mail.Options{
		DefaultFrom: mail.Address{
			Address: a.cfg.SMTP.FromAddress,
			Name:    a.cfg.SMTP.FromName,
		},
		Encrypt:         a.cfg.Encryption.Enabled,
		TestingEnabled:  a.cfg.Testing.Enabled,
		TestingEmail:    a.cfg.Testing.Email,
		SendImmediately: a.cfg.Queue.SendImmediately,
	})
	m.SendNow = a.sender.Send
	return m
}
