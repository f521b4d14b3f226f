package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"github.com/brian14708/awg-warden/access"
	"github.com/brian14708/awg-warden/awg"
	"github.com/brian14708/awg-warden/confgen"
	"github.com/brian14708/awg-warden/config"
	"github.com/brian14708/awg-warden/logger"
	"github.com/brian14708/awg-warden/monitor"
	"github.com/brian14708/awg-warden/nat"
	"github.com/brian14708/awg-warden/provision"
	"github.com/brian14708/awg-warden/registry"
	"github.com/brian14708/awg-warden/syncer"
	"github.com/brian14708/awg-warden/traffic"
)

var (
	flagConfigPath  = flag.String("config", "", "path to config file")
	flagDBPath      = flag.String("db", "warden.db", "path to client registry database")
	flagHistoryPath = flag.String("history-db", "history.db", "path to traffic history database")
	flagEnvPath     = flag.String("env", "", "path to env file, default tries ./.env")
)

func main() {
	flag.Parse()

	if *flagEnvPath != "" {
		if err := godotenv.Load(*flagEnvPath); err != nil {
			slog.Error("loading env file", "path", *flagEnvPath, "error", err)
			os.Exit(1)
		}
	} else {
		_ = godotenv.Load()
	}

	log := logger.New(os.Stdout, slog.LevelInfo)
	cfg, err := config.Load(*flagConfigPath, log)
	if err != nil {
		log.Error("loading config", "error", err)
		os.Exit(1)
	}
	log = logger.New(os.Stdout, logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := &awg.ExecRunner{Timeout: cfg.CommandTimeout()}
	iface := awg.New(cfg.Interface, runner, logger.WithComponent(log, "awg"))

	if cfg.ServerPublicKey == "" {
		pub, err := iface.PublicKey(ctx, cfg.ServerPrivateKey)
		if err != nil {
			log.Error("deriving server public key", "error", err)
			os.Exit(1)
		}
		cfg.ServerPublicKey = pub
	}

	reg, err := registry.Open(*flagDBPath, cfg.Subnet)
	if err != nil {
		log.Error("opening registry", "path", *flagDBPath, "error", err)
		os.Exit(1)
	}
	defer reg.Close()

	hist, err := traffic.New(*flagHistoryPath)
	if err != nil {
		log.Error("opening traffic history", "path", *flagHistoryPath, "error", err)
		os.Exit(1)
	}
	defer hist.Close()

	sync := syncer.New(syncer.Options{
		Registry:  reg,
		History:   hist,
		Interface: iface,
		Server: confgen.ServerParams{
			PrivateKey:   cfg.ServerPrivateKey,
			Address:      cfg.ServerAddress(),
			ListenPort:   cfg.Port,
			NATInterface: cfg.NATInterface,
			Obfuscation:  cfg.Obfuscation,
		},
		ConfigPath: cfg.ConfigPath,
		Interval:   cfg.StatsInterval(),
		Log:        logger.WithComponent(log, "syncer"),
	})

	prov := provision.New(provision.Options{
		Registry:        reg,
		History:         hist,
		Keys:            iface,
		Syncer:          sync,
		ServerPublicKey: cfg.ServerPublicKey,
		Host:            cfg.Host,
		Port:            cfg.Port,
		DNS:             cfg.DNS,
		Description:     cfg.LinkDescription,
		Obfuscation:     cfg.Obfuscation,
		Log:             logger.WithComponent(log, "provision"),
	})

	if cfg.ManageFirewall {
		if err := nat.Ensure(cfg.Interface, cfg.NATInterface); err != nil {
			log.Error("firewall setup failed", "error", err)
		} else {
			defer func() {
				if err := nat.Teardown(cfg.Interface, cfg.NATInterface); err != nil {
					log.Warn("firewall teardown failed", "error", err)
				}
			}()
		}
	}

	// converge once at startup; the interface may have drifted while
	// the daemon was down
	if err := sync.FullSync(ctx); err != nil {
		log.Error("initial sync failed, continuing", "error", err)
	}

	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		sync.Run(ctx)
	}()

	var guard *access.Guard
	if len(cfg.AdminIDs) > 0 {
		guard = access.NewGuard(cfg.AdminIDs, time.Second, 0)
		log.Info("api guard enabled", "admins", len(cfg.AdminIDs))
	}

	api := &apiServer{
		cfg:   cfg,
		prov:  prov,
		reg:   reg,
		iface: iface,
		mon:   monitor.New(monitor.Config{}),
		guard: guard,
		log:   logger.WithComponent(log, "api"),
	}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	api.handlers(app)

	go func() {
		log.Info("api listening", "addr", cfg.APIAddr)
		if err := app.Listen(cfg.APIAddr); err != nil {
			log.Error("api server exited", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	if err := app.Shutdown(); err != nil {
		log.Warn("api shutdown", "error", err)
	}
	<-collectorDone
}
