package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/funnyzak/mocktap/internal/config"
	"github.com/funnyzak/mocktap/internal/cookies"
	"github.com/funnyzak/mocktap/internal/forwarder"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/internal/printer"
	"github.com/funnyzak/mocktap/internal/project"
	"github.com/funnyzak/mocktap/internal/server"
	"github.com/funnyzak/mocktap/internal/storage"
	"github.com/funnyzak/mocktap/internal/web"
)

var serveCmd = &cobra.Command{
	Use:          "serve",
	Short:        "Start the mock servers of a project",
	SilenceUsage: true,
	RunE:         runServe,
}

func serveFlags(cmd *cobra.Command) {
	cmd.Flags().String("host", "", "Interface the mock servers bind to")
	cmd.Flags().Bool("web-enable", false, "Enable the admin API")
	cmd.Flags().Int("web-port", 0, "Admin API port")
	cmd.Flags().Bool("storage-enable", false, "Persist events to sqlite")
	cmd.Flags().String("storage-path", "", "Sqlite database path")
}

// engineOptions maps the configuration onto the options shared by every
// server engine
func engineOptions(cfg *config.Config) server.Options {
	rules := make([]cookies.Rule, 0, len(cfg.Cookies.DomainRules))
	for _, r := range cfg.Cookies.DomainRules {
		rules = append(rules, cookies.Rule{Match: r.Match, Replace: r.Replace})
	}
	rewrite := make([]forwarder.RewriteRuleOption, 0, len(cfg.Forward.PathStrategy.Rules))
	for _, r := range cfg.Forward.PathStrategy.Rules {
		rewrite = append(rewrite, forwarder.RewriteRuleOption{Name: r.Name, Match: r.Match, Replace: r.Replace, Regex: r.Regex})
	}

	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return server.Options{
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		FunctionTimeout: cfg.Server.FunctionTimeout,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Forward: forwarder.Options{
			Timeout:               seconds(cfg.Forward.Timeout),
			MaxConcurrent:         cfg.Forward.MaxConcurrent,
			MaxIdleConns:          cfg.Forward.MaxIdleConns,
			MaxIdleConnsPerHost:   cfg.Forward.MaxIdleConnsPerHost,
			MaxConnsPerHost:       cfg.Forward.MaxConnsPerHost,
			IdleConnTimeout:       seconds(cfg.Forward.IdleConnTimeout),
			ResponseHeaderTimeout: seconds(cfg.Forward.ResponseHeaderTimeout),
			TLSHandshakeTimeout:   seconds(cfg.Forward.TLSHandshakeTimeout),
			ExpectContinueTimeout: seconds(cfg.Forward.ExpectContinueTimeout),
			TLSInsecureSkipVerify: cfg.Forward.TLSInsecureSkipVerify,
			PathStrategy: forwarder.PathStrategyOptions{
				Mode:        cfg.Forward.PathStrategy.Mode,
				StripPrefix: cfg.Forward.PathStrategy.StripPrefix,
				Rules:       rewrite,
			},
			HeaderBlacklist: cfg.Forward.HeaderBlacklist,
			Cookies:         cookies.NewRewriter(rules),
		},
	}
}

// serverIDs returns the servers to start: the configured one, or all
func serverIDs(store *project.Store, projectID, only string) ([]string, error) {
	if only != "" {
		return []string{only}, nil
	}
	ids, err := store.ServerIDs(projectID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("project %q has no servers", projectID)
	}
	return ids, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.NewLogger(&cfg.Log, cfg.Output.Mode)

	proj, err := project.LoadFile(cfg.Project.File, cfg.Project.ID)
	if err != nil {
		return err
	}
	store := project.NewStore(proj)
	ids, err := serverIDs(store, proj.ID, cfg.Project.Server)
	if err != nil {
		return err
	}

	opts := engineOptions(cfg)
	if !cfg.Output.Silence {
		opts.Sinks.Printer = printer.New(cfg.Output.Mode, log)
	}
	if cfg.Storage.Enable {
		events, err := storage.New(&cfg.Storage, log)
		if err != nil {
			return fmt.Errorf("open event storage: %w", err)
		}
		defer events.Close()
		opts.Sinks.Store = events
	}

	var manager *server.Manager
	var admin *web.Service
	if cfg.Web.Enable {
		admin = web.NewService(&cfg.Web, log, opts.Sinks.Store, web.StatusFunc(func() []server.Status {
			return manager.Status()
		}))
		defer admin.Close()
		opts.Sinks.Recorder = admin
	}
	manager = server.NewManager(log, store, opts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, id := range ids {
		h, mountErrs, err := manager.StartServer(ctx, proj.ID, id, cfg.Server.Host)
		printMountErrors(id, mountErrs)
		if err != nil {
			_ = manager.CloseAll(context.Background())
			return fmt.Errorf("start server %s: %w", id, err)
		}
		log.Debug("Server handle ready", "server", id, "addr", h.Addr())
	}

	var adminSrv *http.Server
	if admin != nil {
		adminSrv = &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Web.Port)),
			Handler:           admin.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Admin API stopped", "error", err)
			}
		}()
	}

	printStartupBanner(cfg, manager.Status(), log)

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+time.Second)
	defer cancel()
	if adminSrv != nil {
		_ = adminSrv.Shutdown(shutdownCtx)
	}
	if err := manager.CloseAll(shutdownCtx); err != nil {
		log.Warn("Some servers did not stop gracefully", "error", err)
	}
	return nil
}

func printMountErrors(serverID string, errs []server.MountError) {
	if len(errs) == 0 {
		return
	}
	warn := color.New(color.FgYellow, color.Bold)
	warn.Printf("%d route group(s) of server %s failed to mount:\n", len(errs), serverID)
	for _, me := range errs {
		fmt.Printf("  - %s\n", me.Error())
	}
}
