package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"portfolio-beacon/environment"
	"portfolio-beacon/logger"
	"portfolio-beacon/metrics"
	"portfolio-beacon/session"
)

const shutdownTimeout = 5 * time.Second

var configPath string

var rootCmd = &cobra.Command{
	Use:   "portfolio-beacon",
	Short: "Serves the portfolio site and records one visitor beacon per session",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the static site and track visitor sessions",
	RunE:  runServe,
}

var sendFlags struct {
	session string
	env     environment.Static
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Fire the beacon once with explicit page context",
	RunE:  runSend,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	f := sendCmd.Flags()
	f.StringVar(&sendFlags.session, "session", "cli", "session identifier used for the once-per-session gate")
	f.String("endpoint", "", "override the configured tracking endpoint; an empty value disables sending")
	f.StringVar(&sendFlags.env.URL, "page-url", "", "page URL, including any utm_* query parameters")
	f.StringVar(&sendFlags.env.Referer, "referrer", "", "referring URL")
	f.StringVar(&sendFlags.env.Agent, "user-agent", "", "browser user agent")
	f.StringVar(&sendFlags.env.Lang, "language", "", "language tag, e.g. en-US")
	f.StringVar(&sendFlags.env.Zone, "timezone", os.Getenv("TZ"), "IANA timezone name")
	f.StringVar(&sendFlags.env.ScreenSize, "screen", "", "screen size as <width>x<height>")
	f.StringVar(&sendFlags.env.PageTitle, "title", "", "page title (defaults to site.title)")
	f.StringVar(&sendFlags.env.IP, "ip", "", "visitor IP for the geolocation lookup (defaults to this machine)")

	rootCmd.AddCommand(serveCmd, sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := createLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, closeStore, err := newSessionStore(cmd.Context(), cfg, log)
	if err != nil {
		log.Error("Failed to create session store", logger.Error(err))
		return err
	}
	defer closeStore()

	reg := newRegistry()
	b := newBeacon(cfg, log, metrics.New(reg))

	server := NewServer(cfg, log, b, store, reg)
	if err := server.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
		return err
	}

	log.Info("Server exited properly")
	return nil
}

func runSend(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := createLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, closeStore, err := newSessionStore(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	endpoint := sendEndpoint(cmd, cfg.Tracking.Endpoint)

	env := sendFlags.env
	if env.PageTitle == "" {
		env.PageTitle = cfg.Site.Title
	}

	b := newBeacon(cfg, log, nil)
	sid := sendFlags.session
	b.Track(cmd.Context(), session.New(sid, session.Scoped(store, sid)), env, endpoint)
	return nil
}

// sendEndpoint returns the --endpoint flag when it was given, even if empty,
// and the configured endpoint otherwise.
func sendEndpoint(cmd *cobra.Command, configured string) string {
	if !cmd.Flags().Changed("endpoint") {
		return configured
	}
	endpoint, err := cmd.Flags().GetString("endpoint")
	if err != nil {
		return configured
	}
	return endpoint
}
