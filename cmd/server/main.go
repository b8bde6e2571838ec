// Command workspacesync-server runs the collaborative workspace sync
// core: one HTTP process upgrading client sockets to the sync-protocol
// Connector, backed by a shared per-workspace Replica/Hub and durable
// bbolt storage. Grounded on cuemby-warren/cmd/warren/main.go's cobra
// rootCmd/init()/persistent-flags/OnInitialize shape.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Polqt/workspacesync/internal/auth"
	"github.com/Polqt/workspacesync/internal/config"
	"github.com/Polqt/workspacesync/internal/connector"
	"github.com/Polqt/workspacesync/internal/hub"
	"github.com/Polqt/workspacesync/internal/logging"
	"github.com/Polqt/workspacesync/internal/metrics"
	"github.com/Polqt/workspacesync/internal/storage"
)

var (
	// Version is set at build time via -ldflags.
	Version = "dev"

	cfgFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "workspacesync-server",
	Short:   "Collaborative workspace CRDT sync server",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate("workspacesync-server {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:      logging.Level(cfg.Logging.Level),
		JSONOutput: cfg.Logging.JSONOutput,
	})
	log := logging.WithComponent("server")

	store, err := openStore(cfg.Storage.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	keyCtx, err := auth.NewKeyContext(cfg.Security.SignKey)
	if err != nil {
		return fmt.Errorf("init key context: %w", err)
	}

	registry := hub.NewRegistry()
	manager := connector.NewManager(store, registry, logging.WithComponent("manager"))
	userStore := allowAllUserStore{}

	mux := http.NewServeMux()
	mux.HandleFunc("/sync/", func(w http.ResponseWriter, r *http.Request) {
		serveSync(w, r, keyCtx, userStore, manager, logging.WithComponent("connector"))
	})
	mux.HandleFunc("/admin/workspaces/", func(w http.ResponseWriter, r *http.Request) {
		serveAdmin(w, r, manager, logging.WithComponent("admin"))
	})
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("sync server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info().Msg("sync server stopped")
	return nil
}

// openStore maps DATABASE_URL == "in-memory" onto a throwaway temp
// directory-backed bbolt file, since a BoltStore needs a real file but
// spec §6 names "in-memory" as the dev-mode default with no persistence
// guarantee across restarts.
func openStore(databaseURL string) (*storage.BoltStore, error) {
	if databaseURL == "" || databaseURL == "in-memory" {
		dir, err := os.MkdirTemp("", "workspacesync-")
		if err != nil {
			return nil, fmt.Errorf("create in-memory data dir: %w", err)
		}
		return storage.NewBoltStore(dir)
	}
	if err := os.MkdirAll(databaseURL, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", databaseURL, err)
	}
	return storage.NewBoltStore(databaseURL)
}

// serveSync upgrades the connection and drives a Connector for it. The
// route is "/sync/<workspace-id>?token=<opaque>" per spec §6.
func serveSync(w http.ResponseWriter, r *http.Request, keyCtx *auth.KeyContext, userStore auth.UserStore, manager *connector.Manager, logger zerolog.Logger) {
	workspaceID := strings.TrimPrefix(r.URL.Path, "/sync/")
	if workspaceID == "" {
		http.Error(w, "missing workspace id", http.StatusBadRequest)
		return
	}
	token := r.URL.Query().Get("token")

	transport, err := connector.Upgrade(w, r)
	if err != nil {
		logger.Warn().Err(err).Str("workspace_id", workspaceID).Msg("websocket upgrade failed")
		return
	}

	c := connector.New(transport, workspaceID, token, keyCtx, userStore, manager, logging.WithConnector(workspaceID, ""))
	c.Run(r.Context())
}

// serveAdmin exposes the operator-triggered teardown paths spec §4.6
// drives off CloseUser/CloseAll broadcasts:
//
//	POST /admin/workspaces/<workspace-id>/close          -> CloseAllEvent
//	POST /admin/workspaces/<workspace-id>/kick/<user-id> -> CloseUserEvent
//
// Neither route requires a body; an optional "reason" query parameter is
// forwarded to the connectors that close.
func serveAdmin(w http.ResponseWriter, r *http.Request, manager *connector.Manager, logger zerolog.Logger) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/admin/workspaces/")
	parts := strings.Split(rest, "/")
	reason := r.URL.Query().Get("reason")

	switch {
	case len(parts) == 2 && parts[1] == "close":
		workspaceID := parts[0]
		if reason == "" {
			reason = "closed by operator"
		}
		if !manager.CloseWorkspace(workspaceID, reason) {
			http.Error(w, "workspace has no active connections", http.StatusNotFound)
			return
		}
		logger.Info().Str("workspace_id", workspaceID).Msg("published CloseAllEvent")
		w.WriteHeader(http.StatusAccepted)

	case len(parts) == 3 && parts[1] == "kick":
		workspaceID, userID := parts[0], parts[2]
		if reason == "" {
			reason = "kicked by operator"
		}
		if !manager.KickUser(workspaceID, userID, reason) {
			http.Error(w, "workspace has no active connections", http.StatusNotFound)
			return
		}
		logger.Info().Str("workspace_id", workspaceID).Str("user_id", userID).Msg("published CloseUserEvent")
		w.WriteHeader(http.StatusAccepted)

	default:
		http.Error(w, "unknown admin route", http.StatusNotFound)
	}
}
