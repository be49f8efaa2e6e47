package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Start the real-time WebSocket dashboard",
	Long: `Start a dashboard server for observing the local store and sync cycles.

The server broadcasts updates to connected WebSocket clients:
- record_update: A record was written, deleted or merged from the backend
- sync_status: The coordinator changed status (syncing, synced, error, idle)
- stats: Per-collection record and pending deletion counts

HTTP endpoints:
  GET  /health                        Liveness check
  GET  /metrics                       Prometheus metrics
  GET  /api/status                    Session, status, last cycle and stats
  GET  /api/collections/{collection}  Records, optionally ?since=<RFC3339>
  POST /api/sync                      Start a sync cycle

Example usage:
  shopsync dashboard                 # Start on the configured port (8090)
  shopsync dashboard --port 9000     # Start on a custom port

The dashboard binds to 127.0.0.1. Use 'shopsync daemon --dashboard' to also
follow session changes and sync on an interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openSyncApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		port := a.cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		server, handler, err := startDashboard(a, port)
		if err != nil {
			return err
		}

		a.store.Start(ctx)
		session, err := a.sessions.Load()
		if err != nil {
			return err
		}
		if err := a.coord.SetSession(ctx, session); err != nil {
			return err
		}

		addr := server.GetAddr()
		fmt.Printf("Dashboard server started on http://%s\n", addr)
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", addr)
		fmt.Printf("Health check: http://%s/health\n", addr)
		if session.Tenant() == "" {
			fmt.Println("Not signed in: collections are empty until 'shopsync login'")
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		handler.Detach()
		if err := server.Stop(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
		fmt.Println("Dashboard server stopped")
		return nil
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8090, "Port to listen on")

	rootCmd.AddCommand(dashboardCmd)
}
