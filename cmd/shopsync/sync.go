package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shopkeep/shopsync/internal/daemon"
	"github.com/shopkeep/shopsync/internal/dashboard"
	syncer "github.com/shopkeep/shopsync/internal/sync"
	"github.com/shopkeep/shopsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync cycle for the signed-in business",
	Long: `Load the local data of the signed-in business and run one sync cycle.

For every collection the cycle:
  1. Fetches all remote rows
  2. Merges them into the local store (newest updated_at wins)
  3. Pushes local records the remote does not have or has older
  4. Deletes remotely the records deleted on this device

A failing collection does not stop the others. The command exits non-zero
when any collection failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openSyncApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		session, err := a.sessions.Load()
		if err != nil {
			return err
		}
		if session.Tenant() == "" {
			return fmt.Errorf("not signed in (run 'shopsync login')")
		}

		if !jsonOutput {
			fmt.Printf("%s Syncing business %s...\n", ui.RenderAccent("→"), session.BusinessID)
		}

		// The first session on a fresh coordinator hydrates the store and
		// starts the cycle.
		if err := a.coord.SetSession(ctx, session); err != nil {
			return err
		}
		a.coord.Wait()

		result := a.coord.LastResult()
		if result == nil {
			return fmt.Errorf("sync was interrupted")
		}

		if jsonOutput {
			if err := outputJSON(result); err != nil {
				return err
			}
		} else {
			printCycleResult(result)
		}

		if result.Failed() {
			return fmt.Errorf("sync finished with errors: %w", result.Err())
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show the session and local collection state",
	Long: `Show who is signed in and, for each collection, how many records are
stored on this device, how many deletions wait to be pushed and when the
collection last changed. Does not contact the backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		session, err := a.sessions.Load()
		if err != nil {
			return err
		}
		if session.Tenant() != "" {
			if err := a.store.SwitchTenant(ctx, session.Tenant()); err != nil {
				return err
			}
		}
		stats := a.store.Stats()

		if jsonOutput {
			return outputJSON(map[string]any{
				"signed_in":   session.SignedIn,
				"business_id": session.BusinessID,
				"user_id":     session.UserID,
				"storage":     a.cfg.Storage,
				"remote":      a.cfg.Remote.Kind,
				"collections": stats,
			})
		}

		fmt.Printf("\n%s shopsync status\n\n", ui.RenderAccent("●"))
		signedIn := ui.RenderWarn("signed out")
		if session.Tenant() != "" {
			signedIn = ui.RenderPass("signed in")
		}
		fmt.Print(ui.KeyValues(
			[2]string{"Session", signedIn},
			[2]string{"Business", orDash(session.BusinessID)},
			[2]string{"User", orDash(session.UserID)},
			[2]string{"Storage", a.cfg.Storage},
			[2]string{"Remote", a.cfg.Remote.Kind},
		))
		if session.Tenant() == "" {
			fmt.Println()
			return nil
		}

		now := time.Now()
		rows := make([][]string, 0, len(stats))
		for _, s := range stats {
			rows = append(rows, []string{
				s.Name,
				strconv.Itoa(s.Records),
				strconv.Itoa(s.PendingDeletions),
				ui.Age(s.LastChange, now),
			})
		}
		fmt.Println()
		fmt.Println(ui.Table([]string{"COLLECTION", "RECORDS", "PENDING DELETES", "LAST CHANGE"}, rows))
		return nil
	},
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon in the foreground",
	Long: `Run shopsync in the foreground until interrupted.

The daemon will:
  1. Load the session and hydrate the local store
  2. Run a sync cycle when signed in
  3. Watch the session file and follow sign-in, sign-out and business changes
  4. Sync every --interval (0 disables periodic sync)
  5. Optionally serve the dashboard (--dashboard)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openSyncApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		interval := a.cfg.Sync.Interval
		if cmd.Flags().Changed("interval") {
			interval, _ = cmd.Flags().GetDuration("interval")
		}

		d, err := daemon.NewWithConfig(a.store, a.coord, a.sessions, &daemon.Config{
			Interval: interval,
			Logger:   a.logs.New("daemon"),
		})
		if err != nil {
			return err
		}

		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		if withDashboard {
			server, handler, err := startDashboard(a, a.cfg.Dashboard.Port)
			if err != nil {
				return err
			}
			defer func() {
				handler.Detach()
				_ = server.Stop()
			}()
			fmt.Printf("Dashboard: http://%s\n", server.GetAddr())
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("→"))
		fmt.Printf("   Session: %s\n", a.sessions.Path())
		fmt.Printf("   Storage: %s\n", a.cfg.Storage)
		fmt.Printf("   Remote: %s\n", a.cfg.Remote.Kind)
		if interval > 0 {
			fmt.Printf("   Interval: %v\n", interval)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("daemon stopped with error: %w", err)
		}
		return nil
	},
}

// startDashboard starts the dashboard server and attaches it to the app's
// store and coordinator.
func startDashboard(a *app, port int) (*dashboard.Server, *dashboard.Handler, error) {
	server := dashboard.NewServer(a.store, a.coord, &dashboard.Config{
		Port:     port,
		Gatherer: a.registry,
		Logger:   a.logs.New("dashboard"),
	})
	if err := server.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start dashboard: %w", err)
	}
	handler := dashboard.NewHandler(server, a.logs.New("dashboard"))
	handler.Attach()
	return server, handler, nil
}

func printCycleResult(r *syncer.CycleResult) {
	rows := make([][]string, 0, len(r.Collections))
	for _, c := range r.Collections {
		state := ui.RenderPass("ok")
		if c.Err != nil {
			state = ui.RenderFail(c.FailedOp + ": " + ui.Truncate(c.Err.Error(), 60))
		}
		rows = append(rows, []string{
			c.Collection,
			strconv.Itoa(c.Pulled),
			strconv.Itoa(c.Pushed),
			strconv.Itoa(c.Deleted),
			strconv.Itoa(c.Skipped + c.Rejected),
			c.Duration.Round(time.Millisecond).String(),
			state,
		})
	}
	fmt.Println(ui.Table([]string{"COLLECTION", "PULLED", "PUSHED", "DELETED", "SKIPPED", "TIME", "STATE"}, rows))

	pulled, pushed, deleted := r.Totals()
	mark := ui.RenderPass("✓")
	if r.Failed() {
		mark = ui.RenderFail("✗")
	}
	fmt.Printf("%s Sync %s in %v (%d pulled, %d pushed, %d deleted)\n",
		mark, ui.RenderStatus(string(r.Status())),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond), pulled, pushed, deleted)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	daemonCmd.Flags().Duration("interval", 0, "Periodic sync interval (default: sync.interval from config)")
	daemonCmd.Flags().Bool("dashboard", false, "Also serve the dashboard")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(daemonCmd)
}
