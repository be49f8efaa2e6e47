package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shopkeep/shopsync/internal/loadtest"
	"github.com/shopkeep/shopsync/internal/logging"
	"github.com/shopkeep/shopsync/internal/remote"
	"github.com/shopkeep/shopsync/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Simulate several devices editing and syncing one catalog",
	Long: `Simulate devices of one business editing the same products concurrently.

Every device has its own store and coordinator. The first device seeds the
catalog; then each device repeatedly edits a random product and syncs.
Finally all devices sync twice in turn and must hold identical products.

By default the devices share an in-memory backend. With --use-remote they
use the configured remote under a throwaway business id (loadtest-<uuid>).

Examples:
  # Default run (3 devices, 100 products, 10 writes per device)
  shopsync loadtest

  # Heavier run against the configured backend
  shopsync loadtest --devices 10 --products 1000 --writes 50 --use-remote

The command exits non-zero when the devices do not converge.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, _ := cmd.Flags().GetInt("devices")
		products, _ := cmd.Flags().GetInt("products")
		writes, _ := cmd.Flags().GetInt("writes")
		useRemote, _ := cmd.Flags().GetBool("use-remote")

		if devices <= 0 {
			return fmt.Errorf("--devices must be positive")
		}
		if products <= 0 {
			return fmt.Errorf("--products must be positive")
		}
		if writes < 0 {
			return fmt.Errorf("--writes must not be negative")
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		cfg := loadtest.Config{
			Devices:         devices,
			Products:        products,
			WritesPerDevice: writes,
		}
		if writes == 0 {
			cfg.WritesPerDevice = -1
		}

		target := "memory"
		if useRemote {
			appCfg, err := loadConfig()
			if err != nil {
				return err
			}
			logs := logging.NewFactory(appCfg.Log, verbose)
			defer logs.Close()

			gw, err := openGateway(ctx, appCfg, logs.New("remote"))
			if err != nil {
				return err
			}
			defer gw.Close()

			cfg.Gateway = gw
			cfg.BusinessID = "loadtest-" + uuid.NewString()
			cfg.Logger = logs.New("loadtest")
			target = appCfg.Remote.Kind
		} else {
			cfg.Gateway = remote.NewMemory(nil)
		}

		if !jsonOutput {
			fmt.Printf("Running load test: %d devices, %d products, %d writes/device (%s backend)\n\n",
				devices, products, writes, target)
		}

		report, err := loadtest.Run(ctx, cfg)
		if err != nil {
			return err
		}

		if jsonOutput {
			report.Cycles.Durations = nil
			if err := outputJSON(report); err != nil {
				return err
			}
		} else {
			report.Cycles.PrintStats(os.Stdout)
			fmt.Println()
			fmt.Print(ui.KeyValues(
				[2]string{"Writes", fmt.Sprint(report.Writes)},
				[2]string{"Settle pulled", fmt.Sprint(report.Pulled)},
				[2]string{"Settle pushed", fmt.Sprint(report.Pushed)},
				[2]string{"Elapsed", report.Elapsed.Round(time.Millisecond).String()},
			))
		}

		if !report.Converged {
			for _, m := range report.Mismatches {
				fmt.Fprintf(os.Stderr, "  %s %s\n", ui.RenderFail("✗"), m)
			}
			return fmt.Errorf("devices did not converge (%d mismatches)", len(report.Mismatches))
		}
		if !jsonOutput {
			fmt.Printf("\n%s All %d devices converged\n", ui.RenderPass("✓"), devices)
		}
		return nil
	},
}

func init() {
	loadtestCmd.Flags().Int("devices", 3, "Number of simulated devices")
	loadtestCmd.Flags().Int("products", 100, "Number of products to seed")
	loadtestCmd.Flags().Int("writes", 10, "Edit-and-sync rounds per device")
	loadtestCmd.Flags().Bool("use-remote", false, "Use the configured remote instead of an in-memory backend")

	rootCmd.AddCommand(loadtestCmd)
}
