package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/shopkeep/shopsync/internal/auth"
	"github.com/shopkeep/shopsync/internal/store"
	"github.com/shopkeep/shopsync/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "account",
	Short:   "Sign in to a business on this device",
	Long: `Store the signed-in business and user for this device.

Sign-in itself happens in the backend's own flow; this command records its
result so 'sync', 'daemon' and the data commands know which business to use.
A running daemon picks up the change and re-syncs.

Without flags on a terminal, an interactive form asks for the values.

Examples:
  shopsync login --business biz_123 --user usr_9
  shopsync login --business biz_123 --user usr_9 --api-key KEY --store-key`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		businessID, _ := cmd.Flags().GetString("business")
		userID, _ := cmd.Flags().GetString("user")
		key, _ := cmd.Flags().GetString("api-key")
		storeKey, _ := cmd.Flags().GetBool("store-key")

		if businessID == "" || userID == "" {
			if !ui.IsTerminal(os.Stdin) {
				return fmt.Errorf("--business and --user are required when not running in a terminal")
			}
			if err := promptLogin(&businessID, &userID, &key, storeKey); err != nil {
				return err
			}
		}

		session := auth.Session{
			BusinessID: strings.TrimSpace(businessID),
			UserID:     strings.TrimSpace(userID),
			SignedIn:   true,
		}
		sessions := auth.NewFileProvider(cfg.SessionPath())
		if err := sessions.Save(session); err != nil {
			return err
		}

		if storeKey {
			if key == "" {
				return fmt.Errorf("--store-key needs an API key (--api-key or prompt)")
			}
			if err := auth.NewCredentials().SetAPIKey(cfg.Remote.URL, key); err != nil {
				return err
			}
		}

		if jsonOutput {
			return outputJSON(session)
		}
		fmt.Printf("%s Signed in to business %s as %s\n", ui.RenderPass("✓"), session.BusinessID, session.UserID)
		if storeKey {
			fmt.Printf("   API key stored in the OS keyring for %s\n", orDash(cfg.Remote.URL))
		}
		return nil
	},
}

func promptLogin(businessID, userID, key *string, askKey bool) error {
	required := func(field string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s is required", field)
			}
			return nil
		}
	}

	fields := []huh.Field{
		huh.NewInput().Title("Business ID").Value(businessID).Validate(required("business ID")),
		huh.NewInput().Title("User ID").Value(userID).Validate(required("user ID")),
	}
	if askKey && *key == "" {
		fields = append(fields, huh.NewInput().
			Title("API key").
			Description("Stored in the OS keyring").
			EchoMode(huh.EchoModePassword).
			Value(key))
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return fmt.Errorf("login cancelled")
		}
		return err
	}
	return nil
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "account",
	Short:   "Sign out on this device",
	Long: `Remove the stored session. Local data stays on disk under the business it
belongs to and is loaded again at the next login to the same business.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := auth.NewFileProvider(cfg.SessionPath()).Clear(); err != nil {
			return err
		}

		forgetKey, _ := cmd.Flags().GetBool("forget-key")
		if forgetKey {
			if err := auth.NewCredentials().DeleteAPIKey(cfg.Remote.URL); err != nil {
				return err
			}
		}

		fmt.Printf("%s Signed out\n", ui.RenderPass("✓"))
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	GroupID: "account",
	Short:   "Show the signed-in business and user",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		session, err := auth.NewFileProvider(cfg.SessionPath()).Load()
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(session)
		}
		if session.Tenant() == "" {
			fmt.Println(ui.RenderWarn("Not signed in"))
			return nil
		}
		fmt.Print(ui.KeyValues(
			[2]string{"Business", session.BusinessID},
			[2]string{"User", session.UserID},
			[2]string{"Since", session.UpdatedAt.Local().Format("2006-01-02 15:04:05")},
		))
		return nil
	},
}

var teamCmd = &cobra.Command{
	Use:     "team",
	GroupID: "account",
	Short:   "Show or change team sync settings",
	Long: `Show or change the team sync settings of this device.

Examples:
  shopsync team                                  # Show current settings
  shopsync team --enable --team-id t1 --role staff
  shopsync team --disable`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		ts, err := a.store.TeamSettings(ctx)
		if err != nil {
			return err
		}

		enable, _ := cmd.Flags().GetBool("enable")
		disable, _ := cmd.Flags().GetBool("disable")
		if enable && disable {
			return fmt.Errorf("--enable and --disable are mutually exclusive")
		}

		if enable || disable || cmd.Flags().Changed("team-id") || cmd.Flags().Changed("role") {
			if enable {
				ts.Enabled = true
			}
			if disable {
				ts.Enabled = false
			}
			if cmd.Flags().Changed("team-id") {
				ts.TeamID, _ = cmd.Flags().GetString("team-id")
			}
			if cmd.Flags().Changed("role") {
				ts.Role, _ = cmd.Flags().GetString("role")
			}
			if ts, err = a.store.SetTeamSettings(ctx, ts); err != nil {
				return err
			}
		}

		if jsonOutput {
			return outputJSON(ts)
		}
		printTeamSettings(ts)
		return nil
	},
}

func printTeamSettings(ts store.TeamSettings) {
	state := ui.RenderMuted("disabled")
	if ts.Enabled {
		state = ui.RenderPass("enabled")
	}
	updated := "never"
	if !ts.UpdatedAt.IsZero() {
		updated = ui.Age(ts.UpdatedAt, time.Now())
	}
	fmt.Print(ui.KeyValues(
		[2]string{"Team sync", state},
		[2]string{"Team", orDash(ts.TeamID)},
		[2]string{"Role", orDash(ts.Role)},
		[2]string{"Updated", updated},
	))
}

func init() {
	loginCmd.Flags().String("business", "", "Business ID to sign in to")
	loginCmd.Flags().String("user", "", "User ID")
	loginCmd.Flags().String("api-key", "", "Remote API key")
	loginCmd.Flags().Bool("store-key", false, "Save the API key in the OS keyring")

	logoutCmd.Flags().Bool("forget-key", false, "Also remove the API key from the OS keyring")

	teamCmd.Flags().Bool("enable", false, "Enable team sync")
	teamCmd.Flags().Bool("disable", false, "Disable team sync")
	teamCmd.Flags().String("team-id", "", "Team ID")
	teamCmd.Flags().String("role", "", "Role on the team (e.g. owner, staff)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(teamCmd)
}
