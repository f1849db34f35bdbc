/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/qrpass/apiserver/internal/db"
	"github.com/qrpass/apiserver/internal/store"
	"github.com/qrpass/apiserver/types"
)

var (
	grantLogin string
	grantRole  string
)

// rolesCmd represents the roles command.
var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Manage user roles",
}

var rolesGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant a role to a user",
	Long: `Grants a role to an active user, creating the role if needed.
The user must log in again for the role to appear in their token.

	apiserver roles grant --login alice@example.com --role Admin
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := loadConfig()
		ctx := cmd.Context()

		login := strings.TrimSpace(grantLogin)
		role := strings.TrimSpace(grantRole)
		if login == "" || role == "" {
			return oops.Errorf("--login and --role are required")
		}

		dbConn, err := db.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer dbConn.Close()

		users := store.NewUserRepository(dbConn)
		matches, err := users.FindActiveUsersByLogin(ctx, strings.ToLower(login), login)
		if err != nil {
			return err
		}
		if len(matches) != 1 {
			return oops.With("login", login, "matches", len(matches)).Errorf("no unique active user for %q", login)
		}

		user := matches[0]
		if err := users.AssignRole(ctx, user.ID, role, time.Now()); err != nil {
			return err
		}
		logger.Info("role granted", "user_id", user.ID.String(), "role", role)
		fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s (%s)\n", role, user.Username, user.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rolesCmd)
	rolesCmd.AddCommand(rolesGrantCmd)
	rolesGrantCmd.Flags().StringVar(&grantLogin, "login", "", "email or username of the user")
	rolesGrantCmd.Flags().StringVar(&grantRole, "role", types.RoleAdmin, "role name")
}
