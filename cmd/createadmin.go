package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/achievetrack/apiserver/config"
	"github.com/achievetrack/apiserver/internal/db"
	"github.com/achievetrack/apiserver/internal/services"
	"github.com/achievetrack/apiserver/internal/store"
	"github.com/achievetrack/apiserver/types"
	"github.com/spf13/cobra"
)

var adminInput types.NewUser

// createAdminCmd bootstraps an admin account. Admins cannot self-register.
var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an admin account",
	Long: `Create an admin account. The password is read from ADMIN_PASSWORD
when --password is not given. Usage:

	achievetrack create-admin --name "Dean" --username dean --email dean@vignan.ac.in
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := newLogger(cfg.Log)

		if adminInput.Password == "" {
			adminInput.Password = os.Getenv("ADMIN_PASSWORD")
		}

		dbConn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer dbConn.Close()

		users := services.NewUserService(store.NewUserRepository(dbConn), services.NewValidator(), cfg.Auth.InstitutionEmailDomain)
		admin, err := users.CreateAdmin(cmd.Context(), adminInput)
		if err != nil {
			return fmt.Errorf("create admin: %w", err)
		}

		logger.Info("admin created", slog.Int("id", admin.ID), slog.String("username", admin.Username))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createAdminCmd)

	createAdminCmd.Flags().StringVar(&adminInput.Name, "name", "", "display name")
	createAdminCmd.Flags().StringVar(&adminInput.Username, "username", "", "login name")
	createAdminCmd.Flags().StringVar(&adminInput.Email, "email", "", "email address")
	createAdminCmd.Flags().StringVar(&adminInput.Password, "password", "", "password (defaults to $ADMIN_PASSWORD)")
	_ = createAdminCmd.MarkFlagRequired("username")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("name")
}
