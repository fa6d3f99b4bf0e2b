package cli

import (
	"errors"

	"github.com/katalog/produk-server/app/auth"
	"github.com/katalog/produk-server/models"
	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage admin accounts",
}

var (
	adminUsername string
	adminPassword string
	adminCreate   bool
)

var setPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Rotate an admin password",
	Long:  "Replaces the password of an existing admin. With --create the account is added when missing.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(configPath)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		err = auth.SetPassword(ctx, a.admins, adminUsername, adminPassword)
		switch {
		case err == nil:
			cmd.Printf("Password updated for %q\n", adminUsername)
			return nil
		case errors.Is(err, models.ErrAdminNotFound) && adminCreate:
			hash, err := auth.HashPassword(adminPassword)
			if err != nil {
				return err
			}
			if _, err := a.admins.Create(ctx, adminUsername, hash); err != nil {
				return err
			}
			cmd.Printf("Created admin %q\n", adminUsername)
			return nil
		default:
			return err
		}
	},
}

func init() {
	setPasswordCmd.Flags().StringVarP(&adminUsername, "username", "u", "admin", "admin username")
	setPasswordCmd.Flags().StringVarP(&adminPassword, "password", "p", "", "new password")
	setPasswordCmd.Flags().BoolVar(&adminCreate, "create", false, "create the admin if it does not exist")
	_ = setPasswordCmd.MarkFlagRequired("password")

	adminCmd.AddCommand(setPasswordCmd)
	rootCmd.AddCommand(adminCmd)
}
