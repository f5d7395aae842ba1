package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"procodus.dev/alertnav/internal/store"
)

var assignUserCmd = &cobra.Command{
	Use:   "assign-user",
	Short: "Give every unowned reading to a user",
	Long: `Ensure the user exists (creating it and recording a login if needed),
then assign every reading without an owner to that user and report how many
readings were assigned and how many the user now owns.`,
	Example: "  alertnav assign-user --email driver@example.com",
	RunE:    runAssignUser,
}

func init() {
	rootCmd.AddCommand(assignUserCmd)

	addDBFlags(assignUserCmd)
	assignUserCmd.Flags().String("email", "", "email of the user receiving the readings (required)")
	_ = assignUserCmd.MarkFlagRequired("email")

	assignUserCmd.PreRunE = bindFlags(dbFlagBindings)
}

func runAssignUser(cmd *cobra.Command, _ []string) error {
	logger := GetLogger()

	email, err := cmd.Flags().GetString("email")
	if err != nil {
		return err
	}
	email = store.NormalizeEmail(email)
	if email == "" {
		return errors.New("email cannot be empty")
	}

	dbCfg := dbConfig(logger)
	db, err := store.NewDB(&dbCfg)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		return err
	}
	defer func() {
		if err := store.CloseDB(db, logger); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	ctx := cmd.Context()

	users := store.NewUserStore(db, nil)
	readings := store.NewReadingStore(db, nil)

	user, err := users.UpsertLogin(ctx, email)
	if err != nil {
		return err
	}
	logger.Info("user ready", "email", user.Email, "id", user.ID)

	unowned, err := readings.CountUnowned(ctx)
	if err != nil {
		return err
	}
	logger.Info("found unowned readings", "count", unowned)

	assigned, err := readings.AssignUnowned(ctx, user.Email)
	if err != nil {
		return err
	}

	total, err := readings.CountByOwner(ctx, user.Email)
	if err != nil {
		return err
	}

	logger.Info("assigned readings", "email", user.Email, "assigned", assigned, "total", total)
	fmt.Fprintf(cmd.OutOrStdout(), "assigned %d readings to %s (%d total)\n", assigned, user.Email, total)
	return nil
}
