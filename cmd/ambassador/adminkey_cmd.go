package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcp-ambassador/ambassador-go/internal/keys"
	"github.com/mcp-ambassador/ambassador-go/internal/logs"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

var (
	flagAdminKey      string
	flagRecoveryToken string
	flagConfirm       bool
)

func adminKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin-key",
		Short: "Manage the ambassador admin key",
	}

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Create the initial admin key (fails if one already exists)",
		RunE:  runAdminKeyGenerate,
	}

	recoverKey := &cobra.Command{
		Use:   "recover",
		Short: "Replace a lost admin key using the recovery token",
		RunE:  runAdminKeyRecover,
	}
	recoverKey.Flags().StringVar(&flagRecoveryToken, "recovery-token", "", "Current recovery token")
	_ = recoverKey.MarkFlagRequired("recovery-token")

	rotate := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the admin key and recovery token",
		RunE:  runAdminKeyRotate,
	}
	rotate.Flags().StringVar(&flagAdminKey, "admin-key", "", "Current admin key")
	rotate.Flags().StringVar(&flagRecoveryToken, "recovery-token", "", "Current recovery token")
	_ = rotate.MarkFlagRequired("admin-key")
	_ = rotate.MarkFlagRequired("recovery-token")

	reset := &cobra.Command{
		Use:   "factory-reset",
		Short: "Invalidate all admin keys and issue a fresh one",
		RunE:  runAdminKeyFactoryReset,
	}
	reset.Flags().BoolVar(&flagConfirm, "yes", false, "Confirm the reset; every existing admin key stops working")

	cmd.AddCommand(generate, recoverKey, rotate, reset)
	return cmd
}

// openAdminKeys opens the database the same way the server would and returns
// the admin-key service bound to it. The caller closes the store.
func openAdminKeys() (*keys.AdminKeyService, *storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logs.Setup(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	store, err := storage.Open(cfg.DataDir, logger)
	if err != nil {
		return nil, nil, err
	}
	return keys.NewAdminKeyService(store, cfg.DataDir, logger.Named("adminkeys")), store, nil
}

func printAdminPair(cmd *cobra.Command, res *keys.GenerateResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Store these now; they are shown exactly once.")
	fmt.Fprintf(out, "  Key id:         %s\n", res.KeyID)
	fmt.Fprintf(out, "  Admin key:      %s\n", res.AdminKey)
	fmt.Fprintf(out, "  Recovery token: %s\n", res.RecoveryToken)
}

func runAdminKeyGenerate(cmd *cobra.Command, _ []string) error {
	svc, store, err := openAdminKeys()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	res, err := svc.Generate(cmd.Context())
	if err != nil {
		return err
	}
	printAdminPair(cmd, res)
	return nil
}

func runAdminKeyRecover(cmd *cobra.Command, _ []string) error {
	svc, store, err := openAdminKeys()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	adminKey, err := svc.Recover(cmd.Context(), flagRecoveryToken, "local-cli")
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Store this now; it is shown exactly once.")
	fmt.Fprintf(out, "  Admin key: %s\n", adminKey)
	fmt.Fprintln(out, "The recovery token is unchanged.")
	return nil
}

func runAdminKeyRotate(cmd *cobra.Command, _ []string) error {
	svc, store, err := openAdminKeys()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	res, err := svc.Rotate(cmd.Context(), flagAdminKey, flagRecoveryToken)
	if err != nil {
		return err
	}
	printAdminPair(cmd, res)
	return nil
}

func runAdminKeyFactoryReset(cmd *cobra.Command, _ []string) error {
	if !flagConfirm {
		return fmt.Errorf("factory-reset invalidates every admin key; re-run with --yes to confirm")
	}
	svc, store, err := openAdminKeys()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	res, err := svc.FactoryReset(cmd.Context())
	if err != nil {
		return err
	}
	printAdminPair(cmd, res)
	return nil
}
