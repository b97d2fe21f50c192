package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mlreg/internal/app"
	"mlreg/internal/config"
	"mlreg/pkg/telemetry"
	"mlreg/services/admin"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "registryctl",
		Short:         "Operator utility for the mlreg artifact registry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newSeedAdminCommand())
	cmd.AddCommand(newDebugAuthCommand())
	cmd.AddCommand(newCleanupTokensCommand())
	cmd.AddCommand(newAuditCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newSnapshotCommand())
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openStores loads configuration from the environment and connects the
// configured storage backend.
func openStores(ctx context.Context) (config.Config, *app.Stores, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger := telemetry.NewLogger("registryctl", cfg.LogLevel, "console")
	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, stores, nil
}

func newSeedAdminCommand() *cobra.Command {
	var (
		name     string
		password string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create the administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, stores, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			if name == "" {
				name = cfg.ResetAdminName
			}
			if password == "" {
				password = cfg.ResetAdminPassword
			}
			return admin.SeedAdmin(ctx, admin.SeedConfig{
				Store:      stores.Credentials,
				Name:       name,
				Password:   password,
				BcryptCost: cfg.BcryptCost,
				Force:      force,
				Stdout:     cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Admin user name (defaults to RESET_ADMIN_NAME)")
	cmd.Flags().StringVar(&password, "password", "", "Admin password (defaults to RESET_ADMIN_PASSWORD)")
	cmd.Flags().BoolVar(&force, "force", false, "Replace the password of an existing user")
	return cmd
}

func newDebugAuthCommand() *cobra.Command {
	var (
		name     string
		password string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "debug-auth",
		Short: "Inspect a stored account and optionally check a password",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			_, stores, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			report, err := admin.DebugAuth(ctx, stores.Credentials, name, password)
			if err != nil {
				return err
			}
			return admin.Write(cmd.OutOrStdout(), output, report)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "User name")
	cmd.Flags().StringVar(&password, "password", "", "Password to check against the stored hash")
	cmd.Flags().StringVarP(&output, "output", "o", admin.FormatYAML, "Output format (yaml or json)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newCleanupTokensCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-tokens",
		Short: "Delete expired token records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			_, stores, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			_, err = admin.CleanupTokens(ctx, stores.Credentials, cmd.OutOrStdout())
			return err
		},
	}
}

func newAuditCommand() *cobra.Command {
	var (
		user   string
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the most recent authentication events for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			_, stores, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			return admin.Audit(ctx, stores.Credentials, user, limit, output, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User name")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of entries")
	cmd.Flags().StringVarP(&output, "output", "o", admin.FormatYAML, "Output format (yaml or json)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newGetCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get TYPE ID",
		Short: "Print a stored artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			_, stores, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			return admin.GetArtifact(ctx, stores.Artifacts, args[0], args[1], output, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", admin.FormatYAML, "Output format (yaml or json)")
	return cmd
}

func newSnapshotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Artifact snapshot export and inspection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newSnapshotCreateCommand())
	cmd.AddCommand(newSnapshotInspectCommand())
	return cmd
}

func newSnapshotCreateCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Write every stored artifact to a tar.zst archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			_, stores, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			_, err = admin.Snapshot(ctx, admin.SnapshotConfig{
				Store:  stores.Artifacts,
				Output: output,
				Stdout: cmd.OutOrStdout(),
			})
			return err
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Destination snapshot file (tar.zst)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newSnapshotInspectCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Verify a snapshot archive and print its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, _, err := admin.ReadSnapshot(args[0])
			if err != nil {
				return err
			}
			return admin.Write(cmd.OutOrStdout(), output, manifest)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", admin.FormatYAML, "Output format (yaml or json)")
	return cmd
}
