package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/bubbletalk/internal/app"
	"github.com/MrWong99/bubbletalk/internal/config"
	"github.com/MrWong99/bubbletalk/internal/linestore"
	"github.com/MrWong99/bubbletalk/pkg/dialogue"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <lines-file>",
		Short: "Lint a dialogue line file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := linestore.NewFileStore(args[0])
			if err != nil {
				return err
			}
			lines, err := store.Lines(cmd.Context())
			if err != nil {
				return err
			}
			issues := dialogue.Check(lines)
			out := cmd.OutOrStdout()
			for _, is := range issues {
				fmt.Fprintln(out, is)
			}
			idx := dialogue.BuildIndex(lines)
			fmt.Fprintf(out, "%d lines, %d speakers, %d issues\n", len(lines), len(idx.Speakers()), len(issues))
			if len(issues) > 0 {
				return fmt.Errorf("%s has %d issues", args[0], len(issues))
			}
			return nil
		},
	}
}

func newImportCmd() *cobra.Command {
	var (
		kind  string
		dest  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "import <lines-file>",
		Short: "Replace the contents of a line store with a line file",
		Long: "Reads a YAML, JSON or CSV line file and replaces every line in the destination " +
			"store. For postgres the destination is a DSN and defaults to $" + config.EnvPostgresDSN + ".",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, err := linestore.NewFileStore(args[0])
			if err != nil {
				return err
			}
			lines, err := src.Lines(ctx)
			if err != nil {
				return err
			}
			if issues := dialogue.Check(lines); len(issues) > 0 {
				for _, is := range issues {
					fmt.Fprintln(cmd.ErrOrStderr(), is)
				}
				if !force {
					return fmt.Errorf("%s has %d issues, use --force to import anyway", args[0], len(issues))
				}
			}

			storeCfg := config.StoreConfig{Kind: config.StoreKind(kind), Path: dest}
			if storeCfg.Kind == config.StorePostgres {
				storeCfg.PostgresDSN = dest
				if storeCfg.PostgresDSN == "" {
					storeCfg.PostgresDSN = os.Getenv(config.EnvPostgresDSN)
				}
				if storeCfg.PostgresDSN == "" {
					return errors.New("postgres import needs --dest or $" + config.EnvPostgresDSN)
				}
			} else if dest == "" {
				return errors.New("--dest is required")
			}

			store, closeStore, err := app.OpenStore(ctx, storeCfg)
			if err != nil {
				return err
			}
			defer closeStore()
			if err := store.ReplaceAll(ctx, lines); err != nil {
				return fmt.Errorf("import into %s store: %w", kind, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d lines into %s store\n", len(lines), kind)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "to", string(config.StoreSQLite), "destination store kind: file, sqlite or postgres")
	cmd.Flags().StringVar(&dest, "dest", "", "destination path, or DSN for postgres")
	cmd.Flags().BoolVar(&force, "force", false, "import even when the file has lint issues")
	return cmd
}
