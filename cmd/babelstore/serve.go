package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	babelstorage "github.com/Sonael/Babel-Storage"
	"github.com/Sonael/Babel-Storage/pkg/catalog"
	"github.com/Sonael/Babel-Storage/pkg/dashboard"
	"github.com/Sonael/Babel-Storage/pkg/logging"
	"github.com/Sonael/Babel-Storage/pkg/progress"
)

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".babelstore"
	}
	return filepath.Join(home, ".babelstore")
}

func newServeCommand() *cobra.Command {
	var port uint16
	var dataDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local web dashboard",
		Args:  requireArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			fc, err := babelstorage.LoadFileConfig(configPath)
			if err != nil {
				return err
			}
			if dataDir == "" {
				dataDir = fc.DataDir
			}
			if dataDir == "" {
				dataDir = defaultDataDir()
			}
			if port == 0 {
				port = fc.DashboardPort
			}

			log := logging.Default()
			tracker := progress.NewTracker()
			store := babelstorage.New(fc.Apply(babelstorage.Config{
				Logger:   log,
				Progress: tracker,
			}))

			cat, err := catalog.Open(catalog.Config{
				Path:          filepath.Join(dataDir, "catalog"),
				MinimumFreeGB: fc.MinimumFreeGB,
				Logger:        log,
			})
			if err != nil {
				return err
			}
			defer cat.Close()

			d, err := dashboard.New(dashboard.Config{
				Enabled:       true,
				PreferredPort: port,
				Store:         store,
				Catalog:       cat,
				Tracker:       tracker,
				Logger:        log,
			})
			if err != nil {
				return err
			}

			ctx, cancel := operationContext()
			defer cancel()

			if err := d.Start(ctx); err != nil {
				return err
			}
			fmt.Printf("dashboard listening at %s (ctrl-c to stop)\n", d.Address())

			<-ctx.Done()
			return d.Stop(context.Background())
		},
	}
	cmd.Flags().Uint16Var(&port, "port", 0, "preferred dashboard port")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "catalog data directory")
	return cmd
}
