package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joungwonlim/aegis-v3/internal/config"
	"github.com/joungwonlim/aegis-v3/internal/store"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "create the data directory and migrate the store schema without starting the service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			st, err := store.Open(filepath.Join(cfg.DataDir, "aegis.db"))
			if err != nil {
				return fmt.Errorf("initialize store: %w", err)
			}
			defer st.Close()
			fmt.Println("store initialized at", filepath.Join(cfg.DataDir, "aegis.db"))
			return nil
		},
	}
}
