package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vkchatbot/vkchatbot/internal/config"
	"github.com/vkchatbot/vkchatbot/internal/db"
	"github.com/vkchatbot/vkchatbot/internal/logger"
)

func main() {
	root := &cobra.Command{
		Use:   "vkchatbot",
		Short: "VK community chat bot",
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the bot and its HTTP surface",
		Run: func(_ *cobra.Command, _ []string) {
			runServe()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)
			return db.Migrate(cfg.Postgres)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
