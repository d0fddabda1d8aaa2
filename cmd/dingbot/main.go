package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memohai/dingbot/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "dingbot",
		Short: "DingTalk Stream-mode robot bridge",
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "path to the toml config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the stream listeners and the admin API",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
