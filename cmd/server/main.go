package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/imanojprajapati/visitrack-v3-sub002/internal/config"
	"github.com/imanojprajapati/visitrack-v3-sub002/internal/logging"
	"github.com/imanojprajapati/visitrack-v3-sub002/internal/media"
)

var (
	cfg    config.Config
	logger logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "visitrack",
	Short: "Visitrack session and event media service",
	Long: `Visitrack backs the organizer dashboard: it issues cookie sessions for
organizers and stores event media (banners, badge templates) in the hosted
media store.`,
	SilenceUsage: true,
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func execute() error {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newAssetCommand())

	return rootCmd.Execute()
}

// initConfig loads .env when present, then the environment.
func initConfig() {
	_ = godotenv.Load()
	cfg = config.Load()
	logger = logging.New(logging.ParseLevel(cfg.LogLevel))
}

func newMediaClient(opts ...media.ClientOption) (*media.Client, error) {
	return media.NewClient(media.Config{
		CloudName:      cfg.Media.CloudName,
		APIKey:         cfg.Media.APIKey,
		APISecret:      cfg.Media.APISecret,
		BaseURL:        cfg.Media.BaseURL,
		AllowedFormats: cfg.Media.AllowedFormats,
		MaxUploadBytes: cfg.Media.MaxUploadBytes,
		Timeout:        cfg.Media.UploadTimeout,
		RetryAttempts:  cfg.Media.RetryAttempts,
	}, append([]media.ClientOption{media.WithLogger(logger)}, opts...)...)
}
