package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GrainArc/LayerSync/config"
)

type VersionInfo struct {
	Version string
	Commit  string
}

type configKey struct{}

func NewRootCommand(info VersionInfo) *cobra.Command {
	var (
		path     string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:           "layersync",
		Short:         "Shapefile layer synchronisation service",
		Long:          "Imports shapefile archives into PostGIS, publishes them through GeoServer and keeps the tile cache and picture buckets in step.",
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			cmd.SetContext(withConfig(cmd.Context(), cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&path, "config", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.Version = fmt.Sprintf("%s.%s", info.Version, info.Commit)

	return cmd
}
