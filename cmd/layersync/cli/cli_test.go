package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrainArc/LayerSync/config"
)

func execute(t *testing.T, root *cobra.Command, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestConfigGenerate(t *testing.T) {
	dir := t.TempDir()
	root := NewRootCommand(VersionInfo{Version: "test", Commit: "x"})
	root.AddCommand(NewConfigCommand())

	out := execute(t, root, "config", "generate", "--output", dir)
	assert.Contains(t, out, "Generated")

	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Defaults(), *cfg)

	root = NewRootCommand(VersionInfo{})
	root.AddCommand(NewConfigCommand())
	out = execute(t, root, "config", "generate", "--output", dir)
	assert.Contains(t, out, "Skipping")
}

func TestRootLoadsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("layer:\n  srid: 3879\n"), 0o644))

	var got *config.Config
	root := NewRootCommand(VersionInfo{})
	root.AddCommand(&cobra.Command{
		Use: "show",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			got, err = configFrom(cmd.Context())
			return err
		},
	})

	execute(t, root, "--config", path, "--log-level", "debug", "show")
	require.NotNil(t, got)
	assert.Equal(t, 3879, got.Layer.SRID)
	assert.Equal(t, "debug", got.Log.Level)
}
