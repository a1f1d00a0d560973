package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsbench/internal/runner"
)

func TestWrongArgCountPrintsUsage(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	for _, args := range [][]string{{}, {"5"}, {"5", "3", "1"}} {
		root := newRootCmd(viper.New())
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs(args)

		err := root.Execute()
		assert.ErrorIs(t, err, errUsage)
		assert.Contains(t, out.String(), "numberOfConnections numberOfEmitPublishes")
	}
}

func TestBuildConfigDefaults(t *testing.T) {
	v := viper.New()
	newRootCmd(v)

	cfg, err := buildConfig(v, []string{"250", "4"})
	require.NoError(t, err)

	want := runner.DefaultConfig()
	want.Connections = 250
	want.MessagesPerRound = 4
	assert.Equal(t, want, cfg)
}

func TestBuildConfigRejectsBadCounts(t *testing.T) {
	v := viper.New()
	newRootCmd(v)

	_, err := buildConfig(v, []string{"many", "4"})
	assert.Error(t, err)

	_, err = buildConfig(v, []string{"0", "4"})
	assert.Error(t, err)
}

func TestConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dsbench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"event: otherEvnt\nwindow: 20\nconnect-timeout: 3s\nprobe: none\n"), 0o644))
	t.Setenv("DSBENCH_PER_ADDRESS", "500")

	v := viper.New()
	root := newRootCmd(v)
	require.NoError(t, root.Flags().Set("metrics-addr", ":9100"))
	require.NoError(t, initConfig(v, path))

	cfg, err := buildConfig(v, []string{"10", "2"})
	require.NoError(t, err)

	assert.Equal(t, "otherEvnt", cfg.EventName)
	assert.Equal(t, 20, cfg.Window)
	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, runner.ProbeNone, cfg.Probe)
	assert.Equal(t, 500, cfg.PerAddress)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
}

func TestMissingExplicitConfigFails(t *testing.T) {
	v := viper.New()
	newRootCmd(v)
	assert.Error(t, initConfig(v, filepath.Join(t.TempDir(), "nope.yaml")))
}
