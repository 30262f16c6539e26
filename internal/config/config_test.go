package config

import (
	"os"
	"path/filepath"
	"testing"

	"dispensecore/internal/archive"
	"dispensecore/internal/planner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchPlanner(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	v, err := NewViper("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	opts, err := cfg.PlannerOptions()
	require.NoError(t, err)
	want := planner.DefaultOptions()
	assert.Equal(t, want.Pipette, opts.Pipette)
	assert.Equal(t, want.DisposalVolume, opts.DisposalVolume)
	assert.Equal(t, want.Policy, opts.Policy)
	assert.Equal(t, want.MixBefore, opts.MixBefore)
	assert.Equal(t, want.BlowOut, opts.BlowOut)
	assert.Equal(t, want.FlowRateFraction, opts.FlowRateFraction)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "fs", cfg.Archive.Driver)

	deck, err := cfg.LoadDeck()
	require.NoError(t, err)
	_, err = deck.Resolve("Source 1")
	require.NoError(t, err)
}

func TestFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispensecore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
pipette:
  model: p1000_single_gen2
distribute:
  disposal_volume: 20
  policy: strict
  blow_out: trash
archive:
  driver: s3
  s3:
    bucket: runs
    path_style: true
`), 0o600))
	t.Setenv("DISPENSECORE_STORAGE_DRIVER", "memory")
	t.Setenv("DISPENSECORE_DISTRIBUTE_DISPOSAL_VOLUME", "10")

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 10.0, cfg.Distribute.DisposalVolume)

	opts, err := cfg.PlannerOptions()
	require.NoError(t, err)
	assert.Equal(t, 1000.0, opts.Pipette.MaxVolume)
	assert.Equal(t, planner.PolicyStrict, opts.Policy)
	assert.Equal(t, planner.BlowOutTrash, opts.BlowOut)

	ac := cfg.ArchiveOptions()
	assert.Equal(t, archive.Config{Driver: "s3", Root: cfg.Archive.Root, S3: archive.S3Config{Bucket: "runs", PathStyle: true}}, ac)
}

func TestExplicitConfigFileMustExist(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "loud"
	cfg.Pipette.Model = "p5"
	cfg.Distribute.DisposalVolume = -1
	cfg.Distribute.Policy = "maybe"
	cfg.Distribute.BlowOut = "floor"
	cfg.Distribute.FlowRateFraction = 2
	cfg.Distribute.DispenseOffset = -5
	cfg.Storage.Driver = "bolt"
	cfg.Archive.Driver = "s3"
	cfg.Metrics.Namespace = " "

	errs := cfg.Validate()
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{
		"logging.level",
		"pipette.model",
		"distribute.disposal_volume",
		"distribute.policy",
		"distribute.blow_out",
		"distribute.dispense_offset",
		"distribute.flow_rate_fraction",
		"storage.driver",
		"archive.s3.bucket",
		"metrics.namespace",
	}, fields)

	msg := ValidationErrors(errs).Error()
	assert.Contains(t, msg, "10 validation errors")
	assert.Contains(t, msg, "storage.driver")
}

func TestValidateLogLevelMessageListsAcceptedLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "dpanic", "panic", "fatal"} {
		cfg := Default()
		cfg.Logging.Level = level
		assert.Empty(t, cfg.validateLogging(), level)
	}
	cfg := Default()
	cfg.Logging.Level = "trace"
	errs := cfg.validateLogging()
	require.Len(t, errs, 1)
	for _, level := range []string{"dpanic", "panic", "fatal"} {
		assert.Contains(t, errs[0].Message, level)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DISPENSECORE_DISTRIBUTE_POLICY", "never")
	v, err := NewViper("")
	require.NoError(t, err)
	_, err = Load(v)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 1)
	assert.Equal(t, "distribute.policy", verrs[0].Field)
}
