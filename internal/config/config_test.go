package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/memoryd/internal/modegate"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"), zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverlaysRecognizedKeysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memoryd.env")
	contents := "MEMORYD_DATA_ROOT=/var/lib/memoryd\n" +
		"MEMORYD_MODE=narrative\n" +
		"MEMORYD_EMBED_DIM=1536\n" +
		"MEMORYD_DEDUP_JACCARD=0.8\n" +
		"MEMORYD_VECTOR_LITE=true\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "/var/lib/memoryd", cfg.DataRoot)
	require.Equal(t, modegate.ModeNarrative, cfg.Mode)
	require.Equal(t, 1536, cfg.EmbedDim)
	require.Equal(t, 0.8, cfg.DedupJaccardThreshold)
	require.True(t, cfg.VectorLite)

	// Untouched keys keep their default values.
	require.Equal(t, Default().DedupSemanticHigh, cfg.DedupSemanticHigh)
}

func TestLoadForeshadowingOverrideIsNilUnlessSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memoryd.env")
	require.NoError(t, os.WriteFile(path, []byte("MEMORYD_DATA_ROOT=/tmp/x\n"), 0o644))

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	require.Nil(t, cfg.ForeshadowingOverride)

	path2 := filepath.Join(dir, "memoryd2.env")
	require.NoError(t, os.WriteFile(path2, []byte("MEMORYD_FORESHADOWING_ENABLED=true\n"), 0o644))
	cfg2, err := Load(path2, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, cfg2.ForeshadowingOverride)
	require.True(t, *cfg2.ForeshadowingOverride)
}

func TestLoadLayeredRetrievalFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memoryd.env")
	require.NoError(t, os.WriteFile(path, []byte("MEMORYD_LAYERED_RETRIEVAL=true\n"), 0o644))

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	require.True(t, cfg.LayeredRetrieval)
}

func TestLoadIgnoresUnrecognizedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memoryd.env")
	require.NoError(t, os.WriteFile(path, []byte("SOME_OTHER_APPS_VAR=hello\n"), 0o644))

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadSkipsMalformedIntegerAndKeepsDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memoryd.env")
	require.NoError(t, os.WriteFile(path, []byte("MEMORYD_EMBED_DIM=not-a-number\n"), 0o644))

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, Default().EmbedDim, cfg.EmbedDim)
}

func TestLoadContradictionStrategyKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memoryd.env")
	require.NoError(t, os.WriteFile(path, []byte("MEMORYD_CONTRADICTION_STRATEGY=supersede\n"), 0o644))

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "supersede", cfg.ContradictionStrategy)
	require.Equal(t, "auto", Default().ContradictionStrategy)
}

func TestTemplateNamesEveryRecognizedKey(t *testing.T) {
	tpl := Template()
	for key := range recognizedKeys {
		require.Contains(t, tpl, key)
	}

	// The template itself must load cleanly with no unrecognized keys.
	dir := t.TempDir()
	path := filepath.Join(dir, "memoryd.env")
	require.NoError(t, os.WriteFile(path, []byte(tpl), 0o644))
	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "./memoryd-data", cfg.DataRoot)
}
