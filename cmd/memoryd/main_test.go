package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := fmt.Sprintf("MEMORYD_DATA_ROOT=%s\nMEMORYD_VECTOR_LITE=true\n", filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAddSearchAndStatsRoundTripThroughTheCLI(t *testing.T) {
	cfgPath := writeTestConfig(t)
	baseArgs := []string{"--config", cfgPath, "--user", "alice", "--session", "s1"}

	addOut := capturePrint(t, func() {
		rootCmd.SetArgs(append(append([]string{}, baseArgs...), "add", "Gandalf warned Frodo about the ring."))
		require.NoError(t, rootCmd.Execute())
	})
	require.Contains(t, addOut, "added ")

	searchOut := capturePrint(t, func() {
		rootCmd.SetArgs(append(append([]string{}, baseArgs...), "search", "Gandalf ring"))
		require.NoError(t, rootCmd.Execute())
	})
	require.Contains(t, searchOut, "score")

	statsOut := capturePrint(t, func() {
		rootCmd.SetArgs(append(append([]string{}, baseArgs...), "stats"))
		require.NoError(t, rootCmd.Execute())
	})
	require.Contains(t, statsOut, "records: 1")
}

// capturePrint redirects os.Stdout for the duration of fn, since the CLI's
// RunE handlers print with fmt.Printf rather than cmd.OutOrStdout.
func capturePrint(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	require.NoError(t, w.Close())
	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	return buf.String()
}

func TestEntityListAndGetReflectIngestedContent(t *testing.T) {
	cfgPath := writeTestConfig(t)
	baseArgs := []string{"--config", cfgPath, "--user", "bob", "--session", "s1"}

	capturePrint(t, func() {
		rootCmd.SetArgs(append(append([]string{}, baseArgs...), "add", "Alice knows Bob."))
		require.NoError(t, rootCmd.Execute())
	})

	listOut := capturePrint(t, func() {
		rootCmd.SetArgs(append(append([]string{}, baseArgs...), "entity", "list"))
		require.NoError(t, rootCmd.Execute())
	})
	require.Contains(t, listOut, "Alice")

	getOut := capturePrint(t, func() {
		rootCmd.SetArgs(append(append([]string{}, baseArgs...), "entity", "get", "Alice"))
		require.NoError(t, rootCmd.Execute())
	})
	require.Contains(t, getOut, "label: Alice")
}

func TestEntityGetUnknownLabelReturnsError(t *testing.T) {
	cfgPath := writeTestConfig(t)
	rootCmd.SetArgs([]string{"--config", cfgPath, "--user", "carol", "--session", "s1", "entity", "get", "Nobody"})
	err := rootCmd.Execute()
	require.Error(t, err)
}

func TestInitWritesTheDefaultTemplateOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")

	out := capturePrint(t, func() {
		rootCmd.SetArgs([]string{"--config", path, "init"})
		require.NoError(t, rootCmd.Execute())
	})
	require.Contains(t, out, "wrote ")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "MEMORYD_MODE=general")

	rootCmd.SetArgs([]string{"--config", path, "init"})
	require.Error(t, rootCmd.Execute())
}

func TestListGetAndDeleteRoundTripThroughTheCLI(t *testing.T) {
	cfgPath := writeTestConfig(t)
	baseArgs := []string{"--config", cfgPath, "--user", "dave", "--session", "s1"}

	addOut := capturePrint(t, func() {
		rootCmd.SetArgs(append(append([]string{}, baseArgs...), "add", "a note about the northern lighthouse"))
		require.NoError(t, rootCmd.Execute())
	})
	id := strings.TrimSpace(strings.TrimPrefix(strings.SplitN(addOut, "\n", 2)[0], "added "))
	require.NotEmpty(t, id)

	listOut := capturePrint(t, func() {
		rootCmd.SetArgs(append(append([]string{}, baseArgs...), "list"))
		require.NoError(t, rootCmd.Execute())
	})
	require.Contains(t, listOut, id)

	getOut := capturePrint(t, func() {
		rootCmd.SetArgs(append(append([]string{}, baseArgs...), "get", id))
		require.NoError(t, rootCmd.Execute())
	})
	require.Contains(t, getOut, "northern lighthouse")

	capturePrint(t, func() {
		rootCmd.SetArgs(append(append([]string{}, baseArgs...), "delete", id))
		require.NoError(t, rootCmd.Execute())
	})

	rootCmd.SetArgs(append(append([]string{}, baseArgs...), "get", id))
	require.Error(t, rootCmd.Execute())
}

func TestForeshadowCommandsReportDisabledOutsideNarrativeMode(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out := capturePrint(t, func() {
		rootCmd.SetArgs([]string{"--config", cfgPath, "foreshadow", "list"})
		require.NoError(t, rootCmd.Execute())
	})
	require.Contains(t, out, "disabled")
}
