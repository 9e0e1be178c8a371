package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "msgnotify "+version)
}

func TestCheckConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: memory\n"), 0o600))

	out, err := execute(t, "check-config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "config ok")
	assert.Contains(t, out, "store:     memory")
	assert.Contains(t, out, "presenter: log")
}

func TestCheckConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: mongo\n"), 0o600))

	_, err := execute(t, "check-config", "--config", path)
	require.Error(t, err)
}

func TestCheckConfigMissingFile(t *testing.T) {
	_, err := execute(t, "check-config", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
