package main

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDerive(t *testing.T) {
	out, err := execute(t, "derive", "str:vault")
	require.NoError(t, err)
	assert.Equal(t, "8giHtjSLX3XwwV8fUtSpUn9FuUSoTFHzaW4PR5jrpurR 255\n", out)

	out, err = execute(t, "derive")
	require.NoError(t, err)
	assert.Contains(t, out, "config    AqwejW49FgBss5iYAAASM6kwo4x8CmVk8SBoiziteFdR")
	assert.Contains(t, out, "state     5j6j1NTEpRVwyXfTGxzFBuu9J7tmxWAmLK2wJR1Jtffh")

	_, err = execute(t, "derive", "--program-id", "not-base58!")
	assert.Error(t, err)
}

func TestScenarioCommand(t *testing.T) {
	out, err := execute(t, "scenario", "game", "--profile", "lab1")
	require.NoError(t, err)
	assert.Contains(t, out, "scenario game (profile lab1)")
	assert.Contains(t, out, "exploited: yes")

	out, err = execute(t, "scenario", "game")
	require.NoError(t, err)
	assert.Contains(t, out, "exploited: no")

	_, err = execute(t, "scenario", "game", "--profile", "lab42")
	assert.Error(t, err)
	_, err = execute(t, "scenario", "nope")
	assert.Error(t, err)
}

func TestScenarioProfileFromEnv(t *testing.T) {
	t.Setenv("VAULTLAB_PROFILE", "lab3")
	out, err := execute(t, "scenario", "type-confusion")
	require.NoError(t, err)
	assert.Contains(t, out, "(profile lab3)")
	assert.Contains(t, out, "exploited: yes")

	out, err = execute(t, "scenario", "type-confusion", "--profile", "secure")
	require.NoError(t, err)
	assert.Contains(t, out, "exploited: no")
}

func TestScenarioList(t *testing.T) {
	out, err := execute(t, "scenario", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "forged-config")
	assert.Contains(t, out, "type-confusion")
	assert.Contains(t, out, "lab9")
	assert.Contains(t, out, "native")
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaultlab.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profile: lab9\n"), 0o600))

	out, err := execute(t, "--config", path, "scenario", "forged-config")
	require.NoError(t, err)
	assert.Contains(t, out, "exploited: yes")

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "derive")
	assert.Error(t, err)
}

// Configuration read by one command tree stays with it.
func TestCommandsDoNotShareConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaultlab.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profile: lab9\nlog-level: debug\n"), 0o600))

	out, err := execute(t, "--config", path, "scenario", "forged-config")
	require.NoError(t, err)
	assert.Contains(t, out, "(profile lab9)")

	out, err = execute(t, "scenario", "forged-config")
	require.NoError(t, err)
	assert.Contains(t, out, "(profile secure)")
	assert.Contains(t, out, "exploited: no")
}

func TestConcurrentCommands(t *testing.T) {
	profiles := []string{"secure", "lab1", "lab3", "lab9", "all"}
	outs := make([]string, len(profiles))
	errs := make([]error, len(profiles))

	var wg sync.WaitGroup
	for i, p := range profiles {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			cmd := newRootCmd()
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetErr(&out)
			cmd.SetArgs([]string{"--log-level", "error", "scenario", "game", "--profile", p})
			errs[i] = cmd.Execute()
			outs[i] = out.String()
		}(i, p)
	}
	wg.Wait()

	for i, p := range profiles {
		require.NoError(t, errs[i], p)
		assert.Contains(t, outs[i], "scenario game (profile "+p+")")
	}
}

func TestPersistentLedger(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "ledger")
	j := filepath.Join(dir, "journal.db")
	snap := filepath.Join(dir, "ledger.snap")

	_, err := execute(t, "--db", db, "--journal", j, "scenario", "freeze")
	require.NoError(t, err)

	out, err := execute(t, "--journal", j, "journal", "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "7 entries ok")

	out, err = execute(t, "--journal", j, "journal", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "program is frozen")

	// The ledger is in use now, so a second scenario is refused.
	_, err = execute(t, "--db", db, "scenario", "welcome")
	assert.Error(t, err)

	out, err = execute(t, "--db", db, "snapshot", "create", snap)
	require.NoError(t, err)
	created := out

	out, err = execute(t, "--db", filepath.Join(dir, "restored"), "snapshot", "load", snap)
	require.NoError(t, err)
	assert.Equal(t, created, out)

	_, err = execute(t, "snapshot", "create", snap)
	assert.Error(t, err)
	_, err = execute(t, "journal", "verify")
	assert.Error(t, err)
}
