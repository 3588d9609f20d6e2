package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestAccountsAndAudit_OnFreshDatabase(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	db := filepath.Join(t.TempDir(), "chronos.db")

	out, err := run(t, "accounts", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "boveda_monte")
	assert.Contains(t, out, "utilidades")

	out, err = run(t, "audit", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "capital total 0.00")
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("RETRY_MAX_ATTEMPTS", "0")

	_, err := run(t, "audit", "--db", ":memory:")

	assert.Error(t, err)
}
