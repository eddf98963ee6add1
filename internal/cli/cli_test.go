package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// demoDB creates a database seeded with the demo fixture.
func demoDB(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "valet.db")
	_, err := execute(t, "init", "--db", db)
	require.NoError(t, err)
	_, err = execute(t, "seed", "--db", db, "--at", "2026-03-14T22:00:00Z")
	require.NoError(t, err)
	return db
}

// decodeData decodes the data of a JSON CLIResponse.
func decodeData(t *testing.T, out string) (string, map[string]any) {
	t.Helper()
	var resp struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp.Status, resp.Data
}
