package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shardvault/internal/manifest"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	require.NoError(t, rootCmd.ExecuteContext(t.Context()), "shardvault %s", strings.Join(args, " "))
	return out.String()
}

func TestPutGetThroughCLI(t *testing.T) {
	dir := t.TempDir()
	common := []string{"--data-dir", dir, "--backend", "files", "--redundancy", "rs:2:1", "--log-level", "error"}

	run(t, "", append([]string{"fund", "lane-a", "16"}, common...)...)

	out := run(t, "hello from stdin", append([]string{"put", "lane-a", "-"}, common...)...)
	var receipt manifest.Receipt
	require.NoError(t, json.Unmarshal([]byte(out), &receipt), "decoding receipt")
	require.Equal(t, "lane-a", receipt.Lane, "receipt lane")

	hash := receipt.ManifestHash.String()
	payload := filepath.Join(dir, "payload.out")
	run(t, "", append([]string{"get", hash, "-o", payload}, common...)...)
	outputFile = ""
	written, err := os.ReadFile(payload)
	require.NoError(t, err, "reading output file")
	require.Equal(t, "hello from stdin", string(written), "output file")

	got := run(t, "", append([]string{"get", hash}, common...)...)
	require.Equal(t, "hello from stdin", got, "payload")

	out = run(t, "", append([]string{"balances"}, common...)...)
	require.Contains(t, out, `"amount": 15`, "one KiB spent")

	out = run(t, "", append([]string{"sweep"}, common...)...)
	require.Contains(t, out, `"removed": 0`, "nothing to sweep")

	out = run(t, "", append([]string{"repair", hash}, common...)...)
	require.Contains(t, out, `"rebuilt": 0`, "intact object needs no repair")
}
