package agent_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeScript writes an executable bash script to a temp dir and returns
// its path. Tests use scripts as stand-ins for real agent CLIs.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	script := "#!/usr/bin/env bash\n" + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// echoAgent behaves like an interactive agent CLI: for every input line it
// prints one response line followed by the end marker.
func echoAgent(t *testing.T) string {
	t.Helper()
	return writeScript(t, "echo-agent.sh", `
while IFS= read -r line; do
  echo "echo: $line"
  echo "###END###"
done
`)
}

// multiLineAgent responds to every input with a two-line answer.
func multiLineAgent(t *testing.T) string {
	t.Helper()
	return writeScript(t, "multi-agent.sh", `
while IFS= read -r line; do
  echo "first: $line"
  echo "second"
  echo "###END###"
done
`)
}

// slowEchoAgent responds like echoAgent but takes half a second per
// exchange.
func slowEchoAgent(t *testing.T) string {
	t.Helper()
	return writeScript(t, "slow-agent.sh", `
while IFS= read -r line; do
  sleep 0.5
  echo "echo: $line"
  echo "###END###"
done
`)
}

// hangingAgent reads one line and then produces no output.
func hangingAgent(t *testing.T) string {
	t.Helper()
	return writeScript(t, "hanging-agent.sh", `
IFS= read -r line
sleep 300
`)
}
