//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TestConfig holds configuration for integration tests
type TestConfig struct {
	BinaryPath string
	Verbose    bool
}

// LoadTestConfig loads configuration from environment variables
func LoadTestConfig() *TestConfig {
	return &TestConfig{
		BinaryPath: getBinaryPath(),
		Verbose:    os.Getenv("CLOUDAPI_TEST_VERBOSE") == "true",
	}
}

// getBinaryPath determines the path to the cloudapi binary
func getBinaryPath() string {
	if path := os.Getenv("CLOUDAPI_BINARY_PATH"); path != "" {
		return path
	}

	candidates := []string{
		"../../cloudapi",
		"./cloudapi",
		"../cloudapi",
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "cloudapi"
}

// SkipIfMissingBinary skips the test if the CLI has not been built
func (config *TestConfig) SkipIfMissingBinary(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath(config.BinaryPath); err != nil {
		t.Skipf("cloudapi binary not found at %s, skipping integration test", config.BinaryPath)
	}
}

// CommandRunner runs cloudapi commands with an isolated home directory
type CommandRunner struct {
	config *TestConfig
	t      *testing.T
	home   string
}

// NewCommandRunner creates a new command runner
func NewCommandRunner(config *TestConfig, t *testing.T) *CommandRunner {
	t.Helper()

	return &CommandRunner{
		config: config,
		t:      t,
		home:   t.TempDir(),
	}
}

// Run executes a cloudapi command and returns output
func (runner *CommandRunner) Run(args ...string) (string, string, error) {
	return runner.RunWithInput("", args...)
}

// RunWithInput executes a cloudapi command with stdin input
func (runner *CommandRunner) RunWithInput(input string, args ...string) (string, string, error) {
	cmd := exec.Command(runner.config.BinaryPath, args...) //nolint:gosec
	cmd.Env = append(os.Environ(), "HOME="+runner.home)
	cmd.Stdin = strings.NewReader(input)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if runner.config.Verbose {
		runner.t.Logf("Running: %s %s", runner.config.BinaryPath, strings.Join(args, " "))
	}

	err := cmd.Run()
	stdout, stderr := stdoutBuf.String(), stderrBuf.String()

	if runner.config.Verbose && err != nil {
		runner.t.Logf("Command failed: %v\nStdout: %s\nStderr: %s", err, stdout, stderr)
	}

	return stdout, stderr, err
}

// ConfigFile returns the path of the runner's config file
func (runner *CommandRunner) ConfigFile() string {
	return filepath.Join(runner.home, ".cloudapi", "config.yml")
}

// WritePatternFile writes a pattern file into the runner's home
func (runner *CommandRunner) WritePatternFile(content string) string {
	runner.t.Helper()

	path := filepath.Join(runner.home, "patterns.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		runner.t.Fatalf("failed to write pattern file: %v", err)
	}

	return path
}

// DecodeJSONOutput decodes command output as JSON
func DecodeJSONOutput(t *testing.T, output string) map[string]any {
	t.Helper()

	var decoded map[string]any
	if err := json.Unmarshal([]byte(output), &decoded); err != nil {
		t.Fatalf("Output does not appear to be JSON: %v\n%s", err, output)
	}

	return decoded
}

// AssertYAMLOutput verifies command output looks like YAML
func AssertYAMLOutput(t *testing.T, output string) {
	t.Helper()

	output = strings.TrimSpace(output)
	if strings.Contains(output, "---") || strings.Contains(output, ":") {
		return
	}

	t.Errorf("Output does not appear to be YAML: %s", output)
}
