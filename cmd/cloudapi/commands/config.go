package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fivetwenty-io/cloudapi/internal/constants"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

const credentialPrefix = "credentials."

// Config represents the CLI configuration.
type Config struct {
	Endpoint     string            `json:"endpoint,omitempty"      yaml:"endpoint,omitempty"`
	Output       string            `json:"output,omitempty"        yaml:"output,omitempty"`
	PatternFiles []string          `json:"pattern_files,omitempty" yaml:"pattern_files,omitempty"`
	Credentials  map[string]string `json:"credentials,omitempty"   yaml:"credentials,omitempty"`

	// Pipeline settings
	RetryCount int    `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"  yaml:"user_agent,omitempty"`
	CAFile     string `json:"ca_file,omitempty"     yaml:"ca_file,omitempty"`
	Cache      bool   `json:"cache"                 yaml:"cache"`

	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// StorageConfig selects where cache records are kept.
type StorageConfig struct {
	Type    string `json:"type,omitempty"     yaml:"type,omitempty"`
	NATSURL string `json:"nats_url,omitempty" yaml:"nats_url,omitempty"`
	Bucket  string `json:"bucket,omitempty"   yaml:"bucket,omitempty"`
}

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  "Manage the endpoint, credentials, pattern files and pipeline settings used by the CLI",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigSetCommand())
	cmd.AddCommand(newConfigUnsetCommand())
	cmd.AddCommand(newConfigSetCredentialCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the current CLI configuration with credentials masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()
			masked := *config
			masked.Credentials = maskCredentials(config.Credentials)

			format, err := outputFormat()
			if err != nil {
				return err
			}

			if format != constants.FormatTable {
				return encode(cmd.OutOrStdout(), format, masked)
			}

			return displayConfigTable(cmd.OutOrStdout(), &masked)
		},
	}
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Long: `Set a configuration value. Supported keys: endpoint, output, pattern_files
(comma separated), retry_count, user_agent, ca_file, cache, storage.type
(memory, nats, chain or none), storage.nats_url, storage.bucket and
credentials.NAME.`,
		Args: cobra.ExactArgs(2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()

			err := setConfigValue(config, args[0], args[1])
			if err != nil {
				return err
			}

			err = saveConfigStruct(config)
			if err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			value := args[1]
			if strings.HasPrefix(args[0], credentialPrefix) {
				value = maskValue(value)
			}

			return outputConfigUpdateResult(cmd.OutOrStdout(), "Set", args[0], value)
		},
	}
}

func newConfigUnsetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unset KEY",
		Short: "Unset a configuration value",
		Long:  "Reset a configuration value to its default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()

			err := unsetConfigValue(config, args[0])
			if err != nil {
				return err
			}

			err = saveConfigStruct(config)
			if err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			return outputConfigUpdateResult(cmd.OutOrStdout(), "Unset", args[0], "")
		},
	}
}

func newConfigSetCredentialCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-credential NAME",
		Short: "Store a credential read from the terminal",
		Long:  "Prompt for a credential value without echoing it and store it in the configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), args[0])
			if err != nil {
				return err
			}

			config := loadConfig()

			err = setConfigValue(config, credentialPrefix+args[0], value)
			if err != nil {
				return err
			}

			err = saveConfigStruct(config)
			if err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			return outputConfigUpdateResult(cmd.OutOrStdout(), "Set", credentialPrefix+args[0], maskValue(value))
		},
	}
}

// readSecret reads a secret without echo from a terminal, or a single line
// from any other input.
func readSecret(in io.Reader, prompt io.Writer, name string) (string, error) {
	if file, ok := in.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		_, _ = fmt.Fprintf(prompt, "%s: ", name)

		secret, err := term.ReadPassword(int(file.Fd()))

		_, _ = fmt.Fprintln(prompt)

		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}

		return strings.TrimSpace(string(secret)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%w: %s is empty", constants.ErrInvalidArgument, name)
	}

	return line, nil
}

func loadConfig() *Config {
	return &Config{
		Endpoint:     viper.GetString("endpoint"),
		Output:       viper.GetString("output"),
		PatternFiles: viper.GetStringSlice("pattern_files"),
		Credentials:  viper.GetStringMapString("credentials"),
		RetryCount:   viper.GetInt("retry_count"),
		UserAgent:    viper.GetString("user_agent"),
		CAFile:       viper.GetString("ca_file"),
		Cache:        viper.GetBool("cache"),
		Storage: StorageConfig{
			Type:    viper.GetString("storage.type"),
			NATSURL: viper.GetString("storage.nats_url"),
			Bucket:  viper.GetString("storage.bucket"),
		},
	}
}

func configFilePath() (string, error) {
	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		return configFile, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".cloudapi")

	err = os.MkdirAll(configDir, constants.ConfigDirPerm)
	if err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return filepath.Join(configDir, "config.yml"), nil
}

func saveConfigStruct(config *Config) error {
	configFile, err := configFilePath()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	err = os.WriteFile(configFile, data, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setConfigValue sets a configuration value by key.
func setConfigValue(config *Config, key, value string) error {
	if name, ok := strings.CutPrefix(key, credentialPrefix); ok && name != "" {
		if config.Credentials == nil {
			config.Credentials = make(map[string]string)
		}

		config.Credentials[name] = value

		return nil
	}

	switch key {
	case "endpoint":
		config.Endpoint = value
	case "output":
		if !isOutputFormat(value) {
			return fmt.Errorf("%w: %s", constants.ErrInvalidOutputFormat, value)
		}

		config.Output = value
	case "pattern_files":
		config.PatternFiles = splitList(value)
	case "retry_count":
		count, err := strconv.Atoi(value)
		if err != nil || count < 0 {
			return fmt.Errorf("%w: retry_count must be a non-negative integer", constants.ErrInvalidArgument)
		}

		config.RetryCount = count
	case "user_agent":
		config.UserAgent = value
	case "ca_file":
		config.CAFile = value
	case "cache":
		config.Cache = parseBoolValue(value)
	case "storage.type":
		config.Storage.Type = value
	case "storage.nats_url":
		config.Storage.NATSURL = value
	case "storage.bucket":
		config.Storage.Bucket = value
	default:
		return fmt.Errorf("%w: %s", constants.ErrUnknownConfigKey, key)
	}

	return nil
}

// unsetConfigValue resets a configuration value by key.
func unsetConfigValue(config *Config, key string) error {
	if name, ok := strings.CutPrefix(key, credentialPrefix); ok && name != "" {
		delete(config.Credentials, name)

		return nil
	}

	switch key {
	case "endpoint":
		config.Endpoint = ""
	case "output":
		config.Output = ""
	case "pattern_files":
		config.PatternFiles = nil
	case "retry_count":
		config.RetryCount = 0
	case "user_agent":
		config.UserAgent = ""
	case "ca_file":
		config.CAFile = ""
	case "cache":
		config.Cache = false
	case "storage.type":
		config.Storage.Type = ""
	case "storage.nats_url":
		config.Storage.NATSURL = ""
	case "storage.bucket":
		config.Storage.Bucket = ""
	default:
		return fmt.Errorf("%w: %s", constants.ErrUnknownConfigKey, key)
	}

	return nil
}

func parseBoolValue(value string) bool {
	parsed, err := strconv.ParseBool(value)

	return err == nil && parsed
}

func splitList(value string) []string {
	var result []string

	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}

	return result
}

func maskCredentials(credentials map[string]string) map[string]string {
	if len(credentials) == 0 {
		return nil
	}

	masked := make(map[string]string, len(credentials))
	for name, value := range credentials {
		masked[name] = maskValue(value)
	}

	return masked
}

func maskValue(value string) string {
	const visible = 4

	if len(value) <= visible {
		return "****"
	}

	return value[:visible] + "****"
}

func displayConfigTable(out io.Writer, config *Config) error {
	table := tablewriter.NewWriter(out)
	table.Header("Property", "Value")

	rows := [][]string{
		{"Endpoint", formatConfigValue(config.Endpoint)},
		{"Output", formatConfigValue(config.Output)},
		{"Pattern Files", formatConfigValue(strings.Join(config.PatternFiles, "\n"))},
		{"Retry Count", formatConfigValue(retryCountValue(config.RetryCount))},
		{"User Agent", formatConfigValue(config.UserAgent)},
		{"CA File", formatConfigValue(config.CAFile)},
		{"Cache", strconv.FormatBool(config.Cache)},
		{"Storage", formatConfigValue(config.Storage.Type)},
	}

	if config.Storage.NATSURL != "" {
		rows = append(rows, []string{"NATS URL", config.Storage.NATSURL})
	}

	if config.Storage.Bucket != "" {
		rows = append(rows, []string{"Bucket", config.Storage.Bucket})
	}

	names := make([]string, 0, len(config.Credentials))
	for name := range config.Credentials {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		rows = append(rows, []string{"Credential " + name, config.Credentials[name]})
	}

	for _, row := range rows {
		err := table.Append(row)
		if err != nil {
			return fmt.Errorf("failed to append config row: %w", err)
		}
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

func retryCountValue(count int) string {
	if count == 0 {
		return ""
	}

	return strconv.Itoa(count)
}

func formatConfigValue(value string) string {
	if value == "" {
		return "(not set)"
	}

	return value
}

func outputConfigUpdateResult(out io.Writer, action, key, value string) error {
	result := map[string]string{
		"action": action,
		"key":    key,
	}

	if value != "" {
		result["value"] = value
	}

	format, err := outputFormat()
	if err != nil {
		return err
	}

	if format != constants.FormatTable {
		return encode(out, format, result)
	}

	table := tablewriter.NewWriter(out)
	table.Header("Property", "Value")

	_ = table.Append([]string{"Action", action})
	_ = table.Append([]string{"Key", key})

	if value != "" {
		_ = table.Append([]string{"Value", value})
	}

	err = table.Render()
	if err != nil {
		return fmt.Errorf("failed to render update results table: %w", err)
	}

	return nil
}
