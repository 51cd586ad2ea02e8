package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dhcgn/mbox-finetune/classify"
	"github.com/dhcgn/mbox-finetune/corpus"
)

const (
	envRecipient = "MBOX_FINETUNE_RECIPIENT"
	envModelURL  = "MBOX_FINETUNE_MODEL_URL"
	envModel     = "MBOX_FINETUNE_MODEL"
	envAPIKey    = "OPENAI_API_KEY"
)

// Logging holds the flags shared by every command.
type Logging struct {
	LogLevel  string
	LogFormat string
	LogDir    string
}

// Config captures all command-line options required to build the corpus.
type Config struct {
	Logging
	MboxPath       string
	OutputPath     string
	Format         corpus.Format
	DatasetCSV     string
	QuarantinePath string
	Strict         bool
	RulesPath      string
	Rules          classify.Options
}

// PredictConfig captures the options of the predict command.
type PredictConfig struct {
	Logging
	ModelURL  string
	Model     string
	APIKey    string
	MaxTokens int
}

// RegisterLoggingFlags attaches the logging flags shared by all subcommands.
func RegisterLoggingFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-format", "text", "Log format: text, json, pretty")
	flags.String("log-dir", "", "Directory for log files (logs are also written to stdout)")
	flags.String("env-file", ".env", "Optional dotenv file loaded before reading environment variables")
}

// RegisterFlags attaches the corpus build flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("mbox", "", "Path to the .mbox archive (Gmail Takeout)")
	flags.StringP("output", "o", "finetune-emails.txt", "Output path of the finetune corpus (overwritten)")
	flags.String("format", string(corpus.FormatText), "Corpus format: text, jsonl")
	flags.StringArray("recipient", nil, "Delivered-To address to keep, repeatable (falls back to "+envRecipient+" env var)")
	flags.String("rules", "", "YAML file overriding the labeling rules")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to raw message headers")
	flags.String("dataset-csv", "", "Optional CSV path for the per-sender engagement table")
	flags.String("quarantine", "", "Optional mbox path collecting messages that failed extraction")
	flags.Bool("strict", true, "Abort on the first malformed Category or Date instead of skipping")

	return cmd.MarkFlagRequired("mbox")
}

// RegisterPredictFlags attaches the inference flags to the provided command.
func RegisterPredictFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("model-url", "", "Base URL of the OpenAI compatible endpoint (falls back to "+envModelURL+")")
	flags.String("model", "mistral-7b-it-emails", "Model name served by the endpoint (falls back to "+envModel+")")
	flags.String("api-key", "", "API key (falls back to "+envAPIKey+" env var)")
	flags.Int("max-tokens", 512, "Maximum number of completion tokens")
}

// LoadDotEnv loads the dotenv file named by --env-file. A missing file is not an error.
func LoadDotEnv(cmd *cobra.Command) error {
	path, err := cmd.Flags().GetString("env-file")
	if err != nil || path == "" {
		return err
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadLogging reads and validates the logging flags.
func LoadLogging(cmd *cobra.Command) (Logging, error) {
	flags := cmd.Flags()

	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Logging{}, err
	}
	logFormat, err := flags.GetString("log-format")
	if err != nil {
		return Logging{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Logging{}, err
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	l := Logging{
		LogLevel:  logLevel,
		LogFormat: strings.ToLower(logFormat),
		LogDir:    logDir,
	}
	if err := validateLogging(l); err != nil {
		return Logging{}, err
	}
	return l, nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	logging, err := LoadLogging(cmd)
	if err != nil {
		return Config{}, err
	}

	flags := cmd.Flags()

	mboxPath, err := flags.GetString("mbox")
	if err != nil {
		return Config{}, err
	}
	outputPath, err := flags.GetString("output")
	if err != nil {
		return Config{}, err
	}
	format, err := flags.GetString("format")
	if err != nil {
		return Config{}, err
	}
	recipients, err := flags.GetStringArray("recipient")
	if err != nil {
		return Config{}, err
	}
	rulesPath, err := flags.GetString("rules")
	if err != nil {
		return Config{}, err
	}
	excludeHeader, err := flags.GetStringArray("exclude-header")
	if err != nil {
		return Config{}, err
	}
	datasetCSV, err := flags.GetString("dataset-csv")
	if err != nil {
		return Config{}, err
	}
	quarantine, err := flags.GetString("quarantine")
	if err != nil {
		return Config{}, err
	}
	strict, err := flags.GetBool("strict")
	if err != nil {
		return Config{}, err
	}

	rules := classify.DefaultOptions()
	if rulesPath != "" {
		rules, err = LoadRules(rulesPath)
		if err != nil {
			return Config{}, err
		}
	}

	if len(recipients) == 0 {
		recipients = splitList(os.Getenv(envRecipient))
	}
	if len(recipients) > 0 {
		rules.Recipients = recipients
	}
	rules.ExcludeHeader = append(rules.ExcludeHeader, excludeHeader...)

	cfg := Config{
		Logging:        logging,
		MboxPath:       mboxPath,
		OutputPath:     filepath.Clean(outputPath),
		Format:         corpus.Format(strings.ToLower(format)),
		DatasetCSV:     datasetCSV,
		QuarantinePath: quarantine,
		Strict:         strict,
		RulesPath:      rulesPath,
		Rules:          rules,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadPredictConfig reads the predict flags with their environment fallbacks.
func LoadPredictConfig(cmd *cobra.Command) (PredictConfig, error) {
	logging, err := LoadLogging(cmd)
	if err != nil {
		return PredictConfig{}, err
	}

	flags := cmd.Flags()
	modelURL, err := flags.GetString("model-url")
	if err != nil {
		return PredictConfig{}, err
	}
	model, err := flags.GetString("model")
	if err != nil {
		return PredictConfig{}, err
	}
	apiKey, err := flags.GetString("api-key")
	if err != nil {
		return PredictConfig{}, err
	}
	maxTokens, err := flags.GetInt("max-tokens")
	if err != nil {
		return PredictConfig{}, err
	}

	if modelURL == "" {
		modelURL = os.Getenv(envModelURL)
	}
	if env := os.Getenv(envModel); env != "" && !flags.Changed("model") {
		model = env
	}
	if apiKey == "" {
		apiKey = os.Getenv(envAPIKey)
	}

	cfg := PredictConfig{
		Logging:   logging,
		ModelURL:  modelURL,
		Model:     model,
		APIKey:    apiKey,
		MaxTokens: maxTokens,
	}

	if cfg.ModelURL == "" {
		return PredictConfig{}, fmt.Errorf("model endpoint must be provided via --model-url or %s env var", envModelURL)
	}
	if cfg.Model == "" {
		return PredictConfig{}, fmt.Errorf("--model is required")
	}
	if cfg.MaxTokens <= 0 {
		return PredictConfig{}, fmt.Errorf("--max-tokens must be positive")
	}
	return cfg, nil
}

// LoadRules reads labeling rules from a YAML file on top of the defaults.
func LoadRules(path string) (classify.Options, error) {
	file, err := os.Open(path)
	if err != nil {
		return classify.Options{}, fmt.Errorf("open rules: %w", err)
	}
	defer file.Close()

	rules := classify.DefaultOptions()
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&rules); err != nil && !errors.Is(err, io.EOF) {
		return classify.Options{}, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return rules, nil
}

func validateLogging(l Logging) error {
	switch l.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", l.LogLevel)
	}
	switch l.LogFormat {
	case "text", "json", "pretty":
	default:
		return fmt.Errorf("invalid --log-format: %s", l.LogFormat)
	}
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.MboxPath == "" {
		return fmt.Errorf("--mbox is required")
	}
	if cfg.OutputPath == "" || cfg.OutputPath == "." {
		return fmt.Errorf("--output is required")
	}
	if len(cfg.Rules.Recipients) == 0 {
		return fmt.Errorf("target recipient must be provided via --recipient, %s env var or the rules file", envRecipient)
	}
	switch cfg.Format {
	case corpus.FormatText, corpus.FormatJSONL:
	default:
		return fmt.Errorf("invalid --format: %s", cfg.Format)
	}
	if cfg.QuarantinePath != "" && filepath.Clean(cfg.QuarantinePath) == filepath.Clean(cfg.MboxPath) {
		return fmt.Errorf("--quarantine must not point at the input mbox")
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
