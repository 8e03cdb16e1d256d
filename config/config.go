// Package config loads the .mvtl.yaml project file.
//
// Values come from, in increasing priority: built-in defaults, the
// project file, and MVTL_* environment variables. A .env file next to
// the project file is applied to the environment first.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/minios-linux/mvtl/settings"
	"github.com/minios-linux/mvtl/translate"
)

const (
	// FileName is the project file name.
	FileName = ".mvtl.yaml"
	// EnvFileName is the optional dotenv file in the project root.
	EnvFileName = ".env"
)

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

// Config is the project configuration.
type Config struct {
	Provider    string        `yaml:"provider"     env:"MVTL_PROVIDER"     env-default:"openai"`
	Model       string        `yaml:"model"        env:"MVTL_MODEL"        env-default:"gpt-4o-mini"`
	BaseURL     string        `yaml:"base_url"     env:"MVTL_BASE_URL"`
	APIKey      string        `yaml:"api_key"      env:"MVTL_API_KEY"`
	Proxy       string        `yaml:"proxy"        env:"MVTL_PROXY"`
	Temperature float64       `yaml:"temperature"  env:"MVTL_TEMPERATURE"`
	Language    string        `yaml:"language"     env:"MVTL_LANGUAGE"     env-default:"en"`
	Threads     int           `yaml:"threads"      env:"MVTL_THREADS"      env-default:"4"`
	BatchSize   int           `yaml:"batch_size"   env:"MVTL_BATCH_SIZE"`
	History     int           `yaml:"history"      env:"MVTL_HISTORY"      env-default:"10"`
	Width       int           `yaml:"width"        env:"MVTL_WIDTH"        env-default:"60"`
	ListWidth   int           `yaml:"list_width"   env:"MVTL_LIST_WIDTH"   env-default:"100"`
	NoteWidth   int           `yaml:"note_width"   env:"MVTL_NOTE_WIDTH"   env-default:"75"`
	Timeout     time.Duration `yaml:"timeout"      env:"MVTL_TIMEOUT"      env-default:"2m"`
	Retries     int           `yaml:"retries"      env:"MVTL_RETRIES"      env-default:"5"`
	RetryDelay  time.Duration `yaml:"retry_delay"  env:"MVTL_RETRY_DELAY"  env-default:"5s"`
	PromptFile  string        `yaml:"prompt_file"  env:"MVTL_PROMPT_FILE"`
	VocabFile   string        `yaml:"vocab_file"   env:"MVTL_VOCAB_FILE"`
	Characters  string        `yaml:"characters"   env:"MVTL_CHARACTERS"`
	InputDir    string        `yaml:"input_dir"    env:"MVTL_INPUT_DIR"    env-default:"files"`
	OutputDir   string        `yaml:"output_dir"   env:"MVTL_OUTPUT_DIR"   env-default:"translated"`
	Pricing     Pricing       `yaml:"pricing"`
	Flags       Flags         `yaml:"flags"`
	// Opcodes disables event commands mapped to false.
	Opcodes map[int]bool `yaml:"opcodes,omitempty"`
	// VariableIDs lists the game variables whose values are text.
	VariableIDs []int `yaml:"variable_ids,omitempty" env:"MVTL_VARIABLE_IDS" env-separator:","`
	// Speakers seeds the speaker registry.
	Speakers map[string]string `yaml:"speakers,omitempty"`
}

// Pricing is the provider price in dollars per 1000 tokens.
type Pricing struct {
	Input  float64 `yaml:"input"  env:"MVTL_PRICE_INPUT"  env-default:"0.00015"`
	Output float64 `yaml:"output" env:"MVTL_PRICE_OUTPUT" env-default:"0.0006"`
}

// Flags switch optional text handling. All of them default to false.
type Flags struct {
	// BracketNames detects 【Name】 speakers at the start of dialogue.
	BracketNames bool `yaml:"bracket_names"  env:"MVTL_BRACKET_NAMES"`
	// BRLineBreaks wraps dialogue with <br> instead of newlines.
	BRLineBreaks bool `yaml:"br_line_breaks" env:"MVTL_BR_LINE_BREAKS"`
	// KeepTextWrap sends dialogue with its source line breaks.
	KeepTextWrap bool `yaml:"keep_text_wrap" env:"MVTL_KEEP_TEXT_WRAP"`
	// TranslateAll also sends strings without source-language characters.
	TranslateAll bool `yaml:"translate_all"  env:"MVTL_TRANSLATE_ALL"`
	// NamesList writes the speaker registry to names.txt after a run.
	NamesList bool `yaml:"names_list"     env:"MVTL_NAMES_LIST"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the configuration of the project in root. A missing project
// file is not an error: defaults and environment variables apply.
func Load(root string) (*Config, error) {
	envPath := filepath.Join(root, EnvFileName)
	if _, err := os.Stat(envPath); err == nil {
		// Reading a dotenv file exports its variables.
		var scratch Config
		if err := cleanenv.ReadConfig(envPath, &scratch); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", envPath, err)
		}
	}

	var cfg Config
	path := filepath.Join(root, FileName)
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: %w", err)
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate checks value ranges and the provider name.
func (c *Config) Validate() error {
	if _, ok := translate.DefaultProviders()[c.Provider]; !ok {
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.Provider == translate.ProviderCustomOpenAI && c.BaseURL == "" && settings.GetBaseURL(c.Provider) == "" {
		return errors.New("provider custom-openai requires base_url")
	}
	if strings.TrimSpace(c.Language) == "" {
		return errors.New("language is empty")
	}
	for name, v := range map[string]int{
		"threads":    c.Threads,
		"width":      c.Width,
		"list_width": c.ListWidth,
		"note_width": c.NoteWidth,
		"retries":    c.Retries,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.BatchSize < 0 || c.History < 0 {
		return errors.New("batch_size and history must not be negative")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Derived values
// ---------------------------------------------------------------------------

// EffectiveBatchSize returns BatchSize, or a default for the model.
func (c *Config) EffectiveBatchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return DefaultBatchSize(c.Model)
}

// DefaultBatchSize returns a smaller batch for small models, which lose
// track of long numbered lists.
func DefaultBatchSize(model string) int {
	m := strings.ToLower(model)
	for _, small := range []string{"mini", "nano", "lite", "3.5", "8b", "haiku"} {
		if strings.Contains(m, small) {
			return 10
		}
	}
	return 40
}

// ResolveAPIKey returns the key to use: flag, then configuration, then the
// credential store.
func (c *Config) ResolveAPIKey(flag string) string {
	if flag != "" {
		return flag
	}
	if c.APIKey != "" {
		return c.APIKey
	}
	return settings.GetAPIKey(c.Provider)
}

// ProviderConfig builds the provider settings for this project.
func (c *Config) ProviderConfig(apiKeyFlag string) translate.ProviderConfig {
	pc := translate.DefaultProviders()[c.Provider]
	pc.Model = c.Model
	pc.APIKey = c.ResolveAPIKey(apiKeyFlag)
	pc.Proxy = c.Proxy
	pc.Temperature = c.Temperature
	if c.Timeout > 0 {
		pc.Timeout = c.Timeout
	}
	switch {
	case c.BaseURL != "":
		pc.BaseURL = c.BaseURL
	case pc.BaseURL == "":
		pc.BaseURL = settings.GetBaseURL(c.Provider)
	}
	return pc
}

// Path resolves p against root unless it is absolute.
func Path(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
