package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrExists is returned by WriteDefault when the project file exists.
var ErrExists = errors.New("project file already exists")

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Provider:   "openai",
		Model:      "gpt-4o-mini",
		Language:   "en",
		Threads:    4,
		History:    10,
		Width:      60,
		ListWidth:  100,
		NoteWidth:  75,
		Timeout:    2 * time.Minute,
		Retries:    5,
		RetryDelay: 5 * time.Second,
		InputDir:   "files",
		OutputDir:  "translated",
		Pricing:    Pricing{Input: 0.00015, Output: 0.0006},
	}
}

var keyComments = map[string]string{
	"provider":    "openai, google, groq, deepseek, anthropic, ollama or custom-openai",
	"api_key":     "Prefer `mvtl auth login` or MVTL_API_KEY over storing keys here",
	"language":    "Target language code or English name",
	"threads":     "Events translated at once",
	"batch_size":  "Lines per request; 0 picks a size for the model",
	"history":     "Translated lines sent back as context",
	"width":       "Wrap column for dialogue",
	"input_dir":   "Game data files (www/data or data)",
	"output_dir":  "Where translated files are written",
	"pricing":     "Dollars per 1000 tokens, for the cost summary",
	"prompt_file": "Empty: prompt.txt in the data directory, then the built-in prompt",
}

// Marshal encodes c as YAML with a short comment on the main keys.
func (c *Config) Marshal() ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(c); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if comment, ok := keyComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default project file into root and returns its
// path. An existing file is kept unless force is set.
func WriteDefault(root string, force bool) (string, error) {
	path := filepath.Join(root, FileName)
	if _, err := os.Stat(path); err == nil && !force {
		return path, ErrExists
	}
	data, err := Default().Marshal()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
