package translate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minios-linux/mvtl/settings"
)

// ---------------------------------------------------------------------------
// Default system prompts
// ---------------------------------------------------------------------------

// DefaultSystemPrompt is used for batched dialogue and database text.
// {{targetLang}} is replaced with the target language name.
const DefaultSystemPrompt = `You are an expert Eroge Game translator who translates Japanese text to {{targetLang}}.
You are going to be translating text from a videogame.
I will give you lines of text, and you must translate each line to the best of your ability.

Formatting rules:
- Every line of the input is wrapped in a numbered tag such as <Line0>text</Line0>.
- Reply with exactly the same number of tagged lines, in the same order, keeping each tag.
- Translate only the text between the tags. Never merge, split, drop or add lines.
- Keep every bracketed placeholder such as [Color_0], [Noun_1] or [Ascii_0] exactly as written.
- If a line starts with "Name: ", the part before the colon is the speaker. Keep the speaker prefix.
- Keep honorifics such as -san and -chan. Keep onomatopoeia in romaji.
- Output only the tagged translation, no explanations.`

// ShortSystemPrompt is used for single strings such as names and
// plugin parameters.
const ShortSystemPrompt = `You are an expert Eroge Game translator who translates Japanese text to {{targetLang}}.
Reply with the translation only, in the format "Translation: <translated text>".
Keep every bracketed placeholder such as [Color_0] exactly as written.`

const (
	promptFileName = "prompt.txt"
	vocabFileName  = "vocab.txt"
)

// ---------------------------------------------------------------------------
// Prompt loading
// ---------------------------------------------------------------------------

// Prompts holds the texts that make up the system instructions.
type Prompts struct {
	// System is the full prompt for batch translation.
	System string
	// Vocab is a glossary appended to the full prompt.
	Vocab string
}

// LoadPrompts reads the prompt and vocabulary files. An empty path, or a
// path that does not exist, falls back to the same file name in the user
// data directory and then to the built-in default.
func LoadPrompts(promptPath, vocabPath string) (Prompts, error) {
	system, err := readFirst(promptPath, promptFileName)
	if err != nil {
		return Prompts{}, err
	}
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}
	vocab, err := readFirst(vocabPath, vocabFileName)
	if err != nil {
		return Prompts{}, err
	}
	return Prompts{System: system, Vocab: strings.TrimSpace(vocab)}, nil
}

// readFirst returns the content of path, or of name in the data
// directory, or "" when neither exists.
func readFirst(path, name string) (string, error) {
	var candidates []string
	if path != "" {
		candidates = append(candidates, path)
	}
	if dir, err := settings.DataDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, name))
	}
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("reading %s: %w", p, err)
		}
	}
	return "", nil
}

// resolvePrompt substitutes the target language and appends the
// vocabulary and character notes.
func resolvePrompt(prompt, language, vocab, characters string) string {
	out := strings.ReplaceAll(prompt, "{{targetLang}}", language)
	if vocab != "" {
		out += "\n\nVocabulary (use these translations):\n" + vocab
	}
	if characters != "" {
		out += "\n\nCharacters:\n" + characters
	}
	return out
}
