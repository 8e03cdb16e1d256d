// mvtl translates the text of RPG Maker MV/MZ games with AI providers.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/minios-linux/mvtl/config"
	"github.com/minios-linux/mvtl/database"
	"github.com/minios-linux/mvtl/dispatch"
	"github.com/minios-linux/mvtl/i18n"
	"github.com/minios-linux/mvtl/langmeta"
	"github.com/minios-linux/mvtl/lockfile"
	"github.com/minios-linux/mvtl/rpgdata"
	"github.com/minios-linux/mvtl/session"
	"github.com/minios-linux/mvtl/settings"
	"github.com/minios-linux/mvtl/translate"
	"github.com/minios-linux/mvtl/walker"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// progressBar renders percent as a colored bar of width cells.
func progressBar(percent, width int) string {
	percent = max(0, min(percent, 100))
	filled := percent * width / 100

	color := colorRed
	switch {
	case percent >= 100:
		color = colorGreen
	case percent >= 30:
		color = colorYellow
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("%s%s%s %3d%%", color, bar, colorReset, percent)
}

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

var (
	rootDir string
	verbose bool
)

// errFailed is returned when at least one file could not be translated.
var errFailed = errors.New("some files failed")

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mvtl",
		Short: "Translate RPG Maker MV/MZ games with AI",
		Long: `mvtl — translate RPG Maker MV/MZ game data with AI providers.

Reads the JSON data files of a game (maps, common events, troops,
database files and System.json), sends their text to an AI provider in
numbered batches and writes translated copies, keeping every control
code, speaker name and line layout intact.

Commands:
  init        Write a default .mvtl.yaml project file
  translate   Translate data files
  estimate    Estimate tokens and cost without calling the provider
  auth        Manage provider API keys

AI Providers:
  openai         OpenAI: API key
  google         Google AI (Gemini): API key
  groq           Groq: API key
  deepseek       DeepSeek: API key
  anthropic      Anthropic: API key
  ollama         Ollama local server
  custom-openai  Custom OpenAI-compatible endpoint`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			i18n.Init("")
		},
	}

	root.PersistentFlags().StringVar(&rootDir, "root", ".", "Project root directory")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	root.AddCommand(
		newInitCmd(),
		newTranslateCmd(false),
		newTranslateCmd(true),
		newAuthCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			logError("%v", err)
		}
		os.Exit(1)
	}
}

// newLogger builds the slog logger handed to the library packages.
func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, and build date.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mvtl version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// init
// ---------------------------------------------------------------------------

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default .mvtl.yaml",
		Long: `Write a commented .mvtl.yaml with default settings into the project
root. An existing file is kept unless --force is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.WriteDefault(rootDir, force)
			if errors.Is(err, config.ErrExists) {
				logWarning(i18n.T("%s already exists, use --force to overwrite"), path)
				return nil
			}
			if err != nil {
				return err
			}
			logSuccess(i18n.T("Created %s"), path)
			logInfo(i18n.T("Copy the game's data directory to %s and run: mvtl translate"),
				filepath.Join(rootDir, config.Default().InputDir))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing project file")
	return cmd
}

// ---------------------------------------------------------------------------
// translate / estimate
// ---------------------------------------------------------------------------

type translateArgs struct {
	files    []string
	estimate bool
	force    bool
	apiKey   string
	provider string
	model    string
	language string
	threads  int
}

// apply copies command-line overrides into cfg.
func (a translateArgs) apply(cfg *config.Config) {
	if a.provider != "" {
		cfg.Provider = a.provider
	}
	if a.model != "" {
		cfg.Model = a.model
	}
	if a.language != "" {
		cfg.Language = a.language
	}
	if a.threads > 0 {
		cfg.Threads = a.threads
	}
}

func newTranslateCmd(estimate bool) *cobra.Command {
	a := translateArgs{estimate: estimate}

	cmd := &cobra.Command{
		Use:   "translate [files...]",
		Short: "Translate game data files",
		Long: `Translate the data files found in input_dir and write them to output_dir.

Without arguments every supported file is processed: MapNNN.json,
CommonEvents.json, Troops.json, Scenario.json and the database files.
Files whose source did not change since the last run are skipped unless
--force is given.

Examples:
  mvtl translate
  mvtl translate Map001.json CommonEvents.json
  mvtl translate --provider groq --model llama-3.3-70b-versatile --lang Russian`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.files = args
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runTranslate(ctx, a)
		},
	}
	if estimate {
		cmd.Use = "estimate [files...]"
		cmd.Short = "Estimate tokens and cost without calling the provider"
		cmd.Long = `Walk the data files like translate does, but count the tokens each
request would use instead of sending it. Nothing is written.`
	}

	cmd.Flags().StringVar(&a.provider, "provider", "", "Override the configured provider")
	cmd.Flags().StringVar(&a.model, "model", "", "Override the configured model")
	cmd.Flags().StringVar(&a.language, "lang", "", "Override the target language (code or English name)")
	cmd.Flags().IntVar(&a.threads, "threads", 0, "Override the number of events translated at once")
	if !estimate {
		cmd.Flags().StringVar(&a.apiKey, "api-key", "", "API key (or MVTL_API_KEY env var)")
		cmd.Flags().BoolVar(&a.force, "force", false, "Translate files even when unchanged")
	}

	_ = cmd.RegisterFlagCompletionFunc("provider", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		completions := make([]string, 0, len(allProviders))
		for _, p := range allProviders {
			completions = append(completions, fmt.Sprintf("%s\t%s", p.id, p.name))
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// pipeline routes a document to the event or the database translator.
type pipeline struct {
	events   *dispatch.Distributor
	database *database.Translator
	session  *session.Session
}

func newPipeline(cfg *config.Config, prov translate.Provider, lang langmeta.Meta, estimate bool, logger *slog.Logger) (*pipeline, error) {
	prompts, err := translate.LoadPrompts(
		config.Path(rootDir, cfg.PromptFile),
		config.Path(rootDir, cfg.VocabFile),
	)
	if err != nil {
		return nil, err
	}
	characters, err := readOptional(config.Path(rootDir, cfg.Characters))
	if err != nil {
		return nil, err
	}

	opts := translate.Options{
		Language:    lang.Name,
		Prompts:     prompts,
		Characters:  characters,
		BatchSize:   cfg.EffectiveBatchSize(),
		HistorySize: cfg.History,
		MaxAttempts: cfg.Retries,
		RetryDelay:  cfg.RetryDelay,
		Estimate:    estimate,
		Logger:      logger,
	}
	if cfg.Flags.TranslateAll {
		opts.SourceScript = anyLetter
	}
	tr := translate.New(prov, opts)
	sess := session.New(cfg.Speakers)

	w := walker.New(tr, sess, walker.Options{
		Width:        cfg.Width,
		ListWidth:    cfg.ListWidth,
		Codes:        cfg.Opcodes,
		BracketNames: cfg.Flags.BracketNames,
		BRLineBreaks: cfg.Flags.BRLineBreaks,
		FixTextWrap:  !cfg.Flags.KeepTextWrap,
		VariableIDs:  cfg.VariableIDs,
		Logger:       logger,
	})

	return &pipeline{
		events: dispatch.New(tr, w, sess, dispatch.Options{
			Threads:    cfg.Threads,
			OnProgress: printProgress,
			Logger:     logger,
		}),
		database: database.New(tr, w, sess, database.Options{
			ListWidth: cfg.ListWidth,
			NoteWidth: cfg.NoteWidth,
			Logger:    logger,
		}),
		session: sess,
	}, nil
}

var anyLetter = regexp.MustCompile(`\p{L}`)

// process translates one file. The result is written to dst unless dst
// is empty.
func (p *pipeline) process(ctx context.Context, name string, data []byte, dst string) (translate.Usage, error) {
	doc, err := rpgdata.Parse(name, data)
	if err != nil {
		return translate.Usage{}, err
	}

	var usage translate.Usage
	if doc.Kind.HasEvents() {
		usage, err = p.events.Process(ctx, doc)
	} else {
		usage, err = p.database.Process(ctx, doc)
	}
	if err != nil || dst == "" {
		return usage, err
	}
	return usage, doc.Save(dst)
}

func runTranslate(ctx context.Context, a translateArgs) error {
	cfg, err := config.Load(rootDir)
	if err != nil {
		return err
	}
	a.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	lang := langmeta.Resolve(cfg.Language)
	pc := cfg.ProviderConfig(a.apiKey)
	if !a.estimate {
		if err := validateProvider(pc); err != nil {
			return err
		}
	}

	logger := newLogger(os.Stderr, verbose)
	pipe, err := newPipeline(cfg, translate.NewHTTPProvider(pc), lang, a.estimate, logger)
	if err != nil {
		return err
	}

	inputDir := config.Path(rootDir, cfg.InputDir)
	outputDir := config.Path(rootDir, cfg.OutputDir)
	files, err := selectFiles(inputDir, a.files)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		logWarning(i18n.T("No data files found in %s"), inputDir)
		return nil
	}

	lf, err := lockfile.Load(rootDir)
	if err != nil {
		return err
	}
	if !a.estimate {
		if lf.UseSettings(lang.Name, settingsFingerprint(cfg)) {
			logInfo("%s", i18n.T("Settings changed since the last run, translating every file"))
		}
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", outputDir, err)
		}
	}

	logInfo(i18n.N("Translating %d file to %s %s with %s (%s)",
		"Translating %d files to %s %s with %s (%s)", len(files)),
		len(files), lang.Name, lang.Flag, pc.Name, pc.Model)

	start := time.Now()
	failed := 0
	for _, name := range files {
		if ctx.Err() != nil {
			logWarning("%s", i18n.T("Interrupted"))
			break
		}
		data, err := os.ReadFile(filepath.Join(inputDir, name))
		if err != nil {
			fmt.Fprintln(os.Stderr, fileLine(name, translate.Usage{}, 0, 0, err))
			failed++
			continue
		}
		dst := filepath.Join(outputDir, name)
		if !a.estimate && !a.force && !lf.IsChanged(lang.Name, name, data) && fileExists(dst) {
			logInfo(i18n.T("%s: unchanged, skipped"), name)
			continue
		}
		if a.estimate {
			dst = ""
		}

		began := time.Now()
		usage, err := pipe.process(ctx, name, data, dst)
		fmt.Fprintln(os.Stderr, fileLine(name, usage, usage.Cost(cfg.Pricing.Input, cfg.Pricing.Output), time.Since(began), err))
		if err != nil {
			failed++
			lf.Forget(lang.Name, name)
			continue
		}
		switch {
		case a.estimate:
		case pipe.session.HasMismatch(name):
			// Kept source text is retried on the next run.
			lf.Forget(lang.Name, name)
		default:
			lf.Update(lang.Name, name, data)
		}
	}

	total := pipe.session.Usage()
	fmt.Fprintln(os.Stderr, totalLine(total, total.Cost(cfg.Pricing.Input, cfg.Pricing.Output), time.Since(start), a.estimate))
	if ms := pipe.session.Mismatches(); len(ms) > 0 {
		fmt.Fprintln(os.Stderr, mismatchLine(ms))
	}

	if !a.estimate {
		if a.files == nil {
			lf.Clean(lang.Name, files)
		}
		if err := lf.Save(); err != nil {
			logWarning(i18n.T("Could not save lock file: %v"), err)
		}
		if cfg.Flags.NamesList {
			path := filepath.Join(outputDir, "names.txt")
			if err := writeNames(path, pipe.session.Names()); err != nil {
				logWarning(i18n.T("Could not write %s: %v"), path, err)
			} else {
				logSuccess(i18n.T("Speaker names written to %s"), path)
			}
		}
	}

	if failed > 0 {
		logError(i18n.N("%d file failed", "%d files failed", failed), failed)
		return errFailed
	}
	return ctx.Err()
}

// printProgress redraws the progress line of the file being translated.
func printProgress(file string, done, total int) {
	percent := 100
	if total > 0 {
		percent = done * 100 / total
	}
	fmt.Fprintf(os.Stderr, "\r%s %s (%d/%d)", file, progressBar(percent, 20), done, total)
}

// ---------------------------------------------------------------------------
// Summary lines
// ---------------------------------------------------------------------------

func usageFields(u translate.Usage, cost float64, elapsed time.Duration) string {
	return fmt.Sprintf("[Input: %d][Output: %d][Cost: $%.4f][%.1fs]",
		u.Input, u.Output, cost, elapsed.Seconds())
}

// fileLine is the result line of one file. It clears a progress line
// left on the terminal.
func fileLine(name string, u translate.Usage, cost float64, elapsed time.Duration, err error) string {
	line := "\r\033[K" + name + ": " + usageFields(u, cost, elapsed)
	if err != nil {
		return line + " " + colorRed + "✗" + colorReset + " " + err.Error()
	}
	return line + " " + colorGreen + "✓" + colorReset
}

func totalLine(u translate.Usage, cost float64, elapsed time.Duration, estimate bool) string {
	label := i18n.T("Total")
	if estimate {
		label = i18n.T("Estimated total")
	}
	return label + ": " + usageFields(u, cost, elapsed)
}

func mismatchLine(ms []session.Mismatch) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = m.File + "#" + strconv.Itoa(m.Batch)
	}
	return colorYellow + i18n.T("Mismatch Errors") + colorReset + ": [" + strings.Join(parts, ", ") + "]"
}

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

// selectFiles returns the data files to process. Explicit names are
// checked; otherwise every supported file of dir is listed in name order.
func selectFiles(dir string, names []string) ([]string, error) {
	if len(names) > 0 {
		out := make([]string, 0, len(names))
		for _, n := range names {
			base := filepath.Base(n)
			if !rpgdata.IsDataFile(base) {
				return nil, fmt.Errorf("%s: %w", base, rpgdata.ErrUnsupported)
			}
			out = append(out, base)
		}
		return out, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && rpgdata.IsDataFile(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// writeNames writes the speaker registry as a YAML mapping that can be
// pasted under speakers: in .mvtl.yaml.
func writeNames(path string, names []session.Name) error {
	m := make(map[string]string, len(names))
	for _, n := range names {
		m[n.Source] = n.Translated
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// settingsFingerprint digests the options that change translated output.
func settingsFingerprint(cfg *config.Config) string {
	return lockfile.Fingerprint(
		cfg.Provider, cfg.Model, cfg.Language,
		strconv.Itoa(cfg.Width), strconv.Itoa(cfg.ListWidth), strconv.Itoa(cfg.NoteWidth),
		fmt.Sprint(cfg.Flags), fmt.Sprint(cfg.Opcodes), fmt.Sprint(cfg.VariableIDs),
	)
}

// ---------------------------------------------------------------------------
// auth
// ---------------------------------------------------------------------------

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider API keys",
		Long: `Manage the API keys stored in the user data directory.

API key providers:
  openai, google, groq, deepseek, anthropic
  custom-openai  API key + endpoint URL

No auth required:
  ollama         Local Ollama server

Examples:
  mvtl auth login                      Interactive provider selection
  mvtl auth login --provider openai    Store an OpenAI API key
  mvtl auth logout --provider groq     Remove the Groq key
  mvtl auth logout                     Remove all credentials
  mvtl auth list                       Show stored credentials`,
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthListCmd(),
	)

	return cmd
}

// allProviders is the ordered list of providers for menus and completion.
var allProviders = []struct {
	id      string
	name    string
	helpURL string
	auth    string // "api-key", "none"
}{
	{translate.ProviderOpenAI, "OpenAI", "https://platform.openai.com/api-keys", "api-key"},
	{translate.ProviderGoogle, "Google AI Studio", "https://aistudio.google.com/apikey", "api-key"},
	{translate.ProviderGroq, "Groq Cloud", "https://console.groq.com/keys", "api-key"},
	{translate.ProviderDeepSeek, "DeepSeek", "https://platform.deepseek.com/api_keys", "api-key"},
	{translate.ProviderAnthropic, "Anthropic", "https://console.anthropic.com/settings/keys", "api-key"},
	{translate.ProviderCustomOpenAI, "Custom OpenAI", "", "api-key"},
	{translate.ProviderOllama, "Ollama", "", "none"},
}

func keyProviders() []string {
	var ids []string
	for _, p := range allProviders {
		if p.auth != "none" {
			ids = append(ids, p.id)
		}
	}
	return ids
}

func completeKeyProviders(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var completions []string
	for _, p := range allProviders {
		if p.auth != "none" {
			completions = append(completions, fmt.Sprintf("%s\t%s", p.id, p.name))
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

func newAuthLoginCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key for a provider",
		Long: `Store an API key for a provider. If --provider is not specified,
you will be prompted to choose.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewScanner(cmd.InOrStdin())
			if provider == "" {
				choice, err := chooseProvider(in)
				if err != nil {
					return err
				}
				provider = choice
			}
			if provider == translate.ProviderCustomOpenAI {
				return authLoginCustomOpenAI(in)
			}
			return authLoginAPIKey(in, provider)
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider to authenticate")
	_ = cmd.RegisterFlagCompletionFunc("provider", completeKeyProviders)
	return cmd
}

func chooseProvider(in *bufio.Scanner) (string, error) {
	fmt.Fprintf(os.Stderr, "\n%s%s%s\n\n", colorBlue, i18n.T("Select provider to authenticate:"), colorReset)
	ids := keyProviders()
	for i, id := range ids {
		fmt.Fprintf(os.Stderr, "  %d. %s%s%s\n", i+1, colorYellow, id, colorReset)
	}
	fmt.Fprintf(os.Stderr, "\n%s", i18n.T("Enter choice (number or name): "))

	if !in.Scan() {
		return "", errors.New(i18n.T("no input received"))
	}
	choice := strings.TrimSpace(in.Text())
	for i, id := range ids {
		if choice == strconv.Itoa(i+1) || choice == id {
			return id, nil
		}
	}
	return "", fmt.Errorf(i18n.T("invalid choice %q"), choice)
}

func authLoginAPIKey(in *bufio.Scanner, providerID string) error {
	var name, helpURL string
	for _, p := range allProviders {
		if p.id == providerID && p.auth == "api-key" {
			name, helpURL = p.name, p.helpURL
		}
	}
	if name == "" {
		return fmt.Errorf(i18n.T("unknown provider %q, run 'mvtl auth login' for options"), providerID)
	}

	fmt.Fprintf(os.Stderr, "\n%s%s — API Key Setup%s\n", colorBlue, name, colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	if helpURL != "" {
		fmt.Fprintf(os.Stderr, "  %s %s%s%s\n\n", i18n.T("Get your API key from:"), colorGreen, helpURL, colorReset)
	}

	existing := settings.GetAPIKey(providerID)
	if existing != "" {
		fmt.Fprintf(os.Stderr, "  %s %s%s%s\n", i18n.T("Current key:"), colorYellow, settings.MaskKey(existing), colorReset)
		fmt.Fprint(os.Stderr, "  "+i18n.T("Enter new key to replace, or press Enter to keep: "))
	} else {
		fmt.Fprint(os.Stderr, "  "+i18n.T("Enter API key: "))
	}

	if !in.Scan() {
		return errors.New(i18n.T("no input received"))
	}
	key := strings.TrimSpace(in.Text())
	if key == "" {
		if existing != "" {
			logInfo("%s", i18n.T("Keeping existing key"))
			return nil
		}
		return errors.New(i18n.T("no API key provided"))
	}

	if err := settings.SetAPIKey(providerID, key); err != nil {
		return fmt.Errorf("saving API key: %w", err)
	}
	logSuccess(i18n.T("%s API key saved"), name)
	return nil
}

func authLoginCustomOpenAI(in *bufio.Scanner) error {
	fmt.Fprintf(os.Stderr, "\n%sCustom OpenAI-Compatible Endpoint%s\n", colorBlue, colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))

	existing := settings.Get(translate.ProviderCustomOpenAI)
	if existing != nil && existing.BaseURL != "" {
		fmt.Fprintf(os.Stderr, "  %s %s%s%s\n", i18n.T("Current endpoint:"), colorYellow, existing.BaseURL, colorReset)
		fmt.Fprint(os.Stderr, "  "+i18n.T("Enter new endpoint URL, or press Enter to keep: "))
	} else {
		fmt.Fprint(os.Stderr, "  "+i18n.T("Enter endpoint URL (e.g., https://api.example.com/v1): "))
	}
	if !in.Scan() {
		return errors.New(i18n.T("no input received"))
	}
	baseURL := strings.TrimSpace(in.Text())
	if baseURL == "" && existing != nil {
		baseURL = existing.BaseURL
	}
	if baseURL == "" {
		return errors.New(i18n.T("endpoint URL is required"))
	}

	fmt.Fprint(os.Stderr, "  "+i18n.T("Enter API key (or press Enter if not required): "))
	if !in.Scan() {
		return errors.New(i18n.T("no input received"))
	}
	apiKey := strings.TrimSpace(in.Text())
	if apiKey == "" && existing != nil {
		apiKey = existing.Key
	}

	if err := settings.SetAPIKeyWithBaseURL(translate.ProviderCustomOpenAI, apiKey, baseURL); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	logSuccess("%s", i18n.T("Custom OpenAI endpoint saved"))
	return nil
}

func newAuthLogoutCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Long: `Remove stored credentials for one or all providers.

If --provider is not specified, credentials for ALL providers are removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider != "" {
				if err := settings.Remove(provider); err != nil {
					return fmt.Errorf("removing %s credentials: %w", provider, err)
				}
				logSuccess(i18n.T("%s credentials removed"), provider)
				return nil
			}
			if err := settings.RemoveAll(); err != nil {
				return fmt.Errorf("removing credentials: %w", err)
			}
			logSuccess("%s", i18n.T("All stored credentials removed"))
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider to logout (default: all)")
	_ = cmd.RegisterFlagCompletionFunc("provider", completeKeyProviders)
	return cmd
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show stored credentials and status",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.ErrOrStderr()
			fmt.Fprintf(w, "\n%s%s%s\n", colorBlue, i18n.T("Stored Credentials"), colorReset)
			fmt.Fprintln(w, strings.Repeat("─", 60))

			for _, id := range keyProviders() {
				entry := settings.Get(id)
				switch {
				case entry != nil && entry.Key != "":
					fmt.Fprintf(w, "  %-14s %s%s%s (%s)\n", id, colorGreen, i18n.T("configured"), colorReset, settings.MaskKey(entry.Key))
				case entry != nil && entry.BaseURL != "":
					fmt.Fprintf(w, "  %-14s %s%s%s (%s)\n", id, colorGreen, i18n.T("configured"), colorReset, i18n.T("no key"))
				default:
					fmt.Fprintf(w, "  %-14s %s%s%s\n", id, colorRed, i18n.T("not configured"), colorReset)
				}
				if entry != nil && entry.BaseURL != "" {
					fmt.Fprintf(w, "  %14s endpoint: %s\n", "", entry.BaseURL)
				}
			}

			fmt.Fprintf(w, "\n  %s%s%s\n", colorYellow, i18n.T("Environment Variables"), colorReset)
			if envKey := os.Getenv("MVTL_API_KEY"); envKey != "" {
				fmt.Fprintf(w, "  MVTL_API_KEY: %s%s%s (%s)\n", colorGreen, settings.MaskKey(envKey), colorReset, i18n.T("overrides stored keys"))
			} else {
				fmt.Fprintf(w, "  MVTL_API_KEY: %s%s%s\n", colorRed, i18n.T("not set"), colorReset)
			}
			fmt.Fprintf(w, "  %s: %s\n\n", i18n.T("Store"), settings.FilePath())
		},
	}
}

// ---------------------------------------------------------------------------
// Provider validation
// ---------------------------------------------------------------------------

func validateProvider(pc translate.ProviderConfig) error {
	if pc.Model == "" {
		return fmt.Errorf("no model configured for provider '%s'\n\n"+
			"Set model in %s or pass --model MODEL_NAME", pc.ID, config.FileName)
	}

	switch pc.ID {
	case translate.ProviderOllama:
		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(strings.TrimSuffix(pc.BaseURL, "/v1") + "/api/tags")
		if err != nil {
			return fmt.Errorf("provider 'ollama' requires Ollama server to be running\n\n" +
				"Start Ollama with: ollama serve\n" +
				"Install from: https://ollama.com")
		}
		resp.Body.Close()

	case translate.ProviderCustomOpenAI:
		if pc.BaseURL == "" {
			return fmt.Errorf("provider 'custom-openai' requires an endpoint URL\n\n" +
				"Option 1: Configure via auth:\n" +
				"  mvtl auth login --provider custom-openai\n\n" +
				"Option 2: Set base_url in " + config.FileName)
		}

	default:
		if pc.APIKey == "" {
			return fmt.Errorf("provider '%s' requires an API key\n\n"+
				"Option 1: Store your API key:\n"+
				"  mvtl auth login --provider %s\n\n"+
				"Option 2: Pass key directly:\n"+
				"  --api-key YOUR_KEY or export MVTL_API_KEY=YOUR_KEY", pc.ID, pc.ID)
		}
	}
	return nil
}
