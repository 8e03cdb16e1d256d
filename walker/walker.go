// Package walker translates the instruction list of an event page.
//
// A page is walked once to collect dialogue into logical strings, those
// strings are translated in one batch, and the same spans are then filled
// in the same order. Choices, names and script commands are translated as
// they are met since their edits never move an instruction.
package walker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/minios-linux/mvtl/rpgdata"
	"github.com/minios-linux/mvtl/session"
	"github.com/minios-linux/mvtl/translate"
)

// Event command codes handled by the walker.
const (
	CodeShowText      = 101
	CodeShowChoices   = 102
	CodeComment       = 108
	CodeConditional   = 111
	CodeControlVars   = 122
	CodeActorName     = 320
	CodeActorNickname = 324
	CodeScript        = 355
	CodePluginCommand = 356
	CodePluginMZ      = 357
	CodeText          = 401
	CodeScrollText    = 405
	CodeCommentBody   = 408
	CodeScriptBody    = 655
	CodePluginMZBody  = 657
)

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options controls which commands are translated and how text is laid out.
type Options struct {
	// Width is the wrap column for dialogue. Default: 60.
	Width int
	// ListWidth is the wrap column for list-like text. Default: 100.
	ListWidth int
	// Codes disables commands mapped to false. Missing codes are enabled.
	Codes map[int]bool
	// BracketNames treats a leading 【Name】 or \C[n]Name\C[n] in merged
	// dialogue as the speaker.
	BracketNames bool
	// BRLineBreaks writes wrapped lines joined by <br> instead of \n.
	BRLineBreaks bool
	// FixTextWrap joins the source line breaks of dialogue before sending.
	FixTextWrap bool
	// VariableIDs lists the game variables whose string values are text.
	VariableIDs []int
	// Logger receives debug records. Nil discards them.
	Logger *slog.Logger
}

func (o *Options) effectiveWidth() int {
	if o.Width > 0 {
		return o.Width
	}
	return 60
}

func (o *Options) effectiveListWidth() int {
	if o.ListWidth > 0 {
		return o.ListWidth
	}
	return 100
}

func (o *Options) enabled(code int) bool {
	on, ok := o.Codes[code]
	return !ok || on
}

// ---------------------------------------------------------------------------
// Walker
// ---------------------------------------------------------------------------

// Walker is safe for concurrent use as long as every call gets its own
// instruction list.
type Walker struct {
	tr    *translate.Translator
	sess  *session.Session
	opts  Options
	log   *slog.Logger
	table map[int]*class
}

// New returns a Walker that translates through tr and resolves speakers
// through sess.
func New(tr *translate.Translator, sess *session.Session, opts Options) *Walker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &Walker{tr: tr, sess: sess, opts: opts, log: logger}
	w.table = classTable()
	return w
}

// Walk translates list in place and returns it with merged instructions
// removed. file names the page's document in mismatch records.
func (w *Walker) Walk(ctx context.Context, file string, list []*rpgdata.Instruction) ([]*rpgdata.Instruction, translate.Usage, error) {
	p := &page{w: w, file: file, list: list}
	for _, sp := range w.scan(list) {
		if err := ctx.Err(); err != nil {
			return list, p.usage, err
		}
		if err := sp.class.extract(p, ctx, sp.start, sp.end); err != nil {
			return list, p.usage, fmt.Errorf("%s at %d: %w", sp.class.name, sp.start, err)
		}
	}
	if err := p.fill(ctx); err != nil {
		return list, p.usage, err
	}
	return rpgdata.Purge(list), p.usage, nil
}

// Speaker translates a character name through the registry.
func (w *Walker) Speaker(ctx context.Context, name string) (string, translate.Usage, error) {
	p := &page{w: w}
	out, err := p.speaker(ctx, name)
	return out, p.usage, err
}

// span is a run of instructions [start, end) handled by one class.
type span struct {
	start, end int
	class      *class
}

// scan splits list into spans. The cursor always moves to the end the
// class reports, so no instruction is visited twice.
func (w *Walker) scan(list []*rpgdata.Instruction) []span {
	var spans []span
	for i := 0; i < len(list); {
		in := list[i]
		c, ok := w.table[in.Code]
		if !ok || !w.opts.enabled(in.Code) {
			i++
			continue
		}
		end := c.extent(list, i)
		if end <= i {
			end = i + 1
		}
		spans = append(spans, span{start: i, end: end, class: c})
		i = end
	}
	return spans
}

func (w *Walker) variableID(id int) bool {
	return slices.Contains(w.opts.VariableIDs, id)
}

// ---------------------------------------------------------------------------
// Page state
// ---------------------------------------------------------------------------

// page is the state of one Walk call. It is owned by a single goroutine.
type page struct {
	w       *Walker
	file    string
	list    []*rpgdata.Instruction
	usage   translate.Usage
	history []string
	groups  []*dialogueGroup
	items   []string
	pending string
}

func (p *page) push(lines ...string) {
	p.history = p.w.tr.PushHistory(p.history, lines...)
}

func (p *page) lastHistory() []string {
	if len(p.history) == 0 {
		return nil
	}
	return p.history[len(p.history)-1:]
}

const (
	nameInstruction  = "Reply with only the %s translation of the NPC name."
	textInstruction  = "Reply with the %s translation of the text."
	briefInstruction = "Reply with the %s translation. Keep it brief."
	titleInstruction = "Reply with the %s translation of the achievement title."

	choiceInstruction = "This will be a dialogue option."
)

func (p *page) instruction(format string) string {
	return fmt.Sprintf(format, p.w.tr.Language())
}

// text translates a single string and adds the cost to the page.
func (p *page) text(ctx context.Context, s, format string) (string, error) {
	out, u, err := p.w.tr.TranslateText(ctx, s, p.instruction(format))
	p.usage = p.usage.Add(u)
	return out, err
}

// speaker resolves a name through the registry. The first lookup of a
// name translates it and is charged to this page.
func (p *page) speaker(ctx context.Context, name string) (string, error) {
	return p.w.sess.Speaker(ctx, name, func(ctx context.Context, name string) (string, error) {
		out, err := p.text(ctx, name, nameInstruction)
		if err != nil {
			return "", err
		}
		out = strings.Trim(strings.TrimSpace(out), `."`)
		if !p.w.tr.HasSource(out) {
			out = cases.Title(language.English, cases.NoLower).String(out)
		}
		return out, nil
	})
}

func (p *page) miss(code int, reason string) {
	p.w.log.Debug("command skipped",
		slog.String("file", p.file), slog.Int("code", code), slog.String("reason", reason))
}
