package walker

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mitchellh/go-wordwrap"
)

// ---------------------------------------------------------------------------
// Names and choices
// ---------------------------------------------------------------------------

// name translates the speaker of a show-text header. The translation
// becomes the speaker of the dialogue that follows.
func (p *page) name(ctx context.Context, start, _ int) error {
	in := p.list[start]
	s, ok := in.Str(4)
	if !ok || s == "" {
		return nil
	}
	lead, core, trail := p.splitSource(s)
	if core == "" {
		p.pending = s
		return nil
	}
	t, err := p.speaker(ctx, core)
	if err != nil {
		return err
	}
	in.SetParam(4, lead+t+trail)
	p.pending = t
	return nil
}

var (
	choiceIf = regexp.MustCompile(`if\(.*\)`)
	choiceEn = regexp.MustCompile(`en\(.*\)`)
)

// choices translates every option of a show-choices command together,
// with the last dialogue line as context.
func (p *page) choices(ctx context.Context, start, _ int) error {
	in := p.list[start]
	if len(in.Parameters) == 0 {
		return nil
	}
	options, ok := in.Parameters[0].([]any)
	if !ok {
		p.miss(in.Code, "options are not a list")
		return nil
	}

	var (
		items  []string
		conds  []string
		target []int
	)
	for i, o := range options {
		s, ok := o.(string)
		if !ok || s == "" {
			continue
		}
		s = strings.ReplaceAll(s, " 。", ".")
		cond := choiceIf.FindString(s)
		s = strings.Replace(s, cond, "", 1)
		en := choiceEn.FindString(s)
		s = strings.Replace(s, en, "", 1)
		if !p.w.tr.HasSource(s) {
			continue
		}
		items = append(items, s)
		conds = append(conds, cond+en)
		target = append(target, i)
	}
	if len(items) == 0 {
		return nil
	}

	res, err := p.w.tr.TranslateBatch(ctx, items, p.lastHistory(), true, choiceInstruction)
	p.usage = p.usage.Add(res.Usage)
	if err != nil {
		return err
	}
	if res.Mismatched() {
		for _, m := range res.Mismatches {
			p.w.sess.AddMismatch(p.file, m.Index)
		}
		return nil
	}
	for k, i := range target {
		options[i] = conds[k] + upperFirst(res.Items[k])
	}
	return nil
}

// ---------------------------------------------------------------------------
// Script commands
// ---------------------------------------------------------------------------

var (
	quoted        = regexp.MustCompile("['\"`](.*)['\"`]")
	singleQuoted  = regexp.MustCompile(`'(.*?)'`)
	gameVariable  = regexp.MustCompile(`\$gameVariables\.value\((\d+)\)`)
	scriptSubject = regexp.MustCompile(`subject=(.*?)"`)
	secretText    = regexp.MustCompile(`secretText:\s?(.+)`)
	titleText     = regexp.MustCompile(`title:\s?(.+)`)
	wholeText     = regexp.MustCompile(`(.+)`)
	infoText      = regexp.MustCompile(`info:(.*)`)
	activeMessage = regexp.MustCompile(`<ActiveMessage:([^>]*)`)
	pictureLead   = regexp.MustCompile(`^[^\p{Han}\p{Hiragana}\p{Katakana}ー【】（）「」a-zA-ZＡ-Ｚ０-９\\]+`)
	bodyLead      = regexp.MustCompile(`^[^\p{Han}\p{Hiragana}\p{Katakana}ー<>【】\\]+`)
	bodyTrail     = regexp.MustCompile(`[^\p{Han}\p{Hiragana}\p{Katakana}ー<>【】。！？\\]+$`)
)

var scriptUnsafe = strings.NewReplacer(".", "", `"`, "", `\n`, "")

var quoteUnsafe = strings.NewReplacer(".", "", `"`, "", "'", "", `\n`, "")

// variable translates a string assigned to one of the configured game
// variables.
func (p *page) variable(ctx context.Context, start, _ int) error {
	in := p.list[start]
	id, ok := in.Int(0)
	if !ok || !p.w.variableID(id) {
		return nil
	}
	s, ok := in.Str(4)
	if !ok || strings.ContainsAny(s, "■_") {
		return nil
	}
	m := quoted.FindStringSubmatch(s)
	if m == nil || !p.w.tr.HasSource(m[1]) {
		p.miss(in.Code, "no quoted text")
		return nil
	}
	t, err := p.text(ctx, strings.ReplaceAll(m[1], `\n`, " "), nameInstruction)
	if err != nil {
		return err
	}
	t = scriptUnsafe.Replace(t)
	t = strings.ReplaceAll(wordwrap.WrapString(t, 200), "\n", `\n`)
	in.SetParam(4, `"`+t+`"`)
	return nil
}

// conditional translates quoted strings compared against the configured
// game variables.
func (p *page) conditional(ctx context.Context, start, _ int) error {
	in := p.list[start]
	for i := range in.Parameters {
		s, ok := in.Str(i)
		if !ok || !p.watchesVariable(s) {
			continue
		}
		for _, m := range singleQuoted.FindAllStringSubmatch(s, -1) {
			if !p.w.tr.HasSource(m[1]) {
				continue
			}
			t, err := p.text(ctx, m[1], textInstruction)
			if err != nil {
				return err
			}
			s = strings.Replace(s, m[1], quoteUnsafe.Replace(t), 1)
		}
		in.SetParam(i, s)
	}
	return nil
}

func (p *page) watchesVariable(s string) bool {
	for _, m := range gameVariable.FindAllStringSubmatch(s, -1) {
		if id, err := strconv.Atoi(m[1]); err == nil && p.w.variableID(id) {
			return true
		}
	}
	return false
}

// actorName renames an actor. Actor names share the speaker registry.
func (p *page) actorName(ctx context.Context, start, _ int) error {
	in := p.list[start]
	s, ok := in.Str(1)
	if !ok || strings.ContainsAny(s, "■_") || !p.w.tr.HasSource(s) {
		return nil
	}
	t, err := p.speaker(ctx, s)
	if err != nil {
		return err
	}
	in.SetParam(1, quoteUnsafe.Replace(t))
	return nil
}

func (p *page) actorNickname(ctx context.Context, start, _ int) error {
	in := p.list[start]
	s, ok := in.Str(1)
	if !ok || strings.ContainsAny(s, "■_") || !p.w.tr.HasSource(s) {
		return nil
	}
	t, err := p.text(ctx, s, nameInstruction)
	if err != nil {
		return err
	}
	in.SetParam(1, quoteUnsafe.Replace(t))
	return nil
}

// script translates the subject of a message script line.
func (p *page) script(ctx context.Context, start, _ int) error {
	in := p.list[start]
	s, ok := in.Str(0)
	if !ok || strings.Contains(s, "console.") || !strings.Contains(s, "_subject=") {
		return nil
	}
	m := scriptSubject.FindStringSubmatch(s)
	if m == nil || !p.w.tr.HasSource(m[1]) {
		p.miss(in.Code, "no subject")
		return nil
	}
	t, err := p.text(ctx, m[1], briefInstruction)
	if err != nil {
		return err
	}
	setText(in, strings.Replace(s, m[1], scriptUnsafe.Replace(t), 1))
	return nil
}

// comment translates info and active message tags.
func (p *page) comment(ctx context.Context, start, _ int) error {
	in := p.list[start]
	s, ok := in.Str(0)
	if !ok || !p.w.tr.HasSource(s) {
		return nil
	}
	var re *regexp.Regexp
	switch {
	case strings.Contains(s, "info:"):
		re = infoText
	case strings.Contains(s, "ActiveMessage:"):
		re = activeMessage
	default:
		return nil
	}
	m := re.FindStringSubmatch(s)
	if m == nil || !p.w.tr.HasSource(m[1]) {
		p.miss(in.Code, "empty tag")
		return nil
	}
	t, err := p.text(ctx, m[1], textInstruction)
	if err != nil {
		return err
	}
	t = strings.ReplaceAll(scriptUnsafe.Replace(t), " ", "_")
	setText(in, strings.Replace(s, m[1], t, 1))
	return nil
}

// commentBody translates achievement titles and secret texts.
func (p *page) commentBody(ctx context.Context, start, _ int) error {
	in := p.list[start]
	s, ok := in.Str(0)
	if !ok || !p.w.tr.HasSource(s) {
		return nil
	}
	re := wholeText
	switch {
	case strings.Contains(s, "secretText"):
		re = secretText
	case strings.Contains(s, "title"):
		re = titleText
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		p.miss(in.Code, "no text")
		return nil
	}
	t, err := p.text(ctx, strings.ReplaceAll(m[1], "\n", " "), titleInstruction)
	if err != nil {
		return err
	}
	t = wordwrap.WrapString(scriptUnsafe.Replace(t), uint(p.w.opts.effectiveListWidth()))
	setText(in, strings.Replace(s, m[1], t, 1))
	return nil
}

// pluginText translates the text argument of an MZ plugin command.
func (p *page) pluginText(ctx context.Context, start, _ int) error {
	in := p.list[start]
	if len(in.Parameters) < 4 {
		return nil
	}
	args, ok := in.Parameters[3].(map[string]any)
	if !ok {
		return nil
	}
	s, ok := args["text"].(string)
	if !ok || strings.Contains(s, "_") || !p.w.tr.HasSource(s) {
		return nil
	}
	lead := pictureLead.FindString(s)
	core := strings.ReplaceAll(s[len(lead):], "\n", " ")
	t, err := p.text(ctx, core, textInstruction)
	if err != nil {
		return err
	}
	args["text"] = lead + wordwrap.WrapString(t, uint(p.w.opts.effectiveWidth()))
	return nil
}

// pluginBody translates the continuation line of an MZ plugin command,
// keeping the argument syntax around the text.
func (p *page) pluginBody(ctx context.Context, start, _ int) error {
	in := p.list[start]
	s, ok := in.Str(0)
	if !ok || !strings.Contains(s, "text") || strings.Contains(s, "_") || !p.w.tr.HasSource(s) {
		return nil
	}
	lead := bodyLead.FindString(s)
	core := s[len(lead):]
	trail := bodyTrail.FindString(core)
	core = strings.ReplaceAll(core[:len(core)-len(trail)], "\n", " ")
	if !p.w.tr.HasSource(core) {
		p.miss(in.Code, "no text")
		return nil
	}
	t, err := p.text(ctx, core, textInstruction)
	if err != nil {
		return err
	}
	t = wordwrap.WrapString(quoteUnsafe.Replace(t), uint(p.w.opts.effectiveWidth()))
	setText(in, lead+t+trail)
	return nil
}

// ---------------------------------------------------------------------------
// Plugin commands
// ---------------------------------------------------------------------------

// groupedCommand is a plugin command whose text may continue over several
// consecutive commands of the same kind.
type groupedCommand struct {
	marker  string
	pattern *regexp.Regexp
	// underscores are spaces in the source text.
	underscores bool
	wrap        bool
}

var groupedCommands = []groupedCommand{
	{marker: "D_TEXT ", pattern: regexp.MustCompile(`D_TEXT\s(.+)\s|D_TEXT\s(.+)`), wrap: true},
	{marker: "ShowInfo ", pattern: regexp.MustCompile(`_SE\[.+?\](.+)|ShowInfo (.+)`), underscores: true},
	{marker: "PushGab ", pattern: regexp.MustCompile(`PushGab [0-9]+ (.+)`), underscores: true},
	{marker: "addLog ", pattern: regexp.MustCompile(`addLog (.+)`), underscores: true},
}

func groupedCommandOf(s string) *groupedCommand {
	for i := range groupedCommands {
		if strings.Contains(s, groupedCommands[i].marker) {
			return &groupedCommands[i]
		}
	}
	return nil
}

// argument returns the first non-empty submatch of g in s.
func (g *groupedCommand) argument(s string) string {
	m := g.pattern.FindStringSubmatch(s)
	for _, a := range m[min(1, len(m)):] {
		if a != "" {
			return a
		}
	}
	return ""
}

var (
	tachieName = regexp.MustCompile(`Tachie showName (.+)`)
	namePop    = regexp.MustCompile(`namePop\s\d+\s(.+?)\s.+`)
	infoPopup  = regexp.MustCompile(`LL_InfoPopupWIndowMV\sshowWindow\s(.+?)\s.+`)
)

// plugin translates MV plugin commands. Grouped commands are joined into
// one string written to the first command of the run.
func (p *page) plugin(ctx context.Context, start, end int) error {
	in := p.list[start]
	s, ok := in.Str(0)
	if !ok {
		return nil
	}

	if g := groupedCommandOf(s); g != nil {
		first := g.argument(strings.ReplaceAll(s, "\n", "_"))
		if first == "" {
			p.miss(in.Code, "empty "+strings.TrimSpace(g.marker))
			return nil
		}
		parts := []string{first}
		for i := start + 1; i < end; i++ {
			next, _ := p.list[i].Str(0)
			if a := g.argument(strings.ReplaceAll(next, "\n", "_")); a != "" {
				parts = append(parts, a)
			}
		}
		joined := strings.Join(parts, " ")
		if g.underscores {
			joined = strings.ReplaceAll(joined, "_", " ")
		}
		if !p.w.tr.HasSource(joined) {
			return nil
		}
		t, err := p.text(ctx, joined, textInstruction)
		if err != nil {
			return err
		}
		if g.wrap {
			t = wordwrap.WrapString(t, uint(p.w.opts.effectiveWidth()))
		}
		t = strings.ReplaceAll(scriptUnsafe.Replace(t), " ", "_")
		t = strings.ReplaceAll(t, "__\n", "__")
		setText(in, strings.Replace(strings.ReplaceAll(s, "\n", "_"), first, t, 1))
		deleteRun(p.list, start+1, end)
		return nil
	}

	var (
		m       []string
		format  = textInstruction
		spacing = false
	)
	switch {
	case strings.Contains(s, "Tachie showName"):
		m, format = tachieName.FindStringSubmatch(s), nameInstruction
	case strings.Contains(s, "namePop"):
		m = namePop.FindStringSubmatch(s)
	case strings.Contains(s, "LL_InfoPopupWIndowMV"):
		m, spacing = infoPopup.FindStringSubmatch(s), true
	default:
		return nil
	}
	if m == nil || !p.w.tr.HasSource(m[1]) {
		p.miss(in.Code, "no text")
		return nil
	}
	t, err := p.text(ctx, m[1], format)
	if err != nil {
		return err
	}
	if spacing {
		t = strings.ReplaceAll(t, " ", "_")
	}
	setText(in, strings.Replace(s, m[1], t, 1))
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// splitSource splits s around its source-language core, so that leading
// and trailing decoration survives translation.
func (p *page) splitSource(s string) (lead, core, trail string) {
	first, last := -1, -1
	for i, r := range s {
		if p.w.tr.HasSource(string(r)) {
			if first < 0 {
				first = i
			}
			last = i + utf8.RuneLen(r)
		}
	}
	if first < 0 {
		return s, "", ""
	}
	return s[:first], s[first:last], s[last:]
}

func upperFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}
