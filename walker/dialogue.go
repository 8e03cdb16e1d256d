package walker

import (
	"context"
	"regexp"
	"strings"

	"github.com/mitchellh/go-wordwrap"
	"golang.org/x/text/width"

	"github.com/minios-linux/mvtl/rpgdata"
)

var (
	coloredSpeaker = regexp.MustCompile(`^(\\+[cC]\[\d+\])(.+?)(\\+[cC]\[\d+\])$`)
	bracketSpeaker = regexp.MustCompile(`(?s)^【(.+?)】(.*)$`)
	nametagLead    = regexp.MustCompile(`(?s)^(\\+[nN][wWcC]?<([^<>]*)>)(.*)$`)
	nametagTrail   = regexp.MustCompile(`(?s)^(.*?)(\\+[nN][wWcC]?<([^<>]*)>)$`)
	coloredBracket = regexp.MustCompile(`^\\+[cC]\[\d+\]【?(.+?)】?\\+[cC]\[\d+\]`)
	plainBracket   = regexp.MustCompile(`^【(.+)】`)
	leadCode       = regexp.MustCompile(`^\\+\w+\[[a-zA-Z0-9\\\[\]_,\s-]+\]`)
	faceCode       = regexp.MustCompile(`\\+[fFaA]+\[.+?\]`)
	furigana       = regexp.MustCompile(`\\+rb?\[.+?,(.+?)\]`)
	formatCode     = regexp.MustCompile(`\\+[!><.|#^{}]`)
	centerCode     = regexp.MustCompile(`\\+CL`)
	ellipsisRun    = regexp.MustCompile(`\.{3}\.+`)
	spaceRun       = regexp.MustCompile(`[ \t]{2,}`)
	echoedSpeaker  = regexp.MustCompile(`(?s)^(.+?)\s?[|:]\s?(.*)$`)
)

var decorative = strings.NewReplacer(
	"ﾞ", "",
	"・", ".",
	"―", "-",
	"…", "...",
	"。", ".",
	"　", "",
)

var lineJoiner = strings.NewReplacer("\n", " ", "<br>", " ")

type tagMode int

const (
	tagNone tagMode = iota
	// tagOwnLine keeps the speaker in the first instruction of the run.
	tagOwnLine
	// tagLead and tagTrail put the speaker markup around the text.
	tagLead
	tagTrail
)

// dialogueGroup maps one logical string back to its instructions.
type dialogueGroup struct {
	// start and end bound the instructions that receive the text.
	start, end int
	tagLine    int
	mode       tagMode
	// markup is the speaker markup with the translated name.
	markup  string
	speaker string
	lead    string
	center  bool
	text    string
	// index is the position in the page batch, -1 when not sent.
	index int
	// rewrite fills a group that was not sent with its own text so that
	// its translated speaker markup is written.
	rewrite bool
}

// dialogue records a run of show-text lines for the fill pass.
func (p *page) dialogue(ctx context.Context, start, end int) error {
	lines := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		s, _ := p.list[i].Str(0)
		lines = append(lines, s)
	}

	g := &dialogueGroup{start: start, end: end, tagLine: -1, index: -1}
	speaker := p.pending
	p.pending = ""

	// A line that is only a speaker tag counts when more text follows.
	if len(lines) > 1 {
		if m := coloredSpeaker.FindStringSubmatch(lines[0]); m != nil {
			t, err := p.speaker(ctx, m[2])
			if err != nil {
				return err
			}
			g.mode, g.tagLine, g.markup, g.speaker = tagOwnLine, start, m[1]+t+m[3], t
			g.start++
			lines = lines[1:]
		} else if m := bracketSpeaker.FindStringSubmatch(lines[0]); m != nil {
			t, err := p.speaker(ctx, m[1])
			if err != nil {
				return err
			}
			g.mode, g.tagLine, g.markup, g.speaker = tagOwnLine, start, "【"+t+"】", t
			g.start++
			lines[0] = m[2]
		}
	}

	text := strings.Join(lines, "")
	text = strings.ReplaceAll(text, "？", "?")

	if g.mode == tagNone && text != "" {
		var (
			markup, name string
			mode         tagMode
		)
		// The name tag counts only at the very start or end of the text.
		if m := nametagLead.FindStringSubmatch(text); m != nil && m[2] != "" {
			text, markup, name, mode = m[3], m[1], m[2], tagLead
		} else if m := nametagTrail.FindStringSubmatch(text); m != nil && m[3] != "" {
			text, markup, name, mode = m[1], m[2], m[3], tagTrail
		}
		if mode != tagNone {
			t, err := p.speaker(ctx, name)
			if err != nil {
				return err
			}
			g.mode, g.markup, g.speaker = mode, strings.Replace(markup, name, t, 1), t
		}
	}

	if g.mode == tagNone && p.w.opts.BracketNames {
		markup, name := "", ""
		if m := coloredBracket.FindStringSubmatch(text); m != nil {
			markup, name = m[0], m[1]
		} else if m := plainBracket.FindStringSubmatch(text); m != nil && len(m[0]) < len(text) {
			markup, name = m[0], m[1]
		}
		if name != "" {
			t, err := p.speaker(ctx, name)
			if err != nil {
				return err
			}
			g.markup, g.speaker = strings.Replace(markup, name, t, 1), t
			text = strings.TrimPrefix(text, markup)
			if g.end-g.start > 1 {
				g.mode, g.tagLine = tagOwnLine, g.start
				g.start++
			} else {
				g.mode = tagLead
			}
		}
	}

	if g.speaker == "" {
		g.speaker = speaker
	}

	if m := leadCode.FindString(text); m != "" {
		g.lead = m
		text = text[len(m):]
	}
	text = p.clean(text)
	if faces := faceCode.FindAllString(text, -1); len(faces) > 0 {
		g.lead += strings.Join(faces, "")
		text = faceCode.ReplaceAllString(text, "")
	}
	text = furigana.ReplaceAllString(text, "$1")
	text = formatCode.ReplaceAllString(text, "")
	if centerCode.MatchString(text) {
		g.center = true
		text = centerCode.ReplaceAllString(text, "")
	}
	text = strings.TrimSpace(spaceRun.ReplaceAllString(text, " "))
	g.text = text

	switch {
	case p.w.tr.HasSource(text):
		g.index = len(p.items)
		p.items = append(p.items, logical(g.speaker, text))
	case g.mode != tagNone && g.mode != tagOwnLine:
		g.rewrite = true
		p.push(text)
	default:
		p.push(text)
	}
	p.groups = append(p.groups, g)
	return nil
}

// clean normalizes the characters models tend to mangle.
func (p *page) clean(s string) string {
	if p.w.opts.FixTextWrap {
		s = lineJoiner.Replace(s)
	}
	s = decorative.Replace(s)
	s = ellipsisRun.ReplaceAllString(s, "...")
	return width.Fold.String(s)
}

func logical(speaker, text string) string {
	if speaker == "" {
		return text
	}
	return speaker + ": " + text
}

// fill sends the page's dialogue and writes the translations back. On a
// line count mismatch the dialogue is left as it is.
func (p *page) fill(ctx context.Context) error {
	if len(p.groups) == 0 {
		return nil
	}
	var translated []string
	if len(p.items) > 0 {
		res, err := p.w.tr.TranslateBatch(ctx, p.items, p.history, true, "")
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
		translated = res.Items
		p.history = res.History
	}

	for _, g := range p.groups {
		if g.mode == tagOwnLine {
			setText(p.list[g.tagLine], g.markup)
		}
		switch {
		case g.index >= 0:
			p.write(g, p.layout(g, translated[g.index]))
		case g.rewrite:
			p.write(g, p.layout(g, g.text))
		}
	}
	return nil
}

// layout turns a translated logical string into the text of a group.
func (p *page) layout(g *dialogueGroup, s string) string {
	if g.speaker != "" {
		if m := echoedSpeaker.FindStringSubmatch(s); m != nil {
			s = m[2]
		}
	}
	s = wordwrap.WrapString(strings.TrimSpace(s), uint(p.w.opts.effectiveWidth()))
	if p.w.opts.BRLineBreaks {
		s = strings.ReplaceAll(s, "\n", "<br>")
	}
	if g.center {
		s = `\CL` + s
	}
	switch g.mode {
	case tagLead:
		s = g.markup + s
	case tagTrail:
		s += g.markup
	}
	return g.lead + s
}

// write puts s into the first text instruction and marks the rest of the
// run deleted.
func (p *page) write(g *dialogueGroup, s string) {
	if g.start >= g.end {
		return
	}
	setText(p.list[g.start], s)
	for i := g.start + 1; i < g.end; i++ {
		p.list[i].Delete()
	}
}

// deleteRun marks instructions [start, end) deleted.
func deleteRun(list []*rpgdata.Instruction, start, end int) {
	for i := start; i < end; i++ {
		list[i].Delete()
	}
}
