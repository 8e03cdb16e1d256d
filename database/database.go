// Package database translates the database files of a project (actors,
// items, skills, system terms...). Fields are located and written back
// with gjson/sjson paths so that the rest of the file keeps its layout.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mitchellh/go-wordwrap"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/minios-linux/mvtl/rpgdata"
	"github.com/minios-linux/mvtl/session"
	"github.com/minios-linux/mvtl/translate"
	"github.com/minios-linux/mvtl/walker"
)

// Options controls text layout.
type Options struct {
	// ListWidth wraps descriptions. Default: 100.
	ListWidth int
	// NoteWidth wraps profiles and note tags. Default: 75.
	NoteWidth int
	Logger    *slog.Logger
}

func (o *Options) effectiveListWidth() int {
	if o.ListWidth > 0 {
		return o.ListWidth
	}
	return 100
}

func (o *Options) effectiveNoteWidth() int {
	if o.NoteWidth > 0 {
		return o.NoteWidth
	}
	return 75
}

// Translator translates database documents.
type Translator struct {
	tr     *translate.Translator
	walker *walker.Walker
	sess   *session.Session
	opts   Options
	log    *slog.Logger
}

// New returns a Translator. Actor names go through w so that they share
// the speaker registry with dialogue.
func New(tr *translate.Translator, w *walker.Walker, sess *session.Session, opts Options) *Translator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Translator{tr: tr, walker: w, sess: sess, opts: opts, log: logger}
}

// field is one translatable string of a document.
type field struct {
	path   string
	source string
	wrap   int
	// tag is set for note tags: only this part of the note is replaced.
	tag string
}

// Per-kind field names of array documents.
var (
	itemFields  = []string{"name", "description"}
	actorFields = []string{"nickname", "profile"}
	skillFields = []string{"name", "description", "message1", "message2", "message3", "message4"}
	stateFields = []string{"name", "message1", "message2", "message3", "message4"}
	nameFields  = []string{"name"}
)

var noteTags = []*regexp.Regexp{
	regexp.MustCompile(`<hint:(.*?)>`),
	regexp.MustCompile(`<SG説明:(.*?)>`),
}

// Process translates doc.Raw in place.
func (t *Translator) Process(ctx context.Context, doc *rpgdata.Document) (translate.Usage, error) {
	if doc.Raw == nil {
		return translate.Usage{}, fmt.Errorf("%s: %w", doc.Name, rpgdata.ErrUnsupported)
	}
	raw := doc.Raw
	var usage translate.Usage

	if doc.Kind == rpgdata.KindActors {
		var err error
		raw, usage, err = t.actorNames(ctx, raw)
		if err != nil {
			t.sess.AddUsage(usage)
			return usage, fmt.Errorf("%s: %w", doc.Name, err)
		}
	}

	fields := t.fields(doc.Kind, raw)
	if len(fields) == 0 {
		t.sess.AddUsage(usage)
		doc.Raw = raw
		return usage, nil
	}
	sources := make([]string, len(fields))
	for i, f := range fields {
		sources[i] = f.source
	}

	res, err := t.tr.TranslateBatch(ctx, sources, nil, true, "")
	usage = usage.Add(res.Usage)
	t.sess.AddUsage(usage)
	if err != nil {
		return usage, fmt.Errorf("%s: %w", doc.Name, err)
	}
	for _, m := range res.Mismatches {
		t.sess.AddMismatch(doc.Name, m.Index)
	}

	for i, f := range fields {
		out := res.Items[i]
		if out == f.source {
			continue
		}
		if f.wrap > 0 {
			out = wordwrap.WrapString(out, uint(f.wrap))
		}
		if raw, err = f.apply(raw, out); err != nil {
			return usage, fmt.Errorf("%s: writing %s: %w", doc.Name, f.path, err)
		}
	}
	doc.Raw = raw
	t.log.Debug("database done", slog.String("file", doc.Name), slog.Int("fields", len(fields)))
	return usage, nil
}

func (f field) apply(raw []byte, out string) ([]byte, error) {
	if f.tag == "" {
		return sjson.SetBytes(raw, f.path, out)
	}
	note := gjson.GetBytes(raw, f.path).String()
	return sjson.SetBytes(raw, f.path, strings.Replace(note, f.tag, out, 1))
}

// actorNames resolves actor names through the speaker registry.
func (t *Translator) actorNames(ctx context.Context, raw []byte) ([]byte, translate.Usage, error) {
	var (
		usage translate.Usage
		paths []string
		names []string
	)
	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		if name := value.Get("name").String(); t.tr.HasSource(name) {
			paths = append(paths, key.String()+".name")
			names = append(names, name)
		}
		return true
	})
	for i, name := range names {
		out, u, err := t.walker.Speaker(ctx, name)
		usage = usage.Add(u)
		if err != nil {
			return raw, usage, err
		}
		if raw, err = sjson.SetBytes(raw, paths[i], out); err != nil {
			return raw, usage, err
		}
	}
	return raw, usage, nil
}

// fields lists the strings of a document that carry source text.
func (t *Translator) fields(kind rpgdata.Kind, raw []byte) []field {
	root := gjson.ParseBytes(raw)
	list := t.opts.effectiveListWidth()
	notes := t.opts.effectiveNoteWidth()

	var out []field
	add := func(path, s string, wrap int) {
		if t.tr.HasSource(s) {
			out = append(out, field{path: path, source: s, wrap: wrap})
		}
	}

	if kind == rpgdata.KindSystem {
		add("gameTitle", root.Get("gameTitle").String(), 0)
		add("currencyUnit", root.Get("currencyUnit").String(), 0)
		for _, key := range []string{"armorTypes", "weaponTypes", "skillTypes", "elements", "equipTypes", "terms.basic", "terms.commands", "terms.params"} {
			root.Get(key).ForEach(func(i, v gjson.Result) bool {
				add(key+"."+i.String(), v.String(), 0)
				return true
			})
		}
		root.Get("terms.messages").ForEach(func(k, v gjson.Result) bool {
			add("terms.messages."+escape(k.String()), v.String(), 0)
			return true
		})
		return out
	}

	var names []string
	wraps := map[string]int{"description": list, "profile": notes}
	switch kind {
	case rpgdata.KindArmors, rpgdata.KindWeapons, rpgdata.KindItems:
		names = itemFields
	case rpgdata.KindActors:
		names = actorFields
	case rpgdata.KindSkills:
		names = skillFields
	case rpgdata.KindStates:
		names = stateFields
	case rpgdata.KindEnemies, rpgdata.KindClasses, rpgdata.KindMapInfos:
		names = nameFields
	}

	root.ForEach(func(i, entry gjson.Result) bool {
		if !entry.IsObject() {
			return true
		}
		prefix := i.String() + "."
		for _, name := range names {
			add(prefix+name, entry.Get(name).String(), wraps[name])
		}
		note := entry.Get("note").String()
		for _, re := range noteTags {
			for _, m := range re.FindAllStringSubmatch(note, -1) {
				if t.tr.HasSource(m[1]) {
					out = append(out, field{path: prefix + "note", source: m[1], wrap: notes, tag: m[1]})
				}
			}
		}
		return true
	})
	return out
}

// escape quotes gjson path syntax in an object key.
func escape(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(key)
}
