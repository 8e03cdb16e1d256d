package walker

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minios-linux/mvtl/rpgdata"
	"github.com/minios-linux/mvtl/session"
	"github.com/minios-linux/mvtl/translate"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

var replyLine = regexp.MustCompile(`(?s)<Line(\d+)>(.*?)</Line\d+>`)

// dictProvider answers from a fixed dictionary. Unknown strings come back
// wrapped in T(...).
type dictProvider struct {
	dict map[string]string
	// short drops the last line of every batch reply.
	short bool

	mu    sync.Mutex
	calls []translate.Request
}

func (d *dictProvider) Complete(_ context.Context, req translate.Request) (translate.Response, error) {
	d.mu.Lock()
	d.calls = append(d.calls, req)
	d.mu.Unlock()

	lines := replyLine.FindAllStringSubmatch(req.Payload, -1)
	if len(lines) == 0 {
		return translate.Response{Text: d.lookup(req.Payload), Usage: translate.Usage{Input: 1, Output: 1}}, nil
	}
	n := len(lines)
	if d.short {
		n--
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "<Line%s>%s</Line%s>\n", lines[i][1], d.lookup(lines[i][2]), lines[i][1])
	}
	return translate.Response{Text: b.String(), Usage: translate.Usage{Input: 1, Output: 1}}, nil
}

func (d *dictProvider) lookup(s string) string {
	if v, ok := d.dict[s]; ok {
		return v
	}
	return "T(" + s + ")"
}

func (d *dictProvider) payloads() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.calls))
	for _, c := range d.calls {
		out = append(out, c.Payload)
	}
	return out
}

func (d *dictProvider) count(payload string) int {
	n := 0
	for _, p := range d.payloads() {
		if p == payload {
			n++
		}
	}
	return n
}

func newWalker(p translate.Provider, opts Options) (*Walker, *session.Session) {
	tr := translate.New(p, translate.Options{
		Language:    "English",
		MaxAttempts: 2,
		RetryDelay:  time.Millisecond,
	})
	sess := session.New(nil)
	return New(tr, sess, opts), sess
}

func parseList(t *testing.T, src string) []*rpgdata.Instruction {
	t.Helper()
	var list []*rpgdata.Instruction
	require.NoError(t, json.Unmarshal([]byte(src), &list))
	return list
}

func texts(list []*rpgdata.Instruction) []string {
	out := make([]string, 0, len(list))
	for _, in := range list {
		s, _ := in.Str(0)
		out = append(out, fmt.Sprintf("%d:%s", in.Code, s))
	}
	return out
}

// ---------------------------------------------------------------------------
// Dialogue
// ---------------------------------------------------------------------------

func TestWalkMergesDialogue(t *testing.T) {
	p := &dictProvider{dict: map[string]string{"あいう": "XYZ"}}
	w, _ := newWalker(p, Options{})
	list := parseList(t, `[
		{"code":101,"indent":0,"parameters":["",0,0,2]},
		{"code":401,"indent":0,"parameters":["あ"]},
		{"code":401,"indent":0,"parameters":["い"]},
		{"code":401,"indent":0,"parameters":["う"]},
		{"code":0,"indent":0,"parameters":[]}
	]`)

	out, usage, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	assert.Equal(t, []string{"101:", "401:XYZ", "0:"}, texts(out))
	assert.Equal(t, translate.Usage{Input: 1, Output: 1}, usage)
	assert.Len(t, p.payloads(), 1)
}

func TestWalkMergesMixedTextAndScrollText(t *testing.T) {
	p := &dictProvider{dict: map[string]string{"あいう": "XYZ"}}
	w, _ := newWalker(p, Options{})
	list := parseList(t, `[
		{"code":401,"indent":0,"parameters":["あ"]},
		{"code":405,"indent":0,"parameters":["い"]},
		{"code":401,"indent":0,"parameters":["う"]},
		{"code":0,"indent":0,"parameters":[]}
	]`)

	out, _, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	assert.Equal(t, []string{"401:XYZ", "0:"}, texts(out))
	assert.Len(t, p.payloads(), 1)
}

func TestWalkBracketSpeaker(t *testing.T) {
	p := &dictProvider{dict: map[string]string{
		"アリス":             "alice",
		"Alice: こんにちは元気?": "Alice: Hello, how are you?",
	}}
	w, sess := newWalker(p, Options{})
	list := parseList(t, `[
		{"code":401,"indent":0,"parameters":["【アリス】こんにちは"]},
		{"code":401,"indent":0,"parameters":["元気？"]}
	]`)

	out, _, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	assert.Equal(t, []string{"401:【Alice】", "401:Hello, how are you?"}, texts(out))
	assert.Equal(t, []session.Name{{Source: "アリス", Translated: "Alice"}}, sess.Names())
}

func TestWalkSoloBracketIsNotSpeaker(t *testing.T) {
	p := &dictProvider{dict: map[string]string{"【アリス】": "[Alice]"}}
	w, sess := newWalker(p, Options{})
	list := parseList(t, `[
		{"code":401,"indent":0,"parameters":["【アリス】"]},
		{"code":0,"indent":0,"parameters":[]}
	]`)

	out, _, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	assert.Equal(t, []string{"401:[Alice]", "0:"}, texts(out))
	assert.Empty(t, sess.Names())
	assert.Zero(t, p.count("アリス"))
}

func TestWalkSpeakerLineThenMergedDialogue(t *testing.T) {
	p := &dictProvider{dict: map[string]string{
		"ボブ":        "Bob",
		"Bob: やあ元気": "Bob: Hi there",
		"さようなら":     "Goodbye",
	}}
	w, _ := newWalker(p, Options{})
	list := parseList(t, `[
		{"code":401,"indent":0,"parameters":["\\C[2]ボブ\\C[0]"]},
		{"code":401,"indent":0,"parameters":["やあ"]},
		{"code":401,"indent":0,"parameters":["元気"]},
		{"code":101,"indent":0,"parameters":["",0,0,2]},
		{"code":401,"indent":0,"parameters":["さようなら"]}
	]`)

	out, _, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	assert.Equal(t, []string{`401:\C[2]Bob\C[0]`, "401:Hi there", "101:", "401:Goodbye"}, texts(out))

	var batches []string
	for _, pl := range p.payloads() {
		if strings.Contains(pl, "<Line") {
			batches = append(batches, pl)
		}
	}
	require.Len(t, batches, 1)
	assert.Len(t, replyLine.FindAllString(batches[0], -1), 2)
}

func TestWalkNameHeaderSetsSpeaker(t *testing.T) {
	p := &dictProvider{dict: map[string]string{
		"アリス":          "Alice",
		"Alice: こんにちは": "Alice: Hello",
	}}
	w, _ := newWalker(p, Options{})
	list := parseList(t, `[
		{"code":101,"indent":0,"parameters":["",0,0,2,"アリス"]},
		{"code":401,"indent":0,"parameters":["こんにちは"]}
	]`)

	out, _, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	name, _ := out[0].Str(4)
	assert.Equal(t, "Alice", name)
	assert.Equal(t, "401:Hello", texts(out)[1])
}

func TestWalkNametag(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"leading", `\\n<アリス>こんにちは`, `\n<Alice>Hello`},
		{"trailing", `こんにちは\\nw<アリス>`, `Hello\nw<Alice>`},
		{"trailing after color code", `\\C[1]こんにちは\\n<アリス>`, `\C[1]Hello\n<Alice>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &dictProvider{dict: map[string]string{
				"アリス":          "Alice",
				"Alice: こんにちは": "Alice: Hello",
			}}
			w, _ := newWalker(p, Options{})
			list := parseList(t, `[{"code":401,"indent":0,"parameters":["`+tt.line+`"]}]`)

			out, _, err := w.Walk(context.Background(), "Map001.json", list)
			require.NoError(t, err)
			assert.Equal(t, []string{"401:" + tt.want}, texts(out))
		})
	}
}

func TestWalkNametagInsideTextIsNotSpeaker(t *testing.T) {
	p := &dictProvider{dict: map[string]string{
		`こんにちは\n<アリス>元気`: `Hello\n<Alice>fine`,
	}}
	w, _ := newWalker(p, Options{})
	list := parseList(t, `[{"code":401,"indent":0,"parameters":["こんにちは\\n<アリス>元気"]}]`)

	out, _, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	assert.Equal(t, []string{`401:Hello\n<Alice>fine`}, texts(out))
	assert.Zero(t, p.count("アリス"), "no speaker lookup")
}

func TestWalkBracketNamesOption(t *testing.T) {
	p := &dictProvider{dict: map[string]string{
		"アリス":          "Alice",
		"Alice: こんにちは": "Alice: Hello",
	}}
	w, _ := newWalker(p, Options{BracketNames: true})
	list := parseList(t, `[{"code":401,"indent":0,"parameters":["\\C[6]【アリス】\\C[0]こんにちは"]}]`)

	out, _, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	assert.Equal(t, []string{`401:\C[6]【Alice】\C[0]Hello`}, texts(out))
}

func TestWalkMismatchLeavesDialogue(t *testing.T) {
	p := &dictProvider{short: true}
	w, sess := newWalker(p, Options{})
	list := parseList(t, `[
		{"code":401,"indent":0,"parameters":["あ"]},
		{"code":401,"indent":0,"parameters":["い"]}
	]`)

	out, _, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	assert.Equal(t, []string{"401:あ", "401:い"}, texts(out))
	assert.Len(t, p.payloads(), 2)
	assert.Equal(t, []session.Mismatch{{File: "Map001.json", Batch: 0}}, sess.Mismatches())
}

func TestWalkSpeakerCacheReuse(t *testing.T) {
	p := &dictProvider{dict: map[string]string{"アリス": "Alice"}}
	w, _ := newWalker(p, Options{})

	for i := 0; i < 2; i++ {
		list := parseList(t, `[
			{"code":401,"indent":0,"parameters":["【アリス】"]},
			{"code":401,"indent":0,"parameters":["こんにちは"]}
		]`)
		out, _, err := w.Walk(context.Background(), "Map001.json", list)
		require.NoError(t, err)
		assert.Equal(t, "401:【Alice】", texts(out)[0])
	}
	assert.Equal(t, 1, p.count("アリス"))
}

func TestWalkSkipsTextWithoutSource(t *testing.T) {
	p := &dictProvider{}
	w, _ := newWalker(p, Options{})
	list := parseList(t, `[
		{"code":401,"indent":0,"parameters":["Already"]},
		{"code":401,"indent":0,"parameters":["translated"]}
	]`)

	out, _, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	assert.Equal(t, []string{"401:Already", "401:translated"}, texts(out))
	assert.Empty(t, p.payloads())
}

func TestWalkCleansText(t *testing.T) {
	p := &dictProvider{}
	w, _ := newWalker(p, Options{})
	list := parseList(t, `[{"code":401,"indent":0,"parameters":["\\rb[漢字,かんじ]です\\!…。"]}]`)

	_, _, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	require.Len(t, p.payloads(), 1)
	assert.Contains(t, p.payloads()[0], "<Line0>かんじです...</Line0>")
}

func TestWalkWrapsAndCenters(t *testing.T) {
	p := &dictProvider{dict: map[string]string{"あ": "one two three"}}
	w, _ := newWalker(p, Options{Width: 8, BRLineBreaks: true})
	list := parseList(t, `[{"code":401,"indent":0,"parameters":["\\CLあ"]}]`)

	out, _, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	assert.Equal(t, []string{`401:\CLone two<br>three`}, texts(out))
}

func TestWalkDisabledCode(t *testing.T) {
	p := &dictProvider{}
	w, _ := newWalker(p, Options{Codes: map[int]bool{CodeText: false}})
	list := parseList(t, `[{"code":401,"indent":0,"parameters":["あ"]}]`)

	out, _, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	assert.Equal(t, []string{"401:あ"}, texts(out))
	assert.Empty(t, p.payloads())
}

// ---------------------------------------------------------------------------
// Other classes
// ---------------------------------------------------------------------------

func TestWalkChoices(t *testing.T) {
	p := &dictProvider{dict: map[string]string{"はい": "yes", "いいえ": "no"}}
	w, _ := newWalker(p, Options{})
	list := parseList(t, `[{"code":102,"indent":0,"parameters":[["はい","if(s[1])いいえ"],1,0,2,0]}]`)

	out, _, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	assert.Equal(t, []any{"Yes", "if(s[1])No"}, out[0].Parameters[0])
	require.Len(t, p.calls, 1)
	assert.True(t, strings.HasSuffix(p.calls[0].System, "\n"+choiceInstruction), p.calls[0].System)
}

func TestWalkGroupedPluginCommand(t *testing.T) {
	p := &dictProvider{dict: map[string]string{"こんにちは 世界": "Hello world."}}
	w, _ := newWalker(p, Options{})
	list := parseList(t, `[
		{"code":356,"indent":0,"parameters":["D_TEXT こんにちは 24"]},
		{"code":356,"indent":0,"parameters":["D_TEXT 世界 24"]},
		{"code":356,"indent":0,"parameters":["OtherCommand"]}
	]`)

	out, _, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	assert.Equal(t, []string{"356:D_TEXT Hello_world 24", "356:OtherCommand"}, texts(out))
}

func TestWalkVariable(t *testing.T) {
	p := &dictProvider{dict: map[string]string{"アイテム": "Item"}}
	w, _ := newWalker(p, Options{VariableIDs: []int{5}})
	list := parseList(t, `[
		{"code":122,"indent":0,"parameters":[5,5,0,4,"\"アイテム\""]},
		{"code":122,"indent":0,"parameters":[6,6,0,4,"\"アイテム\""]}
	]`)

	out, _, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	got, _ := out[0].Str(4)
	assert.Equal(t, `"Item"`, got)
	kept, _ := out[1].Str(4)
	assert.Equal(t, `"アイテム"`, kept)
}

func TestWalkPluginTextMZ(t *testing.T) {
	p := &dictProvider{dict: map[string]string{"宝箱": "Treasure chest"}}
	w, _ := newWalker(p, Options{})
	list := parseList(t, `[{"code":357,"indent":0,"parameters":["TextPicture","set","",{"text":"  宝箱"}]}]`)

	out, _, err := w.Walk(context.Background(), "Map001.json", list)
	require.NoError(t, err)
	args := out[0].Parameters[3].(map[string]any)
	assert.Equal(t, "  Treasure chest", args["text"])
}

func TestWalkCanceled(t *testing.T) {
	p := &dictProvider{}
	w, _ := newWalker(p, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := w.Walk(ctx, "Map001.json", parseList(t, `[{"code":401,"indent":0,"parameters":["あ"]}]`))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSplitSource(t *testing.T) {
	w, _ := newWalker(&dictProvider{}, Options{})
	p := &page{w: w}
	lead, core, trail := p.splitSource("★アリス(2)")
	assert.Equal(t, "★", lead)
	assert.Equal(t, "アリス", core)
	assert.Equal(t, "(2)", trail)
}
