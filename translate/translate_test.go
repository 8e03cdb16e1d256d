package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Fake providers
// ---------------------------------------------------------------------------

// lineProvider answers every tagged line with fn(line).
type lineProvider struct {
	fn    func(string) string
	calls atomic.Int32

	mu   sync.Mutex
	reqs []Request
}

func (p *lineProvider) Complete(_ context.Context, req Request) (Response, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()

	var sb strings.Builder
	for i, line := range parseLines(req.Payload) {
		fmt.Fprintf(&sb, "<Line%d>%s</Line%d>\n", i, p.fn(line), i)
	}
	return Response{Text: sb.String(), Usage: Usage{Input: 10, Output: 5}}, nil
}

func identity(s string) string { return s }

// replyProvider returns canned replies in order, repeating the last one.
type replyProvider struct {
	replies []string
	errs    []error
	calls   atomic.Int32
}

func (p *replyProvider) Complete(_ context.Context, _ Request) (Response, error) {
	n := int(p.calls.Add(1)) - 1
	if n < len(p.errs) && p.errs[n] != nil {
		return Response{}, p.errs[n]
	}
	if len(p.replies) == 0 {
		return Response{}, nil
	}
	return Response{Text: p.replies[min(n, len(p.replies)-1)], Usage: Usage{Input: 3, Output: 2}}, nil
}

func newTestTranslator(p Provider, opts Options) *Translator {
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	return New(p, opts)
}

// ---------------------------------------------------------------------------
// TranslateBatch
// ---------------------------------------------------------------------------

func TestTranslateBatchIdentityPreservesOrder(t *testing.T) {
	p := &lineProvider{fn: identity}
	tr := newTestTranslator(p, Options{})

	items := []string{"一", "二", "三", "四"}
	res, err := tr.TranslateBatch(context.Background(), items, nil, true, "")
	require.NoError(t, err)
	assert.Equal(t, items, res.Items)
	assert.False(t, res.Mismatched())
	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, Usage{Input: 10, Output: 5}, res.Usage)
}

func TestTranslateBatchSkipsItemsWithoutSource(t *testing.T) {
	p := &lineProvider{fn: func(s string) string { return "EN(" + s + ")" }}
	tr := newTestTranslator(p, Options{})

	res, err := tr.TranslateBatch(context.Background(), []string{"Hello", "こんにちは", "", "123"}, nil, true, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", "EN(こんにちは)", "", "123"}, res.Items)

	require.Len(t, p.reqs, 1)
	assert.Equal(t, "<Line0>こんにちは</Line0>", p.reqs[0].Payload)

	p2 := &lineProvider{fn: identity}
	res, err = newTestTranslator(p2, Options{}).TranslateBatch(context.Background(), []string{"a", "b"}, nil, true, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Items)
	assert.Zero(t, p2.calls.Load())
	assert.Equal(t, Usage{}, res.Usage)
}

func TestTranslateBatchMasksControlCodes(t *testing.T) {
	p := &lineProvider{fn: func(s string) string {
		return strings.ReplaceAll(s, "こんにちは", "Hello")
	}}
	tr := newTestTranslator(p, Options{})

	res, err := tr.TranslateBatch(context.Background(), []string{`\C[2]アリス\C[0]: こんにちは\V[3]`}, nil, true, "")
	require.NoError(t, err)
	assert.Equal(t, `\C[2]アリス\C[0]: Hello\V[3]`, res.Items[0])
	assert.NotContains(t, p.reqs[0].Payload, `\`)
	assert.Contains(t, p.reqs[0].Payload, "[Color_0]")
}

func TestTranslateBatchMismatchFallsBackAfterOneRetry(t *testing.T) {
	p := &replyProvider{replies: []string{"<Line0>only one</Line0>"}}
	tr := newTestTranslator(p, Options{})

	items := []string{"あ", "い"}
	res, err := tr.TranslateBatch(context.Background(), items, []string{"prev"}, true, "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load(), "exactly one retry")
	assert.Equal(t, items, res.Items)
	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, BatchMismatch{Index: 0, Sent: 2, Received: 1}, res.Mismatches[0])
	assert.Equal(t, []string{"prev", "あ", "い"}, res.History)
	assert.Equal(t, Usage{Input: 6, Output: 4}, res.Usage)
}

func TestTranslateBatchMismatchRecoversOnRetry(t *testing.T) {
	p := &replyProvider{replies: []string{
		"<Line0>A</Line0>",
		"<Line0>A</Line0>\n<Line1>I</Line1>",
	}}
	tr := newTestTranslator(p, Options{})

	res, err := tr.TranslateBatch(context.Background(), []string{"あ", "い"}, nil, true, "")
	require.NoError(t, err)
	assert.False(t, res.Mismatched())
	assert.Equal(t, []string{"A", "I"}, res.Items)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestTranslateBatchChunksAndHistory(t *testing.T) {
	p := &lineProvider{fn: func(s string) string { return "t" + s }}
	tr := newTestTranslator(p, Options{BatchSize: 2, HistorySize: 3})

	res, err := tr.TranslateBatch(context.Background(), []string{"一", "二", "三", "四", "五"}, nil, true, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"t一", "t二", "t三", "t四", "t五"}, res.Items)
	require.Len(t, p.reqs, 3)
	assert.Empty(t, p.reqs[0].Context)
	assert.Equal(t, []string{"t一", "t二"}, p.reqs[1].Context)
	assert.Equal(t, []string{"t二", "t三", "t四"}, p.reqs[2].Context)
	assert.Equal(t, []string{"t三", "t四", "t五"}, res.History)
}

func TestTranslateBatchPromptSelection(t *testing.T) {
	p := &lineProvider{fn: identity}
	tr := newTestTranslator(p, Options{Language: "German"})
	ctx := context.Background()

	_, err := tr.TranslateBatch(ctx, []string{"はい"}, nil, true, "This will be a dialogue option.")
	require.NoError(t, err)
	_, err = tr.TranslateBatch(ctx, []string{"はい"}, nil, false, "")
	require.NoError(t, err)

	require.Len(t, p.reqs, 2)
	assert.Equal(t, tr.system+"\nThis will be a dialogue option.", p.reqs[0].System)
	assert.Equal(t, tr.short, p.reqs[1].System)
	assert.NotEqual(t, tr.system, tr.short)
}

func TestTranslateBatchRetriesProviderFailures(t *testing.T) {
	boom := errors.New("boom")
	p := &replyProvider{
		replies: []string{"<Line0>ok</Line0>"},
		errs:    []error{boom, boom, boom, boom},
	}
	tr := newTestTranslator(p, Options{})

	res, err := tr.TranslateBatch(context.Background(), []string{"あ"}, nil, true, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, res.Items)
	assert.Equal(t, int32(5), p.calls.Load())
}

func TestTranslateBatchGivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("boom")
	p := &replyProvider{errs: []error{boom, boom, boom, boom, boom, boom}}
	tr := newTestTranslator(p, Options{MaxAttempts: 3})

	_, err := tr.TranslateBatch(context.Background(), []string{"あ"}, nil, true, "")
	require.Error(t, err)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3, perr.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestTranslateBatchEmptyTagFiller(t *testing.T) {
	p := &lineProvider{fn: identity}
	tr := newTestTranslator(p, Options{})

	res, err := tr.TranslateBatch(context.Background(), []string{"あ><い"}, nil, true, "")
	require.NoError(t, err)
	assert.Contains(t, p.reqs[0].Payload, ">"+fillerText+"<")
	assert.Equal(t, []string{"あ><い"}, res.Items)
}

func TestTranslateBatchCleansReply(t *testing.T) {
	p := &replyProvider{replies: []string{"<Line0>English Translation: Wait〜っ。</Line0>"}}
	tr := newTestTranslator(p, Options{Language: "English"})

	res, err := tr.TranslateBatch(context.Background(), []string{"待って〜っ。"}, nil, true, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Wait~."}, res.Items)
}

func TestTranslateBatchEstimate(t *testing.T) {
	p := &lineProvider{fn: identity}
	tr := newTestTranslator(p, Options{Estimate: true})

	res, err := tr.TranslateBatch(context.Background(), []string{"こんにちは", "hi"}, nil, true, "")
	require.NoError(t, err)
	assert.Zero(t, p.calls.Load())
	assert.Equal(t, []string{"こんにちは", "hi"}, res.Items)
	assert.Positive(t, res.Usage.Input)
	assert.Positive(t, res.Usage.Output)
}

func TestTranslateBatchCancelled(t *testing.T) {
	p := &replyProvider{errs: []error{errors.New("down"), errors.New("down")}}
	tr := New(p, Options{RetryDelay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := tr.TranslateBatch(ctx, []string{"あ"}, nil, true, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ---------------------------------------------------------------------------
// TranslateText
// ---------------------------------------------------------------------------

func TestTranslateTextStripsLabel(t *testing.T) {
	p := &replyProvider{replies: []string{"English Translation: [Color_0]Harold[Color_1]"}}
	tr := newTestTranslator(p, Options{})

	got, usage, err := tr.TranslateText(context.Background(), `\C[2]ハロルド\C[0]`, "an NPC name")
	require.NoError(t, err)
	assert.Equal(t, `\C[2]Harold\C[0]`, got)
	assert.Equal(t, Usage{Input: 3, Output: 2}, usage)
}

func TestTranslateTextPassthrough(t *testing.T) {
	p := &replyProvider{replies: []string{"x"}}
	tr := newTestTranslator(p, Options{})

	got, _, err := tr.TranslateText(context.Background(), "Harold", "")
	require.NoError(t, err)
	assert.Equal(t, "Harold", got)
	assert.Zero(t, p.calls.Load())
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestParseLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"plain", "<Line0>a</Line0>\n<Line1>b</Line1>", []string{"a", "b"}},
		{"backticks", "`<Line0>a</Line0>`", []string{"a"}},
		{"missing slash", "<Line0>a<Line0>", []string{"a"}},
		{"multiline", "<Line0>a\nb</Line0>", []string{"a\nb"}},
		{"none", "no tags at all", []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseLines(tc.in))
		})
	}
}

func TestPushHistoryBounded(t *testing.T) {
	tr := New(nil, Options{HistorySize: 2})
	got := tr.PushHistory([]string{"a"}, "b", "c")
	assert.Equal(t, []string{"b", "c"}, got)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("abcdefgh"))
	assert.Equal(t, 5, EstimateTokens("こんにちは"))
}

func TestUsageCost(t *testing.T) {
	u := Usage{Input: 2000, Output: 1000}
	assert.InDelta(t, 0.05, u.Cost(0.01, 0.03), 1e-9)
}
