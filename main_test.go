package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/minios-linux/mvtl/config"
	"github.com/minios-linux/mvtl/lockfile"
	"github.com/minios-linux/mvtl/rpgdata"
	"github.com/minios-linux/mvtl/session"
	"github.com/minios-linux/mvtl/translate"
)

func TestProgressBar(t *testing.T) {
	tests := []struct {
		name    string
		percent int
		width   int
		want    string
	}{
		{
			name:    "clamps below zero",
			percent: -10,
			width:   4,
			want:    colorRed + "░░░░" + colorReset + "   0%",
		},
		{
			name:    "mid range uses yellow",
			percent: 50,
			width:   4,
			want:    colorYellow + "██░░" + colorReset + "  50%",
		},
		{
			name:    "clamps above hundred",
			percent: 120,
			width:   4,
			want:    colorGreen + "████" + colorReset + " 100%",
		},
	}

	for _, tc := range tests {
		if got := progressBar(tc.percent, tc.width); got != tc.want {
			t.Fatalf("%s: progressBar() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestSelectFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"Map001.json", "Items.json", "readme.txt", "Plugins.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("[]"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "Map002.json"), 0755))

	files, err := selectFiles(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Items.json", "Map001.json"}, files)

	files, err = selectFiles(dir, []string{"www/data/Map003.json"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Map003.json"}, files)

	_, err = selectFiles(dir, []string{"Plugins.json"})
	require.ErrorIs(t, err, rpgdata.ErrUnsupported)
}

func TestSummaryLines(t *testing.T) {
	u := translate.Usage{Input: 1200, Output: 300}
	line := fileLine("Map001.json", u, 0.0012, 1500*time.Millisecond, nil)
	assert.Contains(t, line, "Map001.json: [Input: 1200][Output: 300][Cost: $0.0012][1.5s]")
	assert.Contains(t, line, "✓")

	line = fileLine("Map002.json", translate.Usage{}, 0, 0, errors.New("boom"))
	assert.Contains(t, line, "✗"+colorReset+" boom")

	assert.Equal(t, "Total: [Input: 1200][Output: 300][Cost: $0.0012][2.0s]",
		totalLine(u, 0.0012, 2*time.Second, false))

	got := mismatchLine([]session.Mismatch{{File: "Map001.json", Batch: 0}, {File: "Map002.json", Batch: 2}})
	assert.Contains(t, got, "Mismatch Errors")
	assert.True(t, strings.HasSuffix(got, ": [Map001.json#0, Map002.json#2]"), got)
}

func TestWriteNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.txt")
	require.NoError(t, writeNames(path, []session.Name{
		{Source: "ボブ", Translated: "Bob"},
		{Source: "アリス", Translated: "Alice"},
	}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "アリス: Alice\nボブ: Bob\n", string(data))
}

func TestSettingsFingerprint(t *testing.T) {
	a := config.Default()
	b := config.Default()
	assert.Equal(t, settingsFingerprint(a), settingsFingerprint(b))

	b.Flags.BracketNames = true
	assert.NotEqual(t, settingsFingerprint(a), settingsFingerprint(b))

	b = config.Default()
	b.Opcodes = map[int]bool{401: false}
	assert.NotEqual(t, settingsFingerprint(a), settingsFingerprint(b))
}

func TestTranslateArgsApply(t *testing.T) {
	cfg := config.Default()
	translateArgs{model: "gpt-4o", language: "ru", threads: 8}.apply(cfg)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, "ru", cfg.Language)
	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, "openai", cfg.Provider)
}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

var tagged = regexp.MustCompile(`(?s)<Line(\d+)>(.*?)</Line\d+>`)

// newChatServer answers OpenAI chat requests by prefixing every tagged
// line with "EN".
func newChatServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		payload := req.Messages[len(req.Messages)-1].Content

		var reply strings.Builder
		for _, m := range tagged.FindAllStringSubmatch(payload, -1) {
			fmt.Fprintf(&reply, "<Line%s>EN%s</Line%s>\n", m[1], m[2], m[1])
		}
		if reply.Len() == 0 {
			reply.WriteString("Translation: EN" + payload)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": reply.String()}}},
			"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 5},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupProject(t *testing.T, yaml string, files map[string]string) string {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, config.FileName), []byte(yaml), 0644))
	input := filepath.Join(root, "files")
	require.NoError(t, os.Mkdir(input, 0755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(input, name), []byte(content), 0644))
	}

	old := rootDir
	rootDir = root
	t.Cleanup(func() { rootDir = old })
	return root
}

func TestRunTranslate(t *testing.T) {
	var hits atomic.Int32
	srv := newChatServer(t, &hits)
	root := setupProject(t,
		"provider: custom-openai\nbase_url: "+srv.URL+"\nretries: 1\nretry_delay: 1ms\nflags:\n  names_list: true\n",
		map[string]string{"Items.json": `[null,{"id":1,"name":"薬草","description":"","note":"","price":10}]`},
	)
	ctx := context.Background()

	require.NoError(t, runTranslate(ctx, translateArgs{}))
	assert.Equal(t, int32(1), hits.Load())

	out, err := os.ReadFile(filepath.Join(root, "translated", "Items.json"))
	require.NoError(t, err)
	assert.Equal(t, "EN薬草", gjson.GetBytes(out, "1.name").String())
	assert.Equal(t, int64(10), gjson.GetBytes(out, "1.price").Int())
	assert.FileExists(t, filepath.Join(root, "translated", "names.txt"))
	assert.FileExists(t, filepath.Join(root, lockfile.LockFileName))

	// Unchanged source with existing output is skipped.
	require.NoError(t, runTranslate(ctx, translateArgs{}))
	assert.Equal(t, int32(1), hits.Load())

	require.NoError(t, runTranslate(ctx, translateArgs{force: true}))
	assert.Equal(t, int32(2), hits.Load())
}

func TestRunTranslateReportsFailedFiles(t *testing.T) {
	var hits atomic.Int32
	srv := newChatServer(t, &hits)
	root := setupProject(t,
		"provider: custom-openai\nbase_url: "+srv.URL+"\n",
		map[string]string{
			"Map001.json": `{"events":`,
			"Items.json":  `[null,{"id":1,"name":"薬草","description":"","note":""}]`,
		},
	)

	err := runTranslate(context.Background(), translateArgs{})
	require.ErrorIs(t, err, errFailed)
	assert.FileExists(t, filepath.Join(root, "translated", "Items.json"))
	assert.NoFileExists(t, filepath.Join(root, "translated", "Map001.json"))
}

func TestRunTranslateRetriesMismatchedFiles(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "no tagged lines"}}},
		})
	}))
	t.Cleanup(srv.Close)
	root := setupProject(t,
		"provider: custom-openai\nbase_url: "+srv.URL+"\nretries: 1\n",
		map[string]string{"Items.json": `[null,{"id":1,"name":"薬草","description":"","note":""}]`},
	)
	ctx := context.Background()

	require.NoError(t, runTranslate(ctx, translateArgs{}))
	assert.Equal(t, int32(2), hits.Load(), "request and one retry")
	out, err := os.ReadFile(filepath.Join(root, "translated", "Items.json"))
	require.NoError(t, err)
	assert.Equal(t, "薬草", gjson.GetBytes(out, "1.name").String())

	// The file kept source text, so it is not recorded as done.
	require.NoError(t, runTranslate(ctx, translateArgs{}))
	assert.Equal(t, int32(4), hits.Load())
}

func TestRunEstimateWritesNothing(t *testing.T) {
	root := setupProject(t, "provider: openai\n", map[string]string{
		"Items.json": `[null,{"id":1,"name":"薬草","description":"HPを回復","note":""}]`,
	})

	require.NoError(t, runTranslate(context.Background(), translateArgs{estimate: true}))
	assert.NoDirExists(t, filepath.Join(root, "translated"))
	assert.NoFileExists(t, filepath.Join(root, lockfile.LockFileName))
}

func TestValidateProvider(t *testing.T) {
	pc := translate.DefaultProviders()[translate.ProviderOpenAI]
	pc.Model = "gpt-4o-mini"
	err := validateProvider(pc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires an API key")

	pc.APIKey = "sk-test"
	require.NoError(t, validateProvider(pc))

	custom := translate.DefaultProviders()[translate.ProviderCustomOpenAI]
	custom.Model = "local"
	require.Error(t, validateProvider(custom))

	pc.Model = ""
	require.Error(t, validateProvider(pc))
}
