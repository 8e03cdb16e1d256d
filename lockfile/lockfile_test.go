package lockfile

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	h1 := Hash([]byte(`{"events":[]}`))
	h2 := Hash([]byte(`{"events":[]}`))
	if h1 != h2 {
		t.Errorf("Hash not deterministic: %s != %s", h1, h2)
	}
	if h1 == Hash([]byte(`{"events":[null]}`)) {
		t.Errorf("Hash collision on different content")
	}
	if Fingerprint("a", "bc") == Fingerprint("ab", "c") {
		t.Errorf("Fingerprint ignores part boundaries")
	}
}

func TestLoadNonExistent(t *testing.T) {
	lf, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Version, lf.Version)
	assert.Empty(t, lf.Checksums)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()

	lf, err := Load(dir)
	require.NoError(t, err)
	lf.UseSettings("English", "fp")
	lf.Update("English", "Map001.json", []byte("a"))
	lf.Update("English", "Items.json", []byte("b"))
	lf.Update("Russian", "Map001.json", []byte("a"))
	require.NoError(t, lf.Save())

	_, err = os.Stat(filepath.Join(dir, LockFileName))
	require.NoError(t, err)

	lf2, err := Load(dir)
	require.NoError(t, err)
	languages, files := lf2.Stats()
	assert.Equal(t, 2, languages)
	assert.Equal(t, 3, files)
	assert.False(t, lf2.IsChanged("English", "Items.json", []byte("b")))
	assert.Equal(t, "fp", lf2.Settings["English"])
}

func TestIsChanged(t *testing.T) {
	lf, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.True(t, lf.IsChanged("English", "Map001.json", []byte("x")), "unknown language")
	lf.Update("English", "Map001.json", []byte("x"))
	assert.False(t, lf.IsChanged("English", "Map001.json", []byte("x")))
	assert.True(t, lf.IsChanged("English", "Map001.json", []byte("y")), "edited source")
	assert.True(t, lf.IsChanged("English", "Map002.json", []byte("x")), "unknown file")

	lf.Forget("English", "Map001.json")
	assert.True(t, lf.IsChanged("English", "Map001.json", []byte("x")))
}

func TestUseSettings(t *testing.T) {
	lf, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.False(t, lf.UseSettings("English", "one"))
	lf.Update("English", "Map001.json", []byte("x"))
	assert.False(t, lf.UseSettings("English", "one"))
	assert.False(t, lf.IsChanged("English", "Map001.json", []byte("x")))

	assert.True(t, lf.UseSettings("English", "two"))
	assert.True(t, lf.IsChanged("English", "Map001.json", []byte("x")))
}

func TestClean(t *testing.T) {
	lf, err := Load(t.TempDir())
	require.NoError(t, err)
	lf.Update("English", "Map001.json", []byte("x"))
	lf.Update("English", "Map002.json", []byte("y"))

	lf.Clean("English", []string{"Map002.json"})
	_, files := lf.Stats()
	assert.Equal(t, 1, files)
	assert.False(t, lf.IsChanged("English", "Map002.json", []byte("y")))

	lf.RemoveLanguage("English")
	assert.Empty(t, lf.Languages())
}

func TestSummary(t *testing.T) {
	lf, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "empty", lf.Summary())

	lf.Update("Russian", "Map001.json", []byte("x"))
	lf.Update("English", "Map001.json", []byte("x"))
	lf.Update("English", "Items.json", []byte("x"))
	assert.Equal(t, "2 languages, 3 files (English: 2 files, Russian: 1 files)", lf.Summary())
}

func TestConcurrentAccess(t *testing.T) {
	lf, err := Load(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			file := "Map00" + string(rune('0'+n)) + ".json"
			lf.Update("English", file, []byte("value"))
			lf.IsChanged("English", file, []byte("value"))
			lf.Stats()
		}(i)
	}
	wg.Wait()

	_, files := lf.Stats()
	if files != 10 {
		t.Errorf("files after concurrent writes = %d, want 10", files)
	}
}
