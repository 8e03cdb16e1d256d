// Package lockfile implements mvtl.lock, which records an MD5 checksum of
// every game data file per target language after it was translated. A
// later run skips files whose source is unchanged and whose output still
// exists.
//
// The lock file is stored alongside .mvtl.yaml.
package lockfile

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// LockFileName is the default lock file name.
const LockFileName = "mvtl.lock"

// Version is the lock file format version.
const Version = 1

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// LockFile represents the mvtl.lock file structure.
type LockFile struct {
	Version int `yaml:"version"`
	// Settings is a digest of the options that change the output. A
	// different digest invalidates every checksum of that language.
	Settings  map[string]string            `yaml:"settings,omitempty"`
	Checksums map[string]map[string]string `yaml:"checksums"` // language -> file -> md5

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
}

// ---------------------------------------------------------------------------
// Loading and saving
// ---------------------------------------------------------------------------

// Load reads a lock file from the given directory.
// Returns an empty lock file if the file doesn't exist.
func Load(dir string) (*LockFile, error) {
	path := filepath.Join(dir, LockFileName)
	lf := &LockFile{
		Version:   Version,
		Settings:  make(map[string]string),
		Checksums: make(map[string]map[string]string),
		path:      path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lf, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, lf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	lf.path = path

	if lf.Checksums == nil {
		lf.Checksums = make(map[string]map[string]string)
	}
	if lf.Settings == nil {
		lf.Settings = make(map[string]string)
	}
	return lf, nil
}

// Save writes the lock file to disk.
func (lf *LockFile) Save() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.path == "" {
		return fmt.Errorf("lock file path not set")
	}

	data, err := yaml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("marshaling lock file: %w", err)
	}

	if err := os.WriteFile(lf.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", lf.path, err)
	}
	return nil
}

// Path returns the lock file path.
func (lf *LockFile) Path() string {
	return lf.path
}

// ---------------------------------------------------------------------------
// Checksum operations
// ---------------------------------------------------------------------------

// Hash computes the MD5 hex digest of data.
func Hash(data []byte) string {
	return fmt.Sprintf("%x", md5.Sum(data))
}

// Fingerprint digests option values in order.
func Fingerprint(parts ...string) string {
	return Hash([]byte(strings.Join(parts, "\x00")))
}

// FileKey normalizes a data file name for use as a key.
func FileKey(name string) string {
	return filepath.ToSlash(name)
}

// UseSettings records the settings fingerprint for lang. When it differs
// from the stored one, all checksums of lang are dropped and true is
// returned.
func (lf *LockFile) UseSettings(lang, fingerprint string) bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	old, ok := lf.Settings[lang]
	lf.Settings[lang] = fingerprint
	if ok && old == fingerprint {
		return false
	}
	_, had := lf.Checksums[lang]
	delete(lf.Checksums, lang)
	return had
}

// IsChanged reports whether file differs from the last translated version.
func (lf *LockFile) IsChanged(lang, file string, source []byte) bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	files, ok := lf.Checksums[lang]
	if !ok {
		return true
	}
	old, ok := files[FileKey(file)]
	if !ok {
		return true
	}
	return old != Hash(source)
}

// Update records the checksum of file after a successful translation.
func (lf *LockFile) Update(lang, file string, source []byte) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.Checksums[lang] == nil {
		lf.Checksums[lang] = make(map[string]string)
	}
	lf.Checksums[lang][FileKey(file)] = Hash(source)
}

// Forget drops the checksum of file, so the next run translates it again.
func (lf *LockFile) Forget(lang, file string) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	delete(lf.Checksums[lang], FileKey(file))
}

// Clean removes entries of files that no longer exist in the input.
func (lf *LockFile) Clean(lang string, current []string) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	existing := lf.Checksums[lang]
	if existing == nil {
		return
	}

	valid := make(map[string]bool, len(current))
	for _, f := range current {
		valid[FileKey(f)] = true
	}
	for f := range existing {
		if !valid[f] {
			delete(existing, f)
		}
	}
}

// RemoveLanguage removes all checksums for a language.
func (lf *LockFile) RemoveLanguage(lang string) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	delete(lf.Checksums, lang)
	delete(lf.Settings, lang)
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats returns the number of languages and tracked files.
func (lf *LockFile) Stats() (languages, files int) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	languages = len(lf.Checksums)
	for _, m := range lf.Checksums {
		files += len(m)
	}
	return
}

// Languages returns the sorted tracked languages.
func (lf *LockFile) Languages() []string {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	langs := make([]string, 0, len(lf.Checksums))
	for l := range lf.Checksums {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// Summary returns a human-readable summary string.
func (lf *LockFile) Summary() string {
	languages, files := lf.Stats()
	if languages == 0 {
		return "empty"
	}

	var parts []string
	for _, l := range lf.Languages() {
		lf.mu.Lock()
		n := len(lf.Checksums[l])
		lf.mu.Unlock()
		parts = append(parts, fmt.Sprintf("%s: %d files", l, n))
	}
	return fmt.Sprintf("%d languages, %d files (%s)", languages, files, strings.Join(parts, ", "))
}
