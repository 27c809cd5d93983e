// Package keystore manages sets of valid API keys sourced from either
// inline comma-separated strings or watched files. File-backed sets are
// cached and refreshed in the background when the file changes on disk,
// so key rotation never requires a gateway restart.
package keystore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/apiary/apiary/internal/apierrors"
)

const (
	minInlineKeyLen = 8
	maxInlineKeyLen = 200
)

// SourceType classifies a credential source string.
type SourceType int

const (
	SourceInline SourceType = iota
	SourceFile
)

// Classification is the result of vetting a credential source string.
type Classification struct {
	Type SourceType
	// Path is the resolved absolute path for file sources.
	Path string
	// Warnings are advisory findings (e.g. suspiciously short inline keys).
	Warnings []string
}

// Classify decides whether source names a key file or holds inline keys.
//
// An existing regular file is always a file source. A string that merely
// looks like a path (contains a separator or carries a key-file suffix)
// but does not exist is a hard error: silently treating a typoed path as
// a literal key would leave an endpoint guarded by an impossible key.
// Anything else is an inline comma-separated key list. The path-likeness
// test is a heuristic; a literal key containing a slash will be
// misclassified, which is a documented limitation.
func Classify(source string) (Classification, error) {
	c := Classification{Type: SourceInline}

	source = strings.TrimSpace(source)
	if source == "" {
		return c, apierrors.ErrEmptyKeySource
	}

	info, err := os.Stat(source)
	if err == nil {
		if !info.Mode().IsRegular() {
			return c, fmt.Errorf("%w: %s", apierrors.ErrKeySourceNotFile, source)
		}
		abs, absErr := filepath.Abs(source)
		if absErr != nil {
			abs = source
		}
		c.Type = SourceFile
		c.Path = abs
		return c, nil
	}

	looksLikePath := strings.ContainsRune(source, '/') ||
		strings.ContainsRune(source, os.PathSeparator) ||
		strings.HasSuffix(source, ".txt") ||
		strings.HasSuffix(source, ".keys")
	if looksLikePath {
		return c, fmt.Errorf("%w: %s", apierrors.ErrKeyFileMissing, source)
	}

	for _, key := range splitInline(source) {
		if len(key) < minInlineKeyLen {
			c.Warnings = append(c.Warnings, fmt.Sprintf("inline key %q is shorter than %d characters", key, minInlineKeyLen))
		}
		if len(key) > maxInlineKeyLen {
			c.Warnings = append(c.Warnings, fmt.Sprintf("inline key starting with %q is longer than %d characters", key[:16], maxInlineKeyLen))
		}
	}
	return c, nil
}

func splitInline(source string) []string {
	var keys []string
	for _, part := range strings.Split(source, ",") {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, part)
		}
	}
	return keys
}

type keySet map[string]struct{}

func (s keySet) contains(key string) bool {
	_, ok := s[key]
	return ok
}

// Store caches parsed key sets and keeps file-backed sets fresh. All cache
// mutation happens under a single mutex, so readers never observe a
// partially swapped set.
type Store struct {
	log logrus.FieldLogger

	mu          sync.Mutex
	cache       map[string]keySet // keyed by absolute file path
	inline      map[string]keySet // keyed by the raw inline source
	watchedDirs map[string]struct{}
	watched     map[string]struct{} // files we reload on events
	watcher     *fsnotify.Watcher
	watcherDone chan struct{}
	shutdown    bool
}

func NewStore(log logrus.FieldLogger) *Store {
	return &Store{
		log:         log,
		cache:       make(map[string]keySet),
		inline:      make(map[string]keySet),
		watchedDirs: make(map[string]struct{}),
		watched:     make(map[string]struct{}),
	}
}

// Load parses the given source and returns its key set. File sources are
// cached under their absolute path and watched for changes from the first
// load on; the parsed set replaces any previously cached set atomically.
// An empty source yields an empty set, path-like-but-missing sources fail.
func (s *Store) Load(source, sourceID string) (map[string]struct{}, error) {
	if strings.TrimSpace(source) == "" {
		return keySet{}, nil
	}

	c, err := Classify(source)
	if err != nil {
		return nil, fmt.Errorf("credential source %q: %w", sourceID, err)
	}
	for _, w := range c.Warnings {
		s.log.Warnf("credential source %q: %s", sourceID, w)
	}

	if c.Type == SourceInline {
		keys := keySet{}
		for _, k := range splitInline(source) {
			keys[k] = struct{}{}
		}
		s.mu.Lock()
		if !s.shutdown {
			s.inline[source] = keys
		}
		s.mu.Unlock()
		return keys, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil, apierrors.ErrStoreShutDown
	}

	if err := s.ensureWatchLocked(c.Path); err != nil {
		// Watching is best effort: keys still load, they just will not
		// refresh until the next explicit Load or Reload.
		s.log.Errorf("Failed to watch key file %s: %v", c.Path, err)
	}

	keys, err := readKeyFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("credential source %q: reading %s: %w", sourceID, c.Path, err)
	}
	s.cache[c.Path] = keys
	s.log.Infof("Loaded %d API key(s) from file %s (id: %s)", len(keys), c.Path, sourceID)
	return keys, nil
}

// cachedOrLoad returns the cached set for a source if present, loading it
// on demand otherwise. Both caches are consulted before classification:
// a previously loaded file that has since vanished still serves its last
// good set, and inline sources parse (and log their warnings) only once
// instead of on every validation.
func (s *Store) cachedOrLoad(source string) (keySet, error) {
	s.mu.Lock()
	if keys, ok := s.inline[source]; ok {
		s.mu.Unlock()
		return keys, nil
	}
	s.mu.Unlock()

	if abs, err := filepath.Abs(source); err == nil {
		s.mu.Lock()
		keys, ok := s.cache[abs]
		s.mu.Unlock()
		if ok {
			return keys, nil
		}
	}
	return s.Load(source, "on-demand")
}

// Validate reports whether key appears in any of the supplied sources.
// Sources are OR'd so an endpoint-specific list can be checked alongside
// or instead of the global one. Empty keys never validate.
func (s *Store) Validate(key string, sources ...string) bool {
	if key == "" {
		return false
	}
	for _, source := range sources {
		if strings.TrimSpace(source) == "" {
			continue
		}
		keys, err := s.cachedOrLoad(source)
		if err != nil {
			s.log.Errorf("Failed to load credential source for validation: %v", err)
			continue
		}
		if keys.contains(key) {
			return true
		}
	}
	return false
}

// Reload re-parses a watched key file and swaps the cached set. A read
// failure leaves the previous set in place: stale-but-available beats
// locking every caller out because of a transient filesystem hiccup.
func (s *Store) Reload(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	keys, readErr := readKeyFile(abs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[abs]; !ok {
		return
	}
	if readErr != nil {
		s.log.Errorf("Failed to reload API keys from %s, keeping previous set: %v", abs, readErr)
		return
	}
	s.cache[abs] = keys
	s.log.Infof("Reloaded %d API key(s) from %s", len(keys), abs)
}

// Shutdown stops the filesystem watcher and waits for its event loop to
// drain. Safe to call more than once.
func (s *Store) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	watcher := s.watcher
	done := s.watcherDone
	s.watcher = nil
	s.mu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
		<-done
	}
	s.log.Info("API key file watchers stopped")
}

// ensureWatchLocked starts the shared watcher on first use and adds the
// file's containing directory to it. Watching the directory rather than
// the file survives editors that replace files via rename. Caller holds s.mu.
func (s *Store) ensureWatchLocked(path string) error {
	if s.watcher == nil {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		s.watcher = watcher
		s.watcherDone = make(chan struct{})
		go s.watchLoop(watcher, s.watcherDone)
	}

	s.watched[path] = struct{}{}

	dir := filepath.Dir(path)
	if _, ok := s.watchedDirs[dir]; ok {
		return nil
	}
	if err := s.watcher.Add(dir); err != nil {
		return err
	}
	s.watchedDirs[dir] = struct{}{}
	s.log.Infof("Started watching API key file: %s", path)
	return nil
}

func (s *Store) watchLoop(watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			path := event.Name
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
			s.mu.Lock()
			_, isWatched := s.watched[path]
			s.mu.Unlock()
			if isWatched {
				s.log.Infof("API key file modified: %s", path)
				s.Reload(path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Errorf("Key file watcher error: %v", err)
		}
	}
}

// readKeyFile parses one key per line, skipping blank lines and lines
// whose first non-whitespace character is '#'.
func readKeyFile(path string) (keySet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	keys := keySet{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
