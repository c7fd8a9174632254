package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
)

// mainConfigName is the filename (relative to BaseDir) of the global
// defaults document, per spec.md §6: "..main.json — global defaults
// merged into every repo config".
const mainConfigName = "..main.json"

func repoConfigName(repoName string) string { return "." + repoName + ".json" }

// entry holds one repo's live, atomically-swappable config snapshot
// alongside the path of the file it was parsed from. No file handle is
// kept open: RefreshAll re-opens and re-reads that path.
type entry struct {
	snapshot atomic.Pointer[Config]
	path     string
	mu       sync.Mutex // serializes concurrent refreshes of this entry
}

// Store is the process-wide config cache (C1). It is safe for concurrent
// use.
type Store struct {
	baseDir string
	logger  *slog.Logger

	cacheMu sync.RWMutex
	cache   *lru.Cache[string, *entry]

	mainMu   sync.RWMutex
	main     *Config
	mainPath string
}

// NewStore creates a Store rooted at baseDir, with a bounded LRU cache of
// up to maxRepos distinct repo configs.
func NewStore(baseDir string, maxRepos int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRepos <= 0 {
		maxRepos = 1024
	}
	cache, err := lru.New[string, *entry](maxRepos)
	if err != nil {
		return nil, fmt.Errorf("config: creating lru cache: %w", err)
	}
	s := &Store{
		baseDir:  baseDir,
		logger:   logger,
		cache:    cache,
		mainPath: filepath.Join(baseDir, mainConfigName),
	}
	return s, nil
}

// RepoPath returns the on-disk directory that stores repoName's
// artifacts, rooted under the same BaseDir its config document lives in.
func (s *Store) RepoPath(repoName string) string {
	return filepath.Join(s.baseDir, repoName)
}

// Get returns the effective (already main-merged) config for repoName,
// loading and caching it on first access.
func (s *Store) Get(repoName string) (*Config, error) {
	s.cacheMu.RLock()
	e, ok := s.cache.Get(repoName)
	s.cacheMu.RUnlock()
	if ok {
		return e.snapshot.Load(), nil
	}

	main, err := s.getMain()
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.baseDir, repoConfigName(repoName))
	parsed, err := loadRepoConfig(path)
	if err != nil {
		return nil, err
	}
	merged := Merge(parsed, main)

	newEntry := &entry{path: path}
	newEntry.snapshot.Store(merged)

	s.cacheMu.Lock()
	if existing, ok := s.cache.Get(repoName); ok {
		s.cacheMu.Unlock()
		return existing.snapshot.Load(), nil
	}
	s.cache.Add(repoName, newEntry)
	s.cacheMu.Unlock()

	return merged, nil
}

func (s *Store) getMain() (*Config, error) {
	s.mainMu.RLock()
	if s.main != nil {
		defer s.mainMu.RUnlock()
		return s.main, nil
	}
	s.mainMu.RUnlock()

	s.mainMu.Lock()
	defer s.mainMu.Unlock()
	if s.main != nil {
		return s.main, nil
	}

	cfg, err := readMainConfig(s.mainPath)
	if err != nil {
		return nil, err
	}
	s.main = cfg
	return cfg, nil
}

// readMainConfig loads the global defaults document. A missing main
// config is not an error — it simply means no defaults are merged in.
func readMainConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, repoerr.Wrap(repoerr.MainConfigError, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, repoerr.Wrap(repoerr.MainConfigError, err)
	}
	return &cfg, nil
}

func loadRepoConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, repoerr.Wrap(repoerr.NotFound, err)
		}
		return nil, repoerr.Wrap(repoerr.OpenConfig, err)
	}
	defer f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.ReadConfig, err)
	}
	var cfg Config
	if len(data) > 0 {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, repoerr.Wrap(repoerr.ParseConfig, err)
		}
	}
	return &cfg, nil
}

// RefreshAll re-reads every cached repo config and the main config from
// disk, replacing each entry's snapshot wholesale on success. A per-entry
// parse/read failure is logged and that entry's stale value is kept —
// never a partial update. It is triggered by SIGHUP (Unix only, see
// cmd/artifactproxy).
func (s *Store) RefreshAll() {
	if main, err := readMainConfig(s.mainPath); err != nil {
		s.logger.Error("config: failed to refresh main config, keeping stale value", "error", err)
	} else {
		s.mainMu.Lock()
		s.main = main
		s.mainMu.Unlock()
	}

	s.cacheMu.RLock()
	keys := s.cache.Keys()
	s.cacheMu.RUnlock()

	main, _ := s.getMain()

	for _, repoName := range keys {
		s.cacheMu.RLock()
		e, ok := s.cache.Get(repoName)
		s.cacheMu.RUnlock()
		if !ok {
			continue
		}

		e.mu.Lock()
		parsed, err := loadRepoConfig(e.path)
		if err != nil {
			s.logger.Error("config: failed to refresh repo config, keeping stale value",
				"repo", repoName, "path", e.path, "error", err)
			e.mu.Unlock()
			continue
		}
		e.snapshot.Store(Merge(parsed, main))
		e.mu.Unlock()
		s.logger.Info("config: refreshed repo config", "repo", repoName)
	}
}
