package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStoreGetMergesMainDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "..main.json"), `{"publicly_readable": false, "max_file_size": 1000}`)
	writeFile(t, filepath.Join(dir, ".releases.json"), `{"stores_remote_upstream": true}`)

	store, err := NewStore(dir, 10, nil)
	require.NoError(t, err)

	cfg, err := store.Get("releases")
	require.NoError(t, err)
	require.True(t, cfg.StoresRemote())
	require.False(t, cfg.IsPubliclyReadable())
	require.EqualValues(t, 1000, cfg.EffectiveMaxFileSize())
}

func TestStoreGetMissingRepoIsNotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 10, nil)
	require.NoError(t, err)

	_, err = store.Get("nope")
	require.Error(t, err)
}

func TestStoreRefreshAllKeepsStaleOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".releases.json")
	writeFile(t, path, `{"max_file_size": 5}`)

	store, err := NewStore(dir, 10, nil)
	require.NoError(t, err)

	cfg, err := store.Get("releases")
	require.NoError(t, err)
	require.EqualValues(t, 5, cfg.EffectiveMaxFileSize())

	writeFile(t, path, `{not valid json`)
	store.RefreshAll()

	cfg, err = store.Get("releases")
	require.NoError(t, err)
	require.EqualValues(t, 5, cfg.EffectiveMaxFileSize(), "stale value must be kept on refresh failure")
}

func TestStoreRefreshAllAppliesUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".releases.json")
	writeFile(t, path, `{"max_file_size": 5}`)

	store, err := NewStore(dir, 10, nil)
	require.NoError(t, err)

	_, err = store.Get("releases")
	require.NoError(t, err)

	writeFile(t, path, `{"max_file_size": 9999}`)
	store.RefreshAll()

	cfg, err := store.Get("releases")
	require.NoError(t, err)
	require.EqualValues(t, 9999, cfg.EffectiveMaxFileSize())
}

func TestMergeTokensIsAdditivePreferringSelf(t *testing.T) {
	main := &Config{Tokens: map[string]Token{
		"alice": {BcryptHash: "main-hash"},
	}}
	self := &Config{Tokens: map[string]Token{
		"alice": {BcryptHash: "self-hash"},
		"bob":   {BcryptHash: "bob-hash"},
	}}

	merged := Merge(self, main)
	require.Equal(t, "self-hash", merged.Tokens["alice"].BcryptHash, "self wins on conflict")
	require.Equal(t, "bob-hash", merged.Tokens["bob"].BcryptHash, "additive union keeps self-only entries")
}
