package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func providers(t *testing.T) map[string]CacheProvider {
	t.Helper()
	sqlite, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]CacheProvider{
		"disk":   NewDiskCache(filepath.Join(t.TempDir(), "proxy_cache")),
		"sqlite": sqlite,
		"memory": NewMemCache(),
	}
}

func TestProviderContract(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := p.Get("missing")
			require.NoError(t, err)
			require.False(t, ok)
			require.False(t, p.Has("missing"))
			require.NoError(t, p.Purge("missing"))

			now := time.Now()
			require.NoError(t, p.Put("ex_com_a", now, []byte("first")))
			require.NoError(t, p.Put("ex_com_a", now, []byte("second")))
			require.NoError(t, p.Put("ex_com_b", now, []byte("other")))
			require.NoError(t, p.Put("other_com", now, []byte("x")))

			got, ok, err := p.Get("ex_com_a")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "second", string(got))
			require.True(t, p.Has("ex_com_b"))

			var keys []string
			require.NoError(t, p.AllKeys("ex_com", func(k string) { keys = append(keys, k) }))
			require.Equal(t, []string{"ex_com_a", "ex_com_b"}, keys)

			require.NoError(t, p.Purge("ex_com_a"))
			require.False(t, p.Has("ex_com_a"))
		})
	}
}

func TestDiskCacheCreatesDirectoryLazily(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "proxy_cache")
	d := NewDiskCache(dir)

	_, ok, err := d.Get("k")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, d.AllKeys("", func(string) { t.Fatal("No keys expected") }))
	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, d.Put("k", time.Now(), []byte("v")))
	got, err := os.ReadFile(filepath.Join(dir, "k"))
	require.NoError(t, err)
	require.Equal(t, "v", string(got))
}

func TestDiskCacheLeavesNoTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	d := NewDiskCache(dir)
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Put("k", time.Now(), []byte("v")))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "k", entries[0].Name())
}

func TestDiskCacheDefaultDir(t *testing.T) {
	require.Equal(t, DefaultDir, NewDiskCache("").Dir())
}

func TestMemCacheCopiesBytes(t *testing.T) {
	m := NewMemCache()
	b := []byte("abc")
	require.NoError(t, m.Put("k", time.Now(), b))
	b[0] = 'x'
	got, _, _ := m.Get("k")
	require.Equal(t, "abc", string(got))
}
