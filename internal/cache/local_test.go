package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wireit-go/wireit/internal/graph"
)

func TestLocalSetThenGetRoundTrips(t *testing.T) {
	pkgDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(pkgDir, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "lib", "out.js"), []byte("console.log(1)"), 0o644))

	cacheDir := t.TempDir()
	l := NewLocal(cacheDir)
	ref := graph.ScriptReference{PackageDir: pkgDir, Name: "build"}
	ctx := context.Background()

	ok, err := l.Set(ctx, ref, "deadbeef", []string{"lib/out.js"})
	require.NoError(t, err)
	require.True(t, ok)

	hit, found, err := l.Get(ctx, ref, "deadbeef")
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, hit.Apply(ctx))

	restored, err := os.ReadFile(filepath.Join(pkgDir, "lib", "out.js"))
	require.NoError(t, err)
	require.Equal(t, "console.log(1)", string(restored))
}

func TestLocalGetMissReturnsFalseNotError(t *testing.T) {
	l := NewLocal(t.TempDir())
	ref := graph.ScriptReference{PackageDir: t.TempDir(), Name: "build"}
	hit, found, err := l.Get(context.Background(), ref, "nonexistent")
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, hit)
}

func TestNoneBackendAlwaysMisses(t *testing.T) {
	var n None
	ref := graph.ScriptReference{PackageDir: "/pkg", Name: "build"}
	hit, found, err := n.Get(context.Background(), ref, "anything")
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, hit)

	ok, err := n.Set(context.Background(), ref, "anything", nil)
	require.NoError(t, err)
	require.False(t, ok)
}
