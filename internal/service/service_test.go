package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wireit-go/wireit/internal/fingerprint"
	"github.com/wireit-go/wireit/internal/graph"
)

func TestExecuteDepsFailurePropagates(t *testing.T) {
	svc := New(graph.ScriptReference{Name: "web"}, &graph.ScriptConfig{Kind: graph.KindService})
	err := svc.ExecuteDeps(context.Background(), errFake{}, fingerprint.Result{})
	require.Error(t, err)
	require.Equal(t, StateFailed, svc.State())
	select {
	case <-svc.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() was not closed after failure")
	}
}

func TestStartReadyOnProcessStart(t *testing.T) {
	cfg := &graph.ScriptConfig{Kind: graph.KindService, Command: "sleep 5"}
	svc := New(graph.ScriptReference{Name: "web"}, cfg)
	require.NoError(t, svc.ExecuteDeps(context.Background(), nil, fingerprint.Result{}))
	require.NoError(t, svc.Adopt(context.Background(), nil))
	svc.AddConsumer()
	svc.UpstreamReady()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Start(ctx, nil, io.Discard, io.Discard))
	require.Equal(t, StateStarted, svc.State())

	require.NoError(t, svc.Stop(context.Background()))
	require.Equal(t, StateStopped, svc.State())
}

func TestAdoptHandsOverMatchingFingerprint(t *testing.T) {
	cfg := &graph.ScriptConfig{Kind: graph.KindService, Command: "sleep 5"}
	ref := graph.ScriptReference{Name: "web"}

	adoptee := New(ref, cfg)
	require.NoError(t, adoptee.ExecuteDeps(context.Background(), nil, fingerprint.Result{Hash: "same"}))
	require.NoError(t, adoptee.Adopt(context.Background(), nil))
	adoptee.AddConsumer()
	adoptee.UpstreamReady()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, adoptee.Start(ctx, nil, io.Discard, io.Discard))

	next := New(ref, cfg)
	require.NoError(t, next.ExecuteDeps(context.Background(), nil, fingerprint.Result{Hash: "same"}))
	require.NoError(t, next.Adopt(context.Background(), adoptee))
	require.Equal(t, StateUnstarted, next.State())
	require.Equal(t, StateDetached, adoptee.State())

	require.NoError(t, next.Stop(context.Background()))
}

func TestManagerGetOrCreateIsStable(t *testing.T) {
	m := NewManager()
	ref := graph.ScriptReference{Name: "web"}
	cfg := &graph.ScriptConfig{Kind: graph.KindService}
	a := m.GetOrCreate(ref, cfg)
	b := m.GetOrCreate(ref, cfg)
	require.Same(t, a, b)
	require.Same(t, a, m.Adoptee(ref))
}

type errFake struct{}

func (errFake) Error() string { return "dependency failed" }
