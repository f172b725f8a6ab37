package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, dir, name, llmConfigRef string) {
	t.Helper()
	content := "name: " + name + "\nllm_config_ref: " + llmConfigRef + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0o644))
}

func TestResolverWatchReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "Principal", "main")

	table, err := LoadAll(dir)
	require.NoError(t, err)
	r := NewResolver(table)

	eff, err := r.Resolve("Principal")
	require.NoError(t, err)
	require.Equal(t, "main", eff.LLMConfigRef)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs, err := r.Watch(ctx, dir)
	require.NoError(t, err)

	writeProfile(t, dir, "Principal", "fallback")

	require.Eventually(t, func() bool {
		eff, err := r.Resolve("Principal")
		return err == nil && eff.LLMConfigRef == "fallback"
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case err, ok := <-errs:
		if ok {
			t.Fatalf("unexpected reload error: %v", err)
		}
	default:
	}
}

func TestResolverWatchStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "Principal", "main")

	table, err := LoadAll(dir)
	require.NoError(t, err)
	r := NewResolver(table)

	ctx, cancel := context.WithCancel(context.Background())
	errs, err := r.Watch(ctx, dir)
	require.NoError(t, err)

	cancel()

	require.Eventually(t, func() bool {
		_, open := <-errs
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResolverTableReturnsIndependentCopy(t *testing.T) {
	r := NewResolver(map[string]Raw{"Principal": {Name: "Principal", LLMConfigRef: "main"}})

	table := r.Table()
	table["Principal"] = Raw{Name: "Principal", LLMConfigRef: "mutated"}

	eff, err := r.Resolve("Principal")
	require.NoError(t, err)
	require.Equal(t, "main", eff.LLMConfigRef)
}
