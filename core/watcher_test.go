package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutesWatcher_Reload(t *testing.T) {
	router, _ := newTestRouter(t, &fakeClock{now: time.Now()})
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("title_model: openai\n"), 0o644))

	w, err := NewRoutesWatcher(path, router, testProviders(), newTestLogger())
	require.NoError(t, err)
	defer w.watcher.Close()

	require.NoError(t, w.Reload())
	assert.Equal(t, "openai", router.Table().TitleModel)

	// 引用未知 Provider 的表被拒绝，保留旧表
	require.NoError(t, os.WriteFile(path, []byte("default:\n  provider: nowhere\ntitle_model: mistral\n"), 0o644))
	assert.Error(t, w.Reload())
	assert.Equal(t, "openai", router.Table().TitleModel)

	require.NoError(t, os.WriteFile(path, []byte("pro: [broken"), 0o644))
	assert.Error(t, w.Reload())
	assert.Equal(t, "openai", router.Table().TitleModel)
}

func TestNewRoutesWatcher_MissingDirectory(t *testing.T) {
	router, _ := newTestRouter(t, &fakeClock{now: time.Now()})
	_, err := NewRoutesWatcher(filepath.Join(t.TempDir(), "nope", "routes.yaml"), router, testProviders(), newTestLogger())
	assert.Error(t, err)
}
