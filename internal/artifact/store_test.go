package artifact

import (
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SalesForecast/internal/gbrt"
)

func testModel() *gbrt.Model {
	return &gbrt.Model{
		Params:       gbrt.DefaultParams(),
		BaseScore:    100000,
		FeatureNames: []string{"a", "b"},
		Trees: []*gbrt.Tree{
			{Root: &gbrt.Node{Feature: -1, Value: 5}},
		},
		BestRound: 1,
	}
}

func TestNewVersionIDFormat(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 30, 45, 0, time.UTC)
	id := NewVersionID(now)
	assert.Regexp(t, regexp.MustCompile(`^v_20250315_103045_[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, NewVersionID(now), "同一时刻的两个版本号不得相同")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	id := NewVersionID(time.Now())
	path, sizeMB, err := store.Save(id, testModel())
	require.NoError(t, err)
	assert.Equal(t, store.Path(id), path)
	assert.Greater(t, sizeMB, 0.0)

	loaded, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, 100000.0, loaded.BaseScore)
	assert.Equal(t, []string{"a", "b"}, loaded.FeatureNames)
}

func TestArchiveAndReject(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	id := NewVersionID(time.Now())
	_, _, err = store.Save(id, testModel())
	require.NoError(t, err)

	newPath, err := store.Archive(id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "archive", id+".json"), newPath)

	// 已移走的版本再按原路径加载应失败，按新路径加载正常
	_, err = store.Load(id)
	assert.Error(t, err)
	_, err = store.LoadPath(newPath)
	assert.NoError(t, err)

	id2 := NewVersionID(time.Now())
	_, _, err = store.Save(id2, testModel())
	require.NoError(t, err)
	rejPath, err := store.Reject(id2)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rejected", id2+".json"), rejPath)
}

func TestMoveRejectsPathTraversal(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Archive("../evil")
	assert.Error(t, err)
}

func TestRegistrySwap(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Get()
	assert.False(t, ok)

	first := &LoadedModel{VersionID: "v1", Model: testModel(), LoadedAt: time.Now()}
	old := reg.Swap(first)
	assert.Nil(t, old)

	got, ok := reg.Get()
	require.True(t, ok)
	assert.Equal(t, "v1", got.VersionID)

	second := &LoadedModel{VersionID: "v2", Model: testModel(), LoadedAt: time.Now()}
	old = reg.Swap(second)
	require.NotNil(t, old)
	assert.Equal(t, "v1", old.VersionID)

	got, _ = reg.Get()
	assert.Equal(t, "v2", got.VersionID)
}
