package candidates

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/config"
	"github.com/BaSui01/driftguard/testutil"
	"github.com/BaSui01/driftguard/types"
)

const sampleYAML = `
elements:
  menu.saveButton:
    selectors: ["button.save", "#save-btn", "  ", "button.save"]
    visual_description: blue Save button bottom-right of modal
  login.submit:
    selectors: ["#login"]
  nav.logo:
    visual_description: company logo in the top-left corner
`

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "elements.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), sampleYAML)

	s, err := LoadFile(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []types.ElementID{"login.submit", "menu.saveButton", "nav.logo"}, s.IDs())

	set, err := s.Get("menu.saveButton")
	require.NoError(t, err)
	assert.Equal(t, types.ElementID("menu.saveButton"), set.ID)
	assert.Equal(t, []string{"button.save", "#save-btn"}, set.Selectors, "blank and duplicate selectors dropped")
	assert.Equal(t, "blue Save button bottom-right of modal", set.VisualDescription)

	logo, err := s.Get("nav.logo")
	require.NoError(t, err)
	assert.Empty(t, logo.Selectors)
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)

	path := writeFile(t, dir, "elements: [not, a, map")
	_, err = LoadFile(path, nil)
	assert.True(t, types.IsCode(err, types.ErrInvalidConfig))

	path = writeFile(t, dir, "elements:\n  empty.one:\n    selectors: []\n")
	_, err = LoadFile(path, nil)
	assert.True(t, types.IsCode(err, types.ErrInvalidConfig))
}

func TestStore_GetUnknown(t *testing.T) {
	s := NewStore(CandidateSet{ID: "a", Selectors: []string{"#a"}})

	_, err := s.Get("b")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUnknownElement))
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore(CandidateSet{ID: "a", Selectors: []string{"#a", "#b"}})

	set, err := s.Get("a")
	require.NoError(t, err)
	set.Selectors[0] = "mutated"

	again, _ := s.Get("a")
	assert.Equal(t, "#a", again.Selectors[0])
}

func TestStore_Promote(t *testing.T) {
	s := NewStore(CandidateSet{ID: "menu.saveButton", Selectors: []string{"button.save", "#save-btn"}})

	t.Run("insert new selector", func(t *testing.T) {
		changed, err := s.Promote("menu.saveButton", ".modal-save")
		require.NoError(t, err)
		assert.True(t, changed)

		set, _ := s.Get("menu.saveButton")
		assert.Equal(t, []string{".modal-save", "button.save", "#save-btn"}, set.Selectors)
		assert.True(t, s.Dirty())
	})

	t.Run("move existing selector", func(t *testing.T) {
		changed, err := s.Promote("menu.saveButton", "#save-btn")
		require.NoError(t, err)
		assert.True(t, changed)

		set, _ := s.Get("menu.saveButton")
		assert.Equal(t, []string{"#save-btn", ".modal-save", "button.save"}, set.Selectors)
	})

	t.Run("already first", func(t *testing.T) {
		changed, err := s.Promote("menu.saveButton", "#save-btn")
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := s.Promote("nope", "#x")
		assert.True(t, types.IsCode(err, types.ErrUnknownElement))

		_, err = s.Promote("menu.saveButton", "   ")
		assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
	})
}

func TestStore_SaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "elements.yaml")

	s := NewStore(
		CandidateSet{ID: "a", Selectors: []string{"#a"}, VisualDescription: "the A"},
		CandidateSet{ID: "b", Selectors: []string{".b", "#b"}},
	)
	_, err := s.Promote("b", "#b")
	require.NoError(t, err)
	require.NoError(t, s.Save(path))
	assert.False(t, s.Dirty())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")

	loaded, err := LoadFile(path, nil)
	require.NoError(t, err)
	b, err := loaded.Get("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"#b", ".b"}, b.Selectors)
	a, _ := loaded.Get("a")
	assert.Equal(t, "the A", a.VisualDescription)
}

func TestStore_ReloadKeepsSetsOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, sampleYAML)
	s, err := LoadFile(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("elements: {broken"), 0o644))
	assert.Error(t, s.Reload(path))
	assert.Equal(t, 3, s.Len())
}

func TestStore_Watch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, sampleYAML)
	s, err := LoadFile(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := s.Watch(ctx, path,
		config.WithPollInterval(20*time.Millisecond),
		config.WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)
	defer w.Stop()

	// 保证 mtime/size 发生变化
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("elements:\n  only.one:\n    selectors: [\"#one\", \"#uno\"]\n"), 0o644))

	testutil.AssertEventuallyTrue(t, func() bool {
		ids := s.IDs()
		return len(ids) == 1 && ids[0] == "only.one"
	}, 3*time.Second)
}
