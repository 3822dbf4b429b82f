package resolver

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/driftguard/candidates"
	"github.com/BaSui01/driftguard/learning"
	"github.com/BaSui01/driftguard/testutil"
	"github.com/BaSui01/driftguard/testutil/fixtures"
	"github.com/BaSui01/driftguard/testutil/mocks"
	"github.com/BaSui01/driftguard/types"
)

func TestClickElement(t *testing.T) {
	t.Run("dom click", func(t *testing.T) {
		driver := mocks.NewMockDriver().WithElement("#save-btn", modalSave)
		r := New(driver, saveButtonStore(), nil, fastConfig())

		out, err := r.ClickElement(testutil.TestContext(t), saveButton, r.DefaultOptions())
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, MethodSelector, out.Method)
		assert.Equal(t, "#save-btn", out.Selector)
		assert.Equal(t, []string{"#save-btn"}, driver.ClickedHandles())
		assert.Empty(t, driver.PointerClicks())
	})

	t.Run("coordinates only uses pointer", func(t *testing.T) {
		driver := mocks.NewMockDriver()
		provider := mocks.NewMockVisionProvider().Then(fixtures.LocateFound(0.9, 500, 600, ""))
		r := New(driver, saveButtonStore(), nil, fastConfig(), WithVisualLocator(newLocator(driver, provider)))

		out, err := r.ClickElement(testutil.TestContext(t), saveButton, r.DefaultOptions())
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, MethodVisualCoordinates, out.Method)
		assert.Equal(t, []types.Point{{X: 500, Y: 600}}, driver.PointerClicks())
		assert.Empty(t, driver.ClickedHandles())
	})

	t.Run("not found is not an error", func(t *testing.T) {
		r := New(mocks.NewMockDriver(), saveButtonStore(), nil, fastConfig())

		out, err := r.ClickElement(testutil.TestContext(t), saveButton, r.DefaultOptions())
		require.NoError(t, err)
		assert.False(t, out.Success)
		assert.Contains(t, out.Error, string(types.ErrResolutionFailed))
	})

	t.Run("driver failure reported", func(t *testing.T) {
		driver := mocks.NewMockDriver().
			WithElement("#save-btn", modalSave).
			WithError("Click", errors.New("detached node"))
		r := New(driver, saveButtonStore(), nil, fastConfig())

		out, err := r.ClickElement(testutil.TestContext(t), saveButton, r.DefaultOptions())
		require.NoError(t, err)
		assert.False(t, out.Success)
		assert.Equal(t, "#save-btn", out.Selector)
		assert.Contains(t, out.Error, "detached node")
	})

	t.Run("unknown element is an error", func(t *testing.T) {
		r := New(mocks.NewMockDriver(), saveButtonStore(), nil, fastConfig())

		_, err := r.ClickElement(testutil.TestContext(t), "nope", r.DefaultOptions())
		assert.True(t, types.IsCode(err, types.ErrUnknownElement))
	})
}

func TestTypeIntoElement(t *testing.T) {
	t.Run("dom type", func(t *testing.T) {
		driver := mocks.NewMockDriver().WithElement("button.save", modalSave)
		r := New(driver, saveButtonStore(), nil, fastConfig())

		out, err := r.TypeIntoElement(testutil.TestContext(t), saveButton, "hello", r.DefaultOptions())
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, []string{"hello"}, driver.Typed())
		assert.Empty(t, driver.PointerClicks())
	})

	t.Run("coordinates focus then keyboard", func(t *testing.T) {
		driver := mocks.NewMockDriver()
		provider := mocks.NewMockVisionProvider().Then(fixtures.LocateFound(0.9, 320, 240, ""))
		r := New(driver, saveButtonStore(), nil, fastConfig(), WithVisualLocator(newLocator(driver, provider)))

		out, err := r.TypeIntoElement(testutil.TestContext(t), saveButton, "world", r.DefaultOptions())
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, []types.Point{{X: 320, Y: 240}}, driver.PointerClicks())
		assert.Equal(t, []string{"world"}, driver.Typed())
	})
}

func TestSelectOption(t *testing.T) {
	t.Run("dom select", func(t *testing.T) {
		driver := mocks.NewMockDriver().WithElement("#save-btn", modalSave)
		r := New(driver, saveButtonStore(), nil, fastConfig())

		out, err := r.SelectOption(testutil.TestContext(t), saveButton, "draft", r.DefaultOptions())
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, "draft", driver.Selected("#save-btn"))
	})

	t.Run("coordinates only cannot select", func(t *testing.T) {
		driver := mocks.NewMockDriver()
		provider := mocks.NewMockVisionProvider().Then(fixtures.LocateFound(0.9, 500, 600, ""))
		r := New(driver, saveButtonStore(), nil, fastConfig(), WithVisualLocator(newLocator(driver, provider)))

		out, err := r.SelectOption(testutil.TestContext(t), saveButton, "draft", r.DefaultOptions())
		require.NoError(t, err)
		assert.False(t, out.Success)
		assert.Equal(t, MethodVisualCoordinates, out.Method)
		assert.NotNil(t, out.Coordinates)
	})
}

func TestWaitForElement(t *testing.T) {
	t.Run("appears later", func(t *testing.T) {
		driver := mocks.NewMockDriver()
		ledger := learning.NewLedger(nil)
		r := New(driver, saveButtonStore(), ledger, fastConfig())

		go func() {
			time.Sleep(120 * time.Millisecond)
			driver.WithElement("#save-btn", modalSave)
		}()

		out, err := r.WaitForElement(testutil.TestContext(t), saveButton, 2*time.Second)
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, "#save-btn", out.Selector)
		assert.Empty(t, ledger.FailedSelectors(saveButton), "waiting records no failures")
	})

	t.Run("times out without visual", func(t *testing.T) {
		driver := mocks.NewMockDriver()
		provider := mocks.NewMockVisionProvider().Then(fixtures.LocateFound(0.9, 500, 600, ""))
		r := New(driver, saveButtonStore(), nil, fastConfig(), WithVisualLocator(newLocator(driver, provider)))

		start := time.Now()
		out, err := r.WaitForElement(testutil.TestContext(t), saveButton, 150*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, out.Success)
		assert.Zero(t, provider.Calls())
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("visual-only element", func(t *testing.T) {
		store := candidates.NewStore(candidates.CandidateSet{ID: "hero", VisualDescription: "big hero banner"})
		r := New(mocks.NewMockDriver(), store, nil, fastConfig())

		out, err := r.WaitForElement(testutil.TestContext(t), "hero", time.Second)
		require.NoError(t, err)
		assert.False(t, out.Success)
	})
}

func TestElementExists(t *testing.T) {
	driver := mocks.NewMockDriver().WithElement("#save-btn", modalSave)
	ledger := learning.NewLedger(nil)
	cfg := fastConfig()
	cfg.ExistsTimeout = 100 * time.Millisecond
	r := New(driver, saveButtonStore(), ledger, cfg)

	ok, err := r.ElementExists(testutil.TestContext(t), saveButton)
	require.NoError(t, err)
	assert.True(t, ok)

	driver.Remove("#save-btn")
	ok, err = r.ElementExists(testutil.TestContext(t), saveButton)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Empty(t, ledger.FailedSelectors(saveButton))
	assert.Zero(t, ledger.SuccessCount(saveButton, "#save-btn"))

	_, err = r.ElementExists(testutil.TestContext(t), "nope")
	assert.True(t, types.IsCode(err, types.ErrUnknownElement))
}

func TestSelectorHealth(t *testing.T) {
	store := candidates.NewStore(
		candidates.CandidateSet{ID: "menu.saveButton", Selectors: []string{"button.save", "#save-btn"}},
		candidates.CandidateSet{ID: "menu.open", Selectors: []string{"#open"}},
		candidates.CandidateSet{ID: "menu.hidden", Selectors: []string{"#hidden"}},
	)
	driver := mocks.NewMockDriver().
		WithElement("#save-btn", modalSave).
		WithHiddenElement("#hidden")
	ledger := learning.NewLedger(nil)
	r := New(driver, store, ledger, fastConfig())

	health := r.SelectorHealth(testutil.TestContext(t))
	assert.Equal(t, map[types.ElementID]bool{
		"menu.saveButton": true,
		"menu.open":       false,
		"menu.hidden":     false,
	}, health)
	assert.Equal(t, learning.Stats{}, ledger.Stats())
}
