package vision

import (
	"context"
	"errors"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/driftguard/browser"
	"github.com/BaSui01/driftguard/config"
	"github.com/BaSui01/driftguard/llm"
	"github.com/BaSui01/driftguard/testutil"
	"github.com/BaSui01/driftguard/testutil/fixtures"
	"github.com/BaSui01/driftguard/testutil/mocks"
	"github.com/BaSui01/driftguard/types"
)

var (
	viewportShot = fixtures.SolidPNG(1280, 800, color.White)
	changedShot  = fixtures.SolidPNG(1280, 800, color.Black)
)

func testConfig() config.VisionConfig {
	cfg := config.DefaultVisionConfig()
	cfg.RetryDelay = 0
	cfg.CallTimeout = 2 * time.Second
	return cfg
}

func newTestLocator(driver *mocks.MockDriver, provider *mocks.MockVisionProvider) *Locator {
	return NewLocator(driver, provider, testConfig())
}

func TestLocate_ProseWrappedResponse(t *testing.T) {
	driver := mocks.NewMockDriver().WithScreenshots(viewportShot)
	provider := mocks.NewMockVisionProvider().
		Then(fixtures.WithProse(fixtures.LocateFound(0.92, 500, 600, ".modal-save")))

	loc, err := newTestLocator(driver, provider).Locate(testutil.TestContext(t), "blue Save button bottom-right of modal", LocateOptions{})
	require.NoError(t, err)
	require.NotNil(t, loc)

	assert.Equal(t, 500.0, loc.X)
	assert.Equal(t, 600.0, loc.Y)
	assert.InDelta(t, 0.92, loc.Confidence, 1e-9)
	assert.Equal(t, ".modal-save", loc.SuggestedSelector)
	assert.Equal(t, 1, loc.Attempts)
	assert.Equal(t, types.Rect{X: 440, Y: 580, Width: 120, Height: 40}, loc.Rect())

	req := provider.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, llm.CallSiteLocate, req.CallSite)
	assert.Contains(t, req.Prompt, "blue Save button bottom-right of modal")
	require.Len(t, req.Images, 1)
	assert.Equal(t, "image/png", req.Images[0].MediaType)
}

func TestLocate_ParseFailureRetriesWithFreshScreenshot(t *testing.T) {
	driver := mocks.NewMockDriver().WithScreenshots(viewportShot)
	provider := mocks.NewMockVisionProvider().
		Then("I cannot produce JSON right now").
		Then(fixtures.LocateFound(0.8, 100, 100, ""))

	loc, err := newTestLocator(driver, provider).Locate(testutil.TestContext(t), "login button", LocateOptions{})
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 2, loc.Attempts)
	assert.Equal(t, 2, provider.Calls())
	assert.Equal(t, 2, driver.CallCount("Screenshot"))
}

func TestLocate_NeverAcceptsLowConfidence(t *testing.T) {
	driver := mocks.NewMockDriver().WithScreenshots(viewportShot)
	provider := mocks.NewMockVisionProvider().WithFallback(fixtures.LocateFound(0.69, 100, 100, "#maybe"))

	loc, err := newTestLocator(driver, provider).Locate(testutil.TestContext(t), "login button", LocateOptions{})
	require.NoError(t, err)
	assert.Nil(t, loc)
	assert.Equal(t, 3, provider.Calls(), "every attempt is spent before giving up")
}

func TestLocate_MinConfidenceOverride(t *testing.T) {
	driver := mocks.NewMockDriver().WithScreenshots(viewportShot)
	provider := mocks.NewMockVisionProvider().WithFallback(fixtures.LocateFound(0.5, 100, 100, ""))

	loc, err := newTestLocator(driver, provider).Locate(testutil.TestContext(t), "x", LocateOptions{MinConfidence: 0.4})
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 1, provider.Calls())
}

func TestLocate_NotFound(t *testing.T) {
	driver := mocks.NewMockDriver().WithScreenshots(viewportShot)
	provider := mocks.NewMockVisionProvider().WithFallback(fixtures.LocateNotFound())

	loc, err := newTestLocator(driver, provider).Locate(testutil.TestContext(t), "x", LocateOptions{})
	require.NoError(t, err)
	assert.Nil(t, loc)
}

func TestLocate_RejectsCoordinatesOutsideScreenshot(t *testing.T) {
	driver := mocks.NewMockDriver().WithScreenshots(viewportShot)
	provider := mocks.NewMockVisionProvider().
		Then(fixtures.LocateFound(0.95, 5000, 100, "")).
		Then(fixtures.LocateFound(0.95, 50, 100, ""))

	loc, err := newTestLocator(driver, provider).Locate(testutil.TestContext(t), "x", LocateOptions{})
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 50.0, loc.X)
	assert.Equal(t, 2, loc.Attempts)
}

func TestLocate_PercentConfidence(t *testing.T) {
	driver := mocks.NewMockDriver().WithScreenshots(viewportShot)
	provider := mocks.NewMockVisionProvider().
		Then(`{"found": "yes", "confidence": 92, "x": "10", "y": 20}`)

	loc, err := newTestLocator(driver, provider).Locate(testutil.TestContext(t), "x", LocateOptions{})
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.InDelta(t, 0.92, loc.Confidence, 1e-9)
	assert.Equal(t, 10.0, loc.X)
}

func TestLocate_TransportErrors(t *testing.T) {
	t.Run("non-retryable stops immediately", func(t *testing.T) {
		driver := mocks.NewMockDriver().WithScreenshots(viewportShot)
		provider := mocks.NewMockVisionProvider().
			ThenError(llm.MapHTTPError(401, "bad key", "mock"))

		loc, err := newTestLocator(driver, provider).Locate(testutil.TestContext(t), "x", LocateOptions{})
		assert.Nil(t, loc)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrInferenceFailed))
		assert.Equal(t, 1, provider.Calls())
	})

	t.Run("retryable then success", func(t *testing.T) {
		driver := mocks.NewMockDriver().WithScreenshots(viewportShot)
		provider := mocks.NewMockVisionProvider().
			ThenError(llm.MapHTTPError(503, "overloaded", "mock")).
			Then(fixtures.LocateFound(0.9, 10, 10, ""))

		loc, err := newTestLocator(driver, provider).Locate(testutil.TestContext(t), "x", LocateOptions{})
		require.NoError(t, err)
		require.NotNil(t, loc)
		assert.Equal(t, 2, provider.Calls())
	})

	t.Run("retryable exhausted", func(t *testing.T) {
		driver := mocks.NewMockDriver().WithScreenshots(viewportShot)
		provider := mocks.NewMockVisionProvider().WithError(llm.MapHTTPError(500, "boom", "mock"))

		loc, err := newTestLocator(driver, provider).Locate(testutil.TestContext(t), "x", LocateOptions{})
		assert.Nil(t, loc)
		assert.True(t, types.IsCode(err, types.ErrInferenceFailed))
		assert.Equal(t, 3, provider.Calls())
	})

	t.Run("screenshot failure is a driver error", func(t *testing.T) {
		driver := mocks.NewMockDriver().WithError("Screenshot", errors.New("target closed"))
		provider := mocks.NewMockVisionProvider()

		_, err := newTestLocator(driver, provider).Locate(testutil.TestContext(t), "x", LocateOptions{})
		assert.True(t, types.IsCode(err, types.ErrDriver))
		assert.Equal(t, 0, provider.Calls())
	})
}

func TestLocate_PerCallTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	driver := mocks.NewMockDriver().WithScreenshots(viewportShot)
	provider := mocks.NewMockVisionProvider().WithHandler(func(ctx context.Context, req *llm.VisionRequest) (*llm.VisionResponse, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &llm.VisionResponse{Text: fixtures.LocateFound(0.9, 10, 10, "")}, nil
	})

	cfg := testConfig()
	cfg.CallTimeout = 30 * time.Millisecond
	loc, err := NewLocator(driver, provider, cfg).Locate(testutil.TestContext(t), "x", LocateOptions{})
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 2, loc.Attempts)
}

func TestLocate_CallerCancellation(t *testing.T) {
	driver := mocks.NewMockDriver().WithScreenshots(viewportShot)
	provider := mocks.NewMockVisionProvider().WithDelay(5 * time.Second)

	start := time.Now()
	loc, err := newTestLocator(driver, provider).Locate(testutil.TestContextWithTimeout(t, 50*time.Millisecond), "x", LocateOptions{})
	assert.Nil(t, loc)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLocate_EmptyDescription(t *testing.T) {
	_, err := newTestLocator(mocks.NewMockDriver(), mocks.NewMockVisionProvider()).Locate(context.Background(), "  ", LocateOptions{})
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestLocate_FullPageScrollsBeforeReturning(t *testing.T) {
	driver := mocks.NewMockDriver().
		WithViewport(browser.Viewport{Width: 1280, Height: 800, PageWidth: 1280, PageHeight: 3000}).
		WithScreenshots(fixtures.SolidPNG(1280, 3000, color.White), viewportShot)
	provider := mocks.NewMockVisionProvider().
		Then(fixtures.LocateFound(0.9, 640, 2500, "")).
		Then(fixtures.LocateFound(0.88, 640, 300, ""))

	loc, err := newTestLocator(driver, provider).Locate(testutil.TestContext(t), "footer link", LocateOptions{FullPage: true})
	require.NoError(t, err)
	require.NotNil(t, loc)

	assert.True(t, loc.Scrolled)
	assert.Equal(t, 300.0, loc.Y)
	assert.Equal(t, 2, loc.Attempts)
	assert.Equal(t, []types.Point{{X: 0, Y: 2200}}, driver.Scrolls(), "scroll clamps to the page end")
	assert.Equal(t, []bool{true, false}, driver.FullPageShots())
}

func TestLocate_FullPageVisibleHitIsTranslated(t *testing.T) {
	driver := mocks.NewMockDriver().
		WithViewport(browser.Viewport{Width: 1280, Height: 800, ScrollY: 100, PageWidth: 1280, PageHeight: 3000}).
		WithScreenshots(fixtures.SolidPNG(1280, 3000, color.White))
	provider := mocks.NewMockVisionProvider().Then(fixtures.LocateFound(0.9, 640, 300, ""))

	loc, err := newTestLocator(driver, provider).Locate(testutil.TestContext(t), "x", LocateOptions{FullPage: true})
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.False(t, loc.Scrolled)
	assert.Equal(t, 200.0, loc.Y)
	assert.Empty(t, driver.Scrolls())
}

func TestScrollTarget(t *testing.T) {
	tests := []struct {
		name                               string
		pos, current, extent, page, margin float64
		want                               float64
	}{
		{"inside", 300, 0, 800, 3000, 200, 0},
		{"below", 1500, 0, 800, 3000, 200, 1300},
		{"above", 100, 1000, 800, 3000, 200, 0},
		{"clamped to page end", 2900, 0, 800, 3000, 200, 2200},
		{"page fits viewport", 900, 0, 800, 800, 200, 700},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scrollTarget(tt.pos, tt.current, tt.extent, tt.page, tt.margin))
		})
	}
}

func TestLocateAndClick(t *testing.T) {
	driver := mocks.NewMockDriver().WithScreenshots(viewportShot)
	provider := mocks.NewMockVisionProvider().Then(fixtures.LocateFound(0.92, 500, 600, ""))
	l := newTestLocator(driver, provider)

	loc, err := l.LocateAndClick(testutil.TestContext(t), "save", LocateOptions{})
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, []types.Point{{X: 500, Y: 600}}, driver.PointerClicks())

	loc, err = l.LocateAndClick(testutil.TestContext(t), "missing", LocateOptions{})
	require.NoError(t, err)
	assert.Nil(t, loc)
	assert.Len(t, driver.PointerClicks(), 1, "no click without a confident location")
}

func TestLocateAndType(t *testing.T) {
	driver := mocks.NewMockDriver().WithScreenshots(viewportShot)
	provider := mocks.NewMockVisionProvider().Then(fixtures.LocateFound(0.9, 200, 120, ""))

	loc, err := newTestLocator(driver, provider).LocateAndType(testutil.TestContext(t), "email field", "a@b.c", LocateOptions{})
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, []types.Point{{X: 200, Y: 120}}, driver.PointerClicks())
	assert.Equal(t, []string{"a@b.c"}, driver.Typed())
}

func TestVerifyState(t *testing.T) {
	ctx := testutil.TestContext(t)

	t.Run("confident match", func(t *testing.T) {
		provider := mocks.NewMockVisionProvider().Then(fixtures.WithProse(fixtures.StateCheck(true, "checked", 0.9)))
		res, err := newTestLocator(mocks.NewMockDriver(), provider).VerifyState(ctx, "remember me checkbox", "checked")
		require.NoError(t, err)
		assert.True(t, res.Matches)
		assert.Equal(t, "checked", res.ActualState)
		assert.Equal(t, llm.CallSiteVerify, provider.LastRequest().CallSite)
	})

	t.Run("low confidence never matches", func(t *testing.T) {
		provider := mocks.NewMockVisionProvider().Then(fixtures.StateCheck(true, "checked", 0.4))
		res, err := newTestLocator(mocks.NewMockDriver(), provider).VerifyState(ctx, "checkbox", "checked")
		require.NoError(t, err)
		assert.False(t, res.Matches)
	})

	t.Run("unparseable is an error", func(t *testing.T) {
		provider := mocks.NewMockVisionProvider().WithFallback("looks fine to me")
		res, err := newTestLocator(mocks.NewMockDriver(), provider).VerifyState(ctx, "checkbox", "checked")
		assert.Nil(t, res)
		assert.True(t, types.IsCode(err, types.ErrInferenceFailed))
		assert.Equal(t, 3, provider.Calls())
	})
}

func TestFindAll(t *testing.T) {
	driver := mocks.NewMockDriver().WithScreenshots(viewportShot)
	provider := mocks.NewMockVisionProvider().Then(fixtures.FindAll(
		fixtures.FoundElement{Description: "Burgers", X: 100, Y: 200, Width: 80, Height: 30, Confidence: 0.9, SuggestedSelector: "[data-category=burgers]"},
		fixtures.FoundElement{Description: "Drinks", X: 100, Y: 260, Width: 80, Height: 30, Confidence: 0.3},
		fixtures.FoundElement{Description: "Sides", X: 100, Y: 320, Width: 80, Height: 30, Confidence: 0.85},
	))

	found, err := newTestLocator(driver, provider).FindAll(testutil.TestContext(t), "menu category tabs")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Burgers", found[0].Label)
	assert.Equal(t, "[data-category=burgers]", found[0].SuggestedSelector)
	assert.Equal(t, "Sides", found[1].Label)
}

func TestFindAll_Empty(t *testing.T) {
	provider := mocks.NewMockVisionProvider().Then(`Nothing here: {"elements": []}`)
	found, err := newTestLocator(mocks.NewMockDriver(), provider).FindAll(testutil.TestContext(t), "modals")
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Equal(t, 1, provider.Calls())
}

func TestCompareImages(t *testing.T) {
	provider := mocks.NewMockVisionProvider().
		Then(`Sure! {"similarity":0.4,"automationImpact":"High","breakingChanges":["save button moved"],"nonBreakingChanges":["new banner"]}`)
	l := newTestLocator(mocks.NewMockDriver(), provider)

	cmp, err := l.CompareImages(testutil.TestContext(t), viewportShot, changedShot)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, cmp.Similarity, 1e-9)
	assert.Equal(t, types.ImpactHigh, cmp.Impact)
	assert.Equal(t, []string{"save button moved", "new banner"}, cmp.Changes())

	req := provider.LastRequest()
	assert.Equal(t, llm.CallSiteCompare, req.CallSite)
	assert.Len(t, req.Images, 2)
}

func TestCompareImages_InvalidImpactRetries(t *testing.T) {
	provider := mocks.NewMockVisionProvider().
		Then(`{"similarity": 0.9, "automationImpact": "apocalyptic"}`).
		Then(fixtures.Comparison(0.9, "low", nil, []string{"font change"}))

	cmp, err := newTestLocator(mocks.NewMockDriver(), provider).CompareImages(testutil.TestContext(t), viewportShot, changedShot)
	require.NoError(t, err)
	assert.Equal(t, types.ImpactLow, cmp.Impact)
	assert.Equal(t, 2, provider.Calls())
}

func TestCompareImages_EmptyInput(t *testing.T) {
	_, err := newTestLocator(mocks.NewMockDriver(), mocks.NewMockVisionProvider()).CompareImages(context.Background(), nil, viewportShot)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestCompareLive_FreshCapturePerAttempt(t *testing.T) {
	provider := mocks.NewMockVisionProvider().
		ThenError(types.NewError(types.ErrUpstreamError, "overloaded").WithRetryable(true)).
		Then(fixtures.Comparison(0.8, "medium", []string{"toolbar moved"}, nil))
	captures := 0
	capture := func(context.Context) ([]byte, error) {
		captures++
		return fixtures.SolidPNG(1280, 800, color.Gray{Y: uint8(captures)}), nil
	}

	cmp, err := newTestLocator(mocks.NewMockDriver(), provider).CompareLive(testutil.TestContext(t), viewportShot, capture)
	require.NoError(t, err)
	assert.False(t, cmp.Identical)
	assert.Equal(t, types.ImpactMedium, cmp.Impact)
	assert.Equal(t, 2, captures)
	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	assert.NotEqual(t, reqs[0].Images[1].Data, reqs[1].Images[1].Data)
}

func TestCompareLive_IdenticalCaptureSkipsInference(t *testing.T) {
	provider := mocks.NewMockVisionProvider()
	cmp, err := newTestLocator(mocks.NewMockDriver(), provider).CompareLive(testutil.TestContext(t), viewportShot,
		func(context.Context) ([]byte, error) { return viewportShot, nil })
	require.NoError(t, err)
	assert.True(t, cmp.Identical)
	assert.Equal(t, 1.0, cmp.Similarity)
	assert.Equal(t, types.ImpactNone, cmp.Impact)
	assert.Zero(t, provider.Calls())
}

func TestCompareLive_CaptureFailure(t *testing.T) {
	provider := mocks.NewMockVisionProvider()
	_, err := newTestLocator(mocks.NewMockDriver(), provider).CompareLive(testutil.TestContext(t), viewportShot,
		func(context.Context) ([]byte, error) { return nil, errors.New("target closed") })
	assert.True(t, types.IsCode(err, types.ErrDriver))
	assert.Zero(t, provider.Calls())
}

func TestCtxFields(t *testing.T) {
	assert.Empty(t, ctxFields(context.Background()))

	ctx := types.WithRunID(context.Background(), "run-1")
	ctx = types.WithElementID(ctx, "menu.saveButton")
	ctx = types.WithPageType(ctx, "login")
	fields := ctxFields(ctx)
	require.Len(t, fields, 3)
	assert.Equal(t, "run_id", fields[0].Key)
	assert.Equal(t, "element_id", fields[1].Key)
	assert.Equal(t, "menu.saveButton", fields[1].String)
	assert.Equal(t, "page_type", fields[2].Key)
}
