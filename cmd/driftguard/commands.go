package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/driftguard/baseline"
	"github.com/BaSui01/driftguard/config"
	"github.com/BaSui01/driftguard/learning"
	"github.com/BaSui01/driftguard/resolver"
	"github.com/BaSui01/driftguard/semantic"
	"github.com/BaSui01/driftguard/types"
)

// errNegative 命令正常执行但结果为否定（未解析到元素、检测到漂移）
var errNegative = errors.New("negative result")

func exitCode(err error) int {
	if errors.Is(err, errNegative) {
		return 2
	}
	return 1
}

// signalContext Ctrl-C 取消正在进行的解析/推理；每次运行带独立 run_id
func signalContext() (context.Context, context.CancelFunc) {
	ctx := types.WithRunID(context.Background(), uuid.NewString())
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resolveFlags resolve/click/type 共用参数
type resolveFlags struct {
	commonFlags
	timeout  time.Duration
	noVisual bool
}

func parseResolveFlags(name string, args []string) (*resolveFlags, []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	f := &resolveFlags{}
	f.register(fs)
	fs.DurationVar(&f.timeout, "timeout", 0, "Resolution budget (default from config)")
	fs.BoolVar(&f.noVisual, "no-visual", false, "Disable the visual fallback tier")
	fs.Parse(args)
	return f, fs.Args()
}

func (f *resolveFlags) options(r *resolver.Resolver) resolver.Options {
	opts := r.DefaultOptions()
	if f.timeout > 0 {
		opts.Timeout = f.timeout
	}
	if f.noVisual {
		opts.AllowVisualFallback = false
	}
	return opts
}

// runAction 打开页面、构造解析器并执行一个动作
func runAction(name string, args []string, minArgs int, act func(ctx context.Context, r *resolver.Resolver, opts resolver.Options, args []string) (resolver.ActionResult, error)) error {
	f, rest := parseResolveFlags(name, args)
	if len(rest) < minArgs {
		return fmt.Errorf("%s: expected %d argument(s), got %d", name, minArgs, len(rest))
	}
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, f.commonFlags, appNeeds{browser: true, inference: !f.noVisual, resolver: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	out, err := act(ctx, a.resolver, f.options(a.resolver), rest)
	if err != nil {
		return err
	}
	if err := printJSON(out); err != nil {
		return err
	}
	if !out.Success {
		return errNegative
	}
	return nil
}

// =============================================================================
// 🎯 解析与交互命令
// =============================================================================

func runResolve(args []string) error {
	return runAction("resolve", args, 1, func(ctx context.Context, r *resolver.Resolver, opts resolver.Options, rest []string) (resolver.ActionResult, error) {
		return r.FindElement(ctx, types.ElementID(rest[0]), opts)
	})
}

func runClick(args []string) error {
	return runAction("click", args, 1, func(ctx context.Context, r *resolver.Resolver, opts resolver.Options, rest []string) (resolver.ActionResult, error) {
		return r.ClickElement(ctx, types.ElementID(rest[0]), opts)
	})
}

func runType(args []string) error {
	return runAction("type", args, 2, func(ctx context.Context, r *resolver.Resolver, opts resolver.Options, rest []string) (resolver.ActionResult, error) {
		return r.TypeIntoElement(ctx, types.ElementID(rest[0]), strings.Join(rest[1:], " "), opts)
	})
}

// runFind 直接使用语义查找（带视觉兜底），不经过候选集
func runFind(args []string) error {
	fs := flag.NewFlagSet("find", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	pageContext := fs.String("context", "", "Page context used in the cache key")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("find: expected a description")
	}
	description := strings.Join(fs.Args(), " ")

	ctx, cancel := signalContext()
	defer cancel()
	a, err := newApp(ctx, common, appNeeds{browser: true, inference: true, resolver: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	finder := semantic.NewFinder(a.driver, a.finder.Library(), a.cache,
		semantic.WithVisualLocator(a.locator),
		semantic.WithLogger(a.logger),
		semantic.WithMetrics(a.metrics))
	match, err := finder.FindBySemanticDescription(ctx, description, *pageContext)
	if err != nil {
		return err
	}
	if match == nil {
		_ = printJSON(map[string]any{"found": false, "description": description})
		return errNegative
	}
	return printJSON(match)
}

// =============================================================================
// 🖼️ 基线命令
// =============================================================================

func runCapture(args []string) error {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	overwrite := fs.Bool("overwrite", false, "Replace an existing baseline")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("capture: expected a page type")
	}

	ctx, cancel := signalContext()
	defer cancel()
	a, err := newApp(ctx, common, appNeeds{browser: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	cmp, err := a.comparator()
	if err != nil {
		return err
	}
	rec, err := cmp.Capture(ctx, fs.Arg(0), baseline.CaptureOptions{Overwrite: *overwrite})
	if err != nil {
		return err
	}
	return printJSON(rec)
}

func runCompare(args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	threshold := fs.Float64("threshold", 0, "Similarity threshold (default from config)")
	noAI := fs.Bool("no-ai", false, "Use pixel comparison instead of the inference service")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("compare: expected a page type")
	}

	ctx, cancel := signalContext()
	defer cancel()
	a, err := newApp(ctx, common, appNeeds{browser: true, inference: !*noAI})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	cmp, err := a.comparator()
	if err != nil {
		return err
	}
	opts := cmp.DefaultCompareOptions()
	if *threshold > 0 {
		opts.SimilarityThreshold = *threshold
	}
	if *noAI {
		opts.UseAI = false
	}
	res, err := cmp.Compare(ctx, fs.Arg(0), opts)
	if err != nil {
		return err
	}
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.Matches {
		return errNegative
	}
	return nil
}

// =============================================================================
// 🏥 体检与账本命令
// =============================================================================

// healthReport 一轮选择器体检结果
type healthReport struct {
	Elements map[types.ElementID]bool `json:"elements"`
	Broken   int                      `json:"broken"`
}

func checkHealth(ctx context.Context, r *resolver.Resolver) healthReport {
	rep := healthReport{Elements: r.SelectorHealth(ctx)}
	for _, ok := range rep.Elements {
		if !ok {
			rep.Broken++
		}
	}
	return rep
}

// watchHealth 按 every 周期体检，候选集文件变化时热加载；ctx 取消时正常返回
func watchHealth(ctx context.Context, a *app, every time.Duration, emit func(healthReport) error) error {
	w, err := a.store.Watch(ctx, a.cfg.Candidates.Path,
		config.WithPollInterval(a.cfg.Candidates.WatchInterval))
	if err != nil {
		return err
	}
	defer w.Stop()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := emit(checkHealth(ctx, a.resolver)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	every := fs.Duration("watch", 0, "Keep running and re-check at this interval, reloading the candidates file on change")
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	a, err := newApp(ctx, common, appNeeds{browser: true, resolver: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if *every > 0 {
		enc := json.NewEncoder(os.Stdout)
		return watchHealth(ctx, a, *every, func(rep healthReport) error { return enc.Encode(rep) })
	}

	rep := checkHealth(ctx, a.resolver)
	if err := printJSON(rep); err != nil {
		return err
	}
	if rep.Broken > 0 {
		return errNegative
	}
	return nil
}

func runLedger(args []string) error {
	fs := flag.NewFlagSet("ledger", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	full := fs.Bool("full", false, "Print the whole ledger document")
	fs.Parse(args)

	cfg, err := loadConfig(common.configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()
	backend, err := learning.NewStore(ctx, cfg.Learning, logger)
	if err != nil {
		return err
	}
	defer backend.Close()
	ledger := learning.NewLedger(backend, learning.WithLogger(logger))
	if err := ledger.Load(ctx); err != nil {
		return err
	}
	if *full {
		return printJSON(ledger.Snapshot())
	}
	return printJSON(map[string]any{"store": backend.Name(), "stats": ledger.Stats()})
}
