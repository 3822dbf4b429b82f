// =============================================================================
// DriftGuard 命令行入口
// =============================================================================
// 解析逻辑元素、执行交互、捕获/对比页面基线
//
// 使用方法:
//
//	driftguard resolve --url https://app.test menu.saveButton
//	driftguard click   --url https://app.test menu.saveButton
//	driftguard type    --url https://app.test login.email user@example.com
//	driftguard find    --url https://app.test "blue Save button"
//	driftguard capture --url https://app.test/login login
//	driftguard compare --url https://app.test/login login
//	driftguard health  --url https://app.test
//	driftguard health  --url https://app.test --watch 30s
//	driftguard ledger
//	driftguard version
// =============================================================================

package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/driftguard/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "resolve":
		err = runResolve(os.Args[2:])
	case "click":
		err = runClick(os.Args[2:])
	case "type":
		err = runType(os.Args[2:])
	case "find":
		err = runFind(os.Args[2:])
	case "capture":
		err = runCapture(os.Args[2:])
	case "compare":
		err = runCompare(os.Args[2:])
	case "health":
		err = runHealth(os.Args[2:])
	case "ledger":
		err = runLedger(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("DriftGuard %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`DriftGuard - self-healing element resolution and UI drift detection

Usage:
  driftguard <command> [options] [arguments]

Commands:
  resolve <element-id>          Resolve an element and print the result
  click <element-id>            Resolve and click an element
  type <element-id> <text>      Resolve an element and type text into it
  find <description>            Find a selector from a natural-language description
  capture <page-type>           Capture the current page as a baseline
  compare <page-type>           Compare the current page against its baseline
  health [--watch 30s]          Probe every element's static candidates (repeatedly with --watch)
  ledger                        Print learning ledger statistics
  version                       Show version information
  help                          Show this help message

Common options:
  --config <path>     Path to configuration file (YAML)
  --url <url>         Page to open before running the command
  --timeout <dur>     Resolution budget (resolve/click/type)
  --no-visual         Disable the visual fallback tier
  --overwrite         Replace an existing baseline (capture)
  --threshold <f>     Similarity threshold (compare)
  --no-ai             Use pixel comparison instead of the inference service (compare)

Exit codes:
  0  success
  1  usage or runtime error
  2  element not resolved / drift detected`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
