package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credit-ledger/internal/biz"
	"credit-ledger/internal/conf"

	"github.com/gaoyong06/go-pkg/logger"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

// defaultResetSweep 每小时整点
const defaultResetSweep = "0 0 * * * *"

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

// CronApp Cron 应用结构
type CronApp struct {
	sweepUsecase *biz.ResetSweepUseCase
}

func newCronApp(sweep *biz.ResetSweepUseCase) *CronApp {
	return &CronApp{sweepUsecase: sweep}
}

func main() {
	flag.Parse()

	// 初始化配置
	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	// 初始化日志 (使用 go-pkg/logger)
	logConfig := &logger.Config{
		Level:         "info",
		Format:        "json",
		Output:        "stdout",
		FilePath:      "logs/credit-ledger-cron.log",
		MaxSize:       100,
		MaxAge:        30,
		MaxBackups:    10,
		Compress:      true,
		EnableConsole: true,
	}

	loggerInstance := logger.NewLogger(logConfig)

	loggerInstance = log.With(loggerInstance,
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", "credit-ledger-cron",
	)

	logHelper := log.NewHelper(loggerInstance)

	app, cleanup, err := wireApp(&bc, loggerInstance)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	spec := defaultResetSweep
	if bc.Cron != nil && bc.Cron.ResetSweep != "" {
		spec = bc.Cron.ResetSweep
	}

	// 支持秒级调度；上一次扫描未结束时跳过本次
	cronScheduler := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	_, err = cronScheduler.AddFunc(spec, func() {
		logHelper.Info("[CRON] Starting weekly reset sweep...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		count, err := app.sweepUsecase.Sweep(ctx)
		if err != nil {
			logHelper.Errorf("[CRON] Error sweeping weekly resets: %v", err)
			return
		}
		logHelper.Infof("[CRON] Finished weekly reset sweep: reset=%d", count)
	})
	if err != nil {
		panic(err)
	}

	cronScheduler.Start()
	logHelper.Infof("Cron jobs started, weekly reset sweep schedule: %s", spec)

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logHelper.Info("Shutting down gracefully...")

	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		logHelper.Info("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		logHelper.Info("Cron jobs forced to stop after timeout")
	}
}
