// Command train_sed trains the sound event detection baseline, or evaluates
// a checkpoint with --test_from_checkpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/YuminosukeSato/sedbaseline/config"
	"github.com/YuminosukeSato/sedbaseline/pipeline"
	"github.com/YuminosukeSato/sedbaseline/pkg/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	confFile := flag.String("conf_file", "./confs/sed.yaml", "the configuration file with all the experiment parameters")
	logDir := flag.String("log_dir", "./exp/2021_baseline", "directory where to save tensorboard-style logs, checkpoints and test outputs")
	resume := flag.String("resume_from_checkpoint", "", "allow the training to be resumed, take as input a previously saved model (.ckpt)")
	testFrom := flag.String("test_from_checkpoint", "", "test the model specified")
	gpus := flag.String("gpus", "0", "number of GPUs to use, or a comma separated device list; only CPU training is available")
	fastDev := flag.Bool("fast_dev_run", false, "use this option for debugging: 3 epochs of 2 batches per phase")
	logLevel := flag.String("log_level", "", "debug, info, warn or error (overrides SED_LOG_LEVEL)")
	envFile := flag.String("env_file", "", "dotenv file with SED_* overrides (default .env when present)")

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: train_sed [flags]")
		fmt.Fprintln(os.Stderr, "  Training a SED system for DESED.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	fail := color.New(color.FgRed, color.Bold)

	env, err := config.LoadEnv(*envFile)
	if err != nil {
		fail.Fprintf(os.Stderr, "env: %v\n", err)
		return 2
	}
	levelName := env.LogLevel
	if *logLevel != "" {
		levelName = *logLevel
	}
	level, ok := log.ParseLevel(levelName)
	if !ok {
		fail.Fprintf(os.Stderr, "unknown log level %q\n", levelName)
		return 2
	}
	format := env.LogFormat
	if format == "" {
		format = "console"
	}
	logger := log.SetupLogger(level, format, os.Stderr)

	cfg, err := config.Load(*confFile)
	if err != nil {
		logger.Error("invalid configuration", err)
		return 1
	}
	env.Apply(cfg)

	testOnly := *testFrom != ""
	banner(*confFile, *logDir, testOnly, *fastDev)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pipeline.PrepareData(cfg.Data, testOnly, logger); err != nil {
		logger.Error("data preparation failed", err)
		return 1
	}

	opts := pipeline.RunOptions{
		LogDir:               *logDir,
		ResumeFromCheckpoint: *resume,
		GPUs:                 *gpus,
		FastDevRun:           *fastDev,
		Logger:               logger,
	}
	if testOnly {
		merged, ckpt, err := pipeline.LoadTestCheckpoint(*testFrom, cfg)
		if err != nil {
			logger.Error("loading test checkpoint failed", err, log.CheckpointPathKey, *testFrom)
			return 1
		}
		cfg, opts.TestCheckpoint = merged, ckpt
	}

	res, err := pipeline.SingleRun(ctx, cfg, opts)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("run interrupted")
			return 130
		}
		logger.Error("run failed", err)
		return 1
	}

	done := color.New(color.FgGreen, color.Bold)
	done.Fprintf(os.Stderr, "run finished: %s\n", res.Dir)
	if res.Fit.BestModelPath != "" {
		fmt.Fprintf(os.Stderr, "  best checkpoint  %s (val/obj_metric %.4f)\n", res.Fit.BestModelPath, res.Fit.BestModelScore)
	}
	for _, tag := range []string{"test/student/event_f1_macro", "test/teacher/event_f1_macro", "test/student/weak_f1_macro"} {
		if v, ok := res.Test[tag]; ok {
			fmt.Fprintf(os.Stderr, "  %-30s %.4f\n", tag, v)
		}
	}
	return 0
}

func banner(confFile, logDir string, testOnly, fastDev bool) {
	title := color.New(color.FgCyan, color.Bold)
	mode := "train + test"
	if testOnly {
		mode = "test only"
	}
	title.Fprintln(os.Stderr, "SED baseline")
	fmt.Fprintf(os.Stderr, "  config   %s\n", confFile)
	fmt.Fprintf(os.Stderr, "  log_dir  %s\n", logDir)
	fmt.Fprintf(os.Stderr, "  mode     %s\n", mode)
	if fastDev {
		color.New(color.FgYellow).Fprintln(os.Stderr, "  fast_dev_run: 3 epochs, 2 batches per phase")
	}
}
