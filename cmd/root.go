package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pfc-calib/pfc-calib/calib"
	"github.com/pfc-calib/pfc-calib/calib/knowledge"
	"github.com/pfc-calib/pfc-calib/calib/loss"
	"github.com/pfc-calib/pfc-calib/calib/metrics"
	"github.com/pfc-calib/pfc-calib/calib/search"
	"github.com/pfc-calib/pfc-calib/calib/trace"
)

var (
	configPath string // Path to the YAML run configuration
	logLevel   string // Log verbosity level
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "pfc-calib",
	Short: "Distributed parameter calibration for multi-step PFC mining simulations",
}

// runCmd drives one optimization run per target case directory
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the calibration against the configured worker pool",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg, err := LoadRunConfig(configPath)
		if err != nil {
			logrus.Fatalf("Configuration error: %v", err)
		}

		m := metrics.New()
		if cfg.MetricsAddr != "" {
			m.Serve(cfg.MetricsAddr)
			logrus.Infof("metrics endpoint listening on %s", cfg.MetricsAddr)
		}

		cases, err := targetCases(cfg.TargetDataDir)
		if err != nil {
			logrus.Fatalf("Target data error: %v", err)
		}
		logrus.Infof("found %d target case(s): %v", len(cases), cases)

		for _, caseName := range cases {
			if err := runCase(cfg, m, caseName); err != nil {
				// A dead pool fails the case, not the queue: the next case
				// starts with a fresh pool.
				logrus.Errorf("case %s aborted: %v", caseName, err)
			}
		}
		logrus.Info("all target cases processed")
	},
}

// targetCases lists the per-case subdirectories under the target root.
func targetCases(root string) ([]string, error) {
	dirents, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var cases []string
	for _, de := range dirents {
		if de.IsDir() {
			cases = append(cases, de.Name())
		}
	}
	if len(cases) == 0 {
		return nil, errors.New("no target case subdirectories found")
	}
	return cases, nil
}

// runCase wires one optimization case together and runs it to completion.
func runCase(cfg *RunConfig, m *metrics.Metrics, caseName string) error {
	logrus.Infof("=== starting optimization for case %s ===", caseName)

	pool, err := calib.NewServerPool(cfg.Servers)
	if err != nil {
		return err
	}
	kb, err := knowledge.Open(cfg.KnowledgeBaseDir)
	if err != nil {
		return err
	}

	engine := &loss.Engine{
		TargetDir:       filepath.Join(cfg.TargetDataDir, caseName),
		TargetTransform: cfg.TargetTransform,
		SimTransform:    cfg.SimTransform,
		StepWeights:     cfg.StepWeights,
	}

	loop := &calib.Loop{
		Space:     cfg.Parameters,
		Optimizer: search.NewRandom(cfg.Parameters, cfg.Seed),
		Pool:      pool,
		Evaluator: &calib.Evaluator{
			Pool:    pool,
			Client:  &calib.Client{Timeout: time.Duration(cfg.ConnectionTimeoutSeconds) * time.Second},
			Cache:   kb,
			Scorer:  engine,
			Metrics: m,
		},
		History: kb,
		Config: calib.DispatchConfig{
			Budget:        cfg.CallBudget,
			InitialPoints: cfg.InitialPoints,
		},
	}

	result, runErr := loop.Run(context.Background(), caseName)
	if result != nil && result.Calls > 0 {
		resultsDir, err := trace.SetupResultsDir(cfg.ResultsDir, caseName)
		if err != nil {
			logrus.Errorf("case %s: %v", caseName, err)
		} else if err := result.Record.Save(resultsDir); err != nil {
			logrus.Errorf("case %s: saving results: %v", caseName, err)
		} else {
			logrus.Infof("case %s: results saved to %s", caseName, resultsDir)
		}
		summary := result.Record.Summarize()
		logrus.Infof("case %s: best loss %.6f over %d calls (median %.6f, p90 %.6f)",
			caseName, result.BestLoss, result.Calls, summary.Median, summary.P90)
		logrus.Infof("case %s: best parameters: %s", caseName, result.Best)
	}
	return runErr
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&configPath, "config", "calibration.yaml", "Path to the run configuration file")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.AddCommand(runCmd)
}
