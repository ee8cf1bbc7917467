package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

var (
	flagScanFile    string
	flagUploadsRoot string
	flagRASPURL     string
	flagRASPToken   string
	flagVerbose     bool
)

func main() {
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	runCmd.Flags().StringVarP(&flagScanFile, "file", "f", "", "scan definition file (yaml)")
	runCmd.Flags().StringVar(&flagUploadsRoot, "uploads", "uploads", "root directory holding uploaded project sources")
	runCmd.Flags().StringVar(&flagRASPURL, "rasp-url", "", "base URL of the runtime protection server")
	runCmd.Flags().StringVar(&flagRASPToken, "rasp-token", "", "bearer token for the runtime protection server")
	_ = runCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "scanctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "scanctl",
	Short:         "Run security scans locally without the API server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run a single scan in-process and print the job with its findings as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		def, err := loadScanFile(flagScanFile)
		if err != nil {
			return err
		}

		level := logger.LevelWarn
		if flagVerbose {
			level = logger.LevelDebug
		}
		log := logger.New(os.Stderr, level, "scanctl", nil)

		return runScan(cmd.Context(), def, runOptions{
			UploadsRoot: flagUploadsRoot,
			RASPURL:     flagRASPURL,
			RASPToken:   flagRASPToken,
		}, log, cmd.OutOrStdout())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Fprintln(out, "scanctl: version info not available")
			return
		}
		fmt.Fprintf(out, "scanctl: %s\n", info.Main.Version)
		fmt.Fprintf(out, "go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				fmt.Fprintf(out, "commit:  %s\n", s.Value)
			}
		}
	},
}
