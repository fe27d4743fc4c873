package main

import (
	"github.com/spf13/cobra"

	"github.com/wireit-go/wireit/internal/fingerprint"
	"github.com/wireit-go/wireit/internal/watcher"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <script> [-- extraArgs...]",
	Short: "Re-run a script and its dependencies on every relevant file change",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	extraArgs := args[1:]
	root, err := resolveRoot(args[0])
	if err != nil {
		return err
	}

	stateRoot, err := defaultStateRoot()
	if err != nil {
		return err
	}
	execCfg, ctx, logger, err := buildExecutorConfig(stateRoot)
	if err != nil {
		return err
	}
	defer logger.Sync()

	w := watcher.New(watcher.Config{
		Root:      root,
		ExtraArgs: extraArgs,
		Executor:  execCfg,
		Matcher:   fingerprint.NewDoublestarMatcher(),
		Logger:    logger,
	})

	return w.Run(ctx)
}
