package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wireit-go/wireit/internal/executor"
	"github.com/wireit-go/wireit/internal/ux"
)

func init() {
	rootCmd.AddCommand(planCmd)
}

var planCmd = &cobra.Command{
	Use:   "plan <script> [-- extraArgs...]",
	Short: "Analyze a script's dependency graph without executing it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	extraArgs := args[1:]
	root, err := resolveRoot(args[0])
	if err != nil {
		return err
	}

	stateRoot, err := defaultStateRoot()
	if err != nil {
		return err
	}
	cfg, ctx, logger, err := buildExecutorConfig(stateRoot)
	if err != nil {
		return err
	}
	defer logger.Sync()

	analyzer, err := newManifestAnalyzer(cfg.Pool)
	if err != nil {
		return err
	}

	rootConfig, diags, err := analyzer.Analyze(ctx, root, extraArgs)
	if err != nil {
		return err
	}
	isTTY := ux.IsTerminal(os.Stderr)
	fmt.Fprint(os.Stderr, ux.RenderDiagnostics(diags, isTTY))
	if diags.HasErrors() {
		return &exitCodeError{1}
	}

	ex := executor.New(cfg)
	entries, planDiags, err := ex.Plan(ctx, rootConfig)
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stderr, ux.RenderDiagnostics(planDiags, isTTY))
	if planDiags.HasErrors() {
		return &exitCodeError{1}
	}

	for _, e := range entries {
		fmt.Printf("%s:%s [%s]\n", e.Ref.PackageDir, e.Ref.Name, e.Outcome)
	}
	return nil
}
