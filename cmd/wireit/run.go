package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wireit-go/wireit/internal/executor"
	"github.com/wireit-go/wireit/internal/graph"
	"github.com/wireit-go/wireit/internal/service"
	"github.com/wireit-go/wireit/internal/ux"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <script> [-- extraArgs...]",
	Short: "Analyze and execute a script and its dependencies once",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

// exitCodeError carries a process exit code through cobra's RunE without
// printing an extra error line (SilenceErrors is set on rootCmd).
type exitCodeError struct{ code int }

func (e *exitCodeError) Error() string { return fmt.Sprintf("exit code %d", e.code) }

func runRun(cmd *cobra.Command, args []string) error {
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

	cfg.Services = service.NewManager()

	ex := executor.New(cfg)
	result, execDiags, err := ex.Execute(ctx, rootConfig)
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stderr, ux.RenderDiagnostics(execDiags, isTTY))

	summary := ux.Summary{}
	if result != nil {
		summary.Add(result.Outcome)
	}
	for _, d := range execDiags {
		if d.Severity == graph.SeverityError {
			summary.AddFailure()
		}
	}
	fmt.Fprintln(os.Stderr, summary.Render(isTTY))

	if execDiags.HasErrors() {
		return &exitCodeError{1}
	}
	return nil
}
