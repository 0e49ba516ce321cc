package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-coder/codevet/internal/extract"
	"github.com/animus-coder/codevet/internal/health"
	"github.com/animus-coder/codevet/internal/pipeline"
	"github.com/animus-coder/codevet/internal/proposal"
	"github.com/animus-coder/codevet/internal/rpc"
	"github.com/animus-coder/codevet/internal/tools"
)

// NewVetCmd analyzes the code fragments of an assistant reply read from a file or stdin.
func NewVetCmd(opts *Options) *cobra.Command {
	var execute, apply, asJSON bool

	cmd := &cobra.Command{
		Use:   "vet FILE|-",
		Short: "Extract code fragments from assistant text and run the configured tools on them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if apply && args[0] == "-" {
				return errors.New("--apply reads confirmations from stdin; pass the reply as a file")
			}
			text, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := newLogger(opts, cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			sandbox, err := tools.NewSandbox(cfg, logger)
			if err != nil {
				return err
			}
			pipe := pipeline.New(sandbox.Runner, sandbox.Catalog, health.NewScorer(cfg.Health),
				pipeline.WithConcurrency(cfg.Tools.Concurrency),
				pipeline.WithLogger(logger.Named("pipeline")),
			)

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			frags := extract.Extract(text)
			if len(frags) == 0 {
				fmt.Fprintln(out, "No code fragments found.")
				return nil
			}

			reports, err := pipe.AnalyzeAll(ctx, frags)
			if err != nil {
				return err
			}
			if execute {
				report, err := pipe.Execute(ctx, text)
				if err != nil {
					return err
				}
				reports = append(reports, report)
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rpc.AnalyzeResponse{Reports: reports}); err != nil {
					return err
				}
			} else {
				for i, r := range reports {
					if execute && i == len(reports)-1 {
						renderRun(out, r)
						continue
					}
					renderReport(out, r, len(frags))
				}
			}

			if !apply {
				return nil
			}
			ledger := proposal.NewLedger(sandbox.Workspace,
				proposal.WithReader(sandbox.Workspace),
				proposal.WithLogger(logger.Named("proposals")),
			)
			return walkProposals(cmd, ledger, sandbox.Workspace, frags)
		},
	}

	cmd.Flags().BoolVar(&execute, "execute", false, "Also run the detected run command in the sandbox")
	cmd.Flags().BoolVar(&apply, "apply", false, "Offer each file fragment as a proposal and ask before writing it")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print reports as JSON")
	return cmd
}

func readInput(cmd *cobra.Command, arg string) (string, error) {
	var data []byte
	var err error
	if arg == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(arg)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

func renderReport(out io.Writer, r pipeline.Report, total int) {
	lang := r.Fragment.Language
	if lang == "" {
		lang = "text"
	}
	header := fmt.Sprintf("Fragment %d [%s]", r.Fragment.Index+1, lang)
	if total > 0 {
		header = fmt.Sprintf("Fragment %d/%d [%s]", r.Fragment.Index+1, total, lang)
	}
	if r.Fragment.TargetPath != "" {
		header += " " + r.Fragment.TargetPath
	}
	fmt.Fprintln(out, header)
	renderVerdict(out, r.Verdict)
}

func renderRun(out io.Writer, r pipeline.Report) {
	cmdline := ""
	if len(r.Results) > 0 {
		cmdline = strings.Join(r.Results[0].Command, " ")
	}
	fmt.Fprintf(out, "Run: %s (%s)\n", cmdline, r.Elapsed().Round(time.Millisecond))
	if len(r.Results) > 0 && r.Results[0].Stdout != "" {
		fmt.Fprintln(out, indent(strings.TrimRight(r.Results[0].Stdout, "\n")))
	}
	renderVerdict(out, r.Verdict)
}

func renderVerdict(out io.Writer, v health.Verdict) {
	fmt.Fprintf(out, "  %s\n", v.Summary)
	for _, f := range v.Findings {
		loc := ""
		if f.Line > 0 {
			loc = fmt.Sprintf(" %d:%d", f.Line, f.Column)
		}
		code := ""
		if f.Code != "" {
			code = " " + f.Code
		}
		fmt.Fprintf(out, "  %-7s %s%s%s %s\n", f.Severity, f.Source, code, loc, f.Message)
	}
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}

// walkProposals asks for an explicit yes before each write. Anything but y or yes rejects.
func walkProposals(cmd *cobra.Command, ledger *proposal.Ledger, reader proposal.Reader, frags []extract.Fragment) error {
	out := cmd.OutOrStdout()
	created, conflicts, err := pipeline.Propose(ledger, reader, frags)
	for _, c := range conflicts {
		fmt.Fprintf(out, "Superseded %s: a later fragment targets %s\n", c.Superseded.ID, c.Superseded.TargetPath)
	}
	if err != nil {
		return err
	}
	if len(created) == 0 {
		fmt.Fprintln(out, "No file fragments to apply.")
		return nil
	}

	in := bufio.NewReader(cmd.InOrStdin())
	for _, p := range created {
		current, err := ledger.Get(p.ID)
		if err != nil {
			return err
		}
		if current.State != proposal.StateProposed {
			continue
		}
		diff, err := ledger.Preview(p.ID)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, diff)
		fmt.Fprintf(out, "%s %s? [y/N] ", strings.ToUpper(string(p.Operation[:1]))+string(p.Operation[1:]), p.TargetPath)

		answer, readErr := in.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return readErr
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			if _, err := ledger.Approve(p.ID); err != nil {
				return err
			}
			if _, err := ledger.Apply(p.ID); err != nil {
				fmt.Fprintf(out, "Failed: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "Applied %s\n", p.TargetPath)
		default:
			if _, err := ledger.Reject(p.ID); err != nil {
				return err
			}
			fmt.Fprintf(out, "Skipped %s\n", p.TargetPath)
		}
	}
	return nil
}
