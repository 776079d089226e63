package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"templerunner/pkg/api"

	"github.com/spf13/cobra"
)

// errCompileFailed makes the process exit non-zero after the result was printed.
var errCompileFailed = errors.New("compilation failed")

var (
	compileOut     string
	compileJSON    bool
	compileTimeout time.Duration
)

var compileCmd = &cobra.Command{
	Use:   "compile [file]",
	Short: "Compile a source file",
	Long: `Send a source file to the service, print the toolchain output and optionally
write the generated artifacts to a directory. Use "-" to read the source from stdin.

The command exits with status 1 when the compilation fails.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := readSource(cmd.InOrStdin(), args[0])
		if err != nil {
			cmd.PrintErrf("Failed to read source: %v\n", err)
			return err
		}

		ctx := cmd.Context()
		if compileTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, compileTimeout)
			defer cancel()
		}

		resp, err := newClient().Compile(ctx, source)
		if err != nil {
			cmd.PrintErrf("Compile request failed: %v\n", err)
			return err
		}

		if compileJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return err
			}
		} else {
			printResult(cmd, resp)
		}

		if compileOut != "" && len(resp.Artifacts) > 0 {
			n, err := writeArtifacts(compileOut, resp.Artifacts)
			if err != nil {
				cmd.PrintErrf("Failed to write artifacts: %v\n", err)
				return err
			}
			if !compileJSON {
				cmd.Printf("Wrote %d artifacts to %s\n", n, compileOut)
			}
		}

		if !resp.Success {
			return errCompileFailed
		}
		return nil
	},
}

func readSource(stdin io.Reader, name string) (string, error) {
	var data []byte
	var err error
	if name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func printResult(cmd *cobra.Command, resp *api.CompileResponse) {
	if resp.Stdout != "" {
		cmd.Print(resp.Stdout)
		if !strings.HasSuffix(resp.Stdout, "\n") {
			cmd.Println()
		}
	}
	if resp.Stderr != "" {
		cmd.PrintErr(resp.Stderr)
		if !strings.HasSuffix(resp.Stderr, "\n") {
			cmd.PrintErrln()
		}
	}

	cmd.Println("──────────────────────────────")
	for _, s := range resp.Stages {
		icon := colorGreen + "✓" + colorReset
		switch {
		case s.TimedOut:
			icon = colorYellow + "⏳" + colorReset
		case s.ExitCode != 0:
			icon = colorRed + "✗" + colorReset
		}
		cmd.Printf("%s %-10s %sexit %d%s  %s\n", icon, s.Name, colorDim, s.ExitCode, colorReset,
			formatDuration(time.Duration(s.Duration)*time.Millisecond))
	}

	duration := formatDuration(time.Duration(resp.Duration) * time.Millisecond)
	if resp.Success {
		cmd.Printf("%s%sSucceeded%s in %s, %d artifacts\n", colorGreen, colorBold, colorReset, duration, len(resp.Artifacts))
		return
	}
	cmd.Printf("%s%sFailed%s after %s: %s%s%s\n", colorRed, colorBold, colorReset, duration, colorRed, resp.Error, colorReset)
}

// writeArtifacts writes each artifact under dir, keeping its relative path.
// Keys that would resolve outside dir are rejected.
func writeArtifacts(dir string, artifacts map[string]string) (int, error) {
	keys := make([]string, 0, len(artifacts))
	for k := range artifacts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rel := filepath.FromSlash(key)
		if !filepath.IsLocal(rel) {
			return 0, fmt.Errorf("refusing to write artifact outside output directory: %q", key)
		}
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return 0, err
		}
		if err := os.WriteFile(p, []byte(artifacts[key]), 0o644); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	compileCmd.Flags().StringVarP(&compileOut, "out", "o", "", "directory to write generated artifacts to")
	compileCmd.Flags().BoolVar(&compileJSON, "json", false, "print the raw response envelope")
	compileCmd.Flags().DurationVar(&compileTimeout, "timeout", 0, "give up waiting after this long (0 waits indefinitely)")
	rootCmd.AddCommand(compileCmd)
}
