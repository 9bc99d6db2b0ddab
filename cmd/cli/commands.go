package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dvloznov/statement-relay/internal/app"
	"github.com/dvloznov/statement-relay/internal/config"
	"github.com/dvloznov/statement-relay/internal/domain"
	"github.com/dvloznov/statement-relay/internal/logger"
	"github.com/dvloznov/statement-relay/internal/statement"
	"github.com/spf13/cobra"
)

var logLevel string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Operate the statement relay pipeline",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newRunOnceCommand(),
		newNormalizeCommand(),
		newEncryptCommand(),
		newStageCommand(),
	)
	return root
}

// commandContext returns a context carrying a logger that writes to the
// command's stderr.
func commandContext(cmd *cobra.Command) (context.Context, error) {
	log, _, err := logger.Setup(logger.Options{Level: logLevel, Console: cmd.ErrOrStderr()})
	if err != nil {
		return nil, err
	}
	return logger.WithContext(cmd.Context(), log), nil
}

func newRunOnceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Process the next pending request, if any, and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := commandContext(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			a, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.Orchestrator.PollOnce(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if out == nil {
				fmt.Fprintln(w, "No pending request.")
				return nil
			}

			fmt.Fprintf(w, "Request:  %s\n", out.RequestID)
			fmt.Fprintf(w, "Attempt:  %s\n", out.AttemptID)
			fmt.Fprintf(w, "Status:   %s\n", out.Status)
			if out.Status == domain.StatusFailed {
				fmt.Fprintf(w, "Error:    %s\n", out.ErrorMessage)
				return fmt.Errorf("request %s failed with %s", out.RequestID, out.ErrorKind)
			}
			fmt.Fprintf(w, "Raw:      %s\n", out.RawArtifactPath)
			fmt.Fprintf(w, "Upload:   %s\n", out.NormalizedArtifactPath)
			return nil
		},
	}
}

func newNormalizeCommand() *cobra.Command {
	var (
		output   string
		timezone string
	)
	cmd := &cobra.Command{
		Use:   "normalize [flags] <raw-file>",
		Short: "Normalize a raw bank statement into the upload format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := time.LoadLocation(timezone)
			if err != nil {
				return fmt.Errorf("timezone: %w", err)
			}

			n := &statement.Normalizer{Location: loc}
			res, err := n.Normalize(args[0])
			if err != nil {
				return err
			}
			if err := statement.Serialize(output, res.Records); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Wrote %d records to %s\n", len(res.Records), output)
			for _, s := range res.Skipped {
				fmt.Fprintf(w, "  skipped row %d: %s\n", s.Row, s.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "path of the .xlsx file to write")
	cmd.Flags().StringVar(&timezone, "timezone", "Asia/Seoul", "zone statement timestamps are recorded in")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newEncryptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt values read from stdin, one per line, with DECRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cipher, err := app.NewCipher(cfg)
			if err != nil {
				return err
			}
			return encryptLines(cmd.InOrStdin(), cmd.OutOrStdout(), cipher.Encrypt)
		},
	}
}

func encryptLines(in io.Reader, out io.Writer, encrypt func(string) string) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if _, err := fmt.Fprintln(out, encrypt(line)); err != nil {
			return err
		}
	}
	return sc.Err()
}

func newStageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stage <local-file> <remote-path>",
		Short: "Copy a file to the configured remote store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := commandContext(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			stager, err := app.OpenStager(ctx, cfg)
			if err != nil {
				return err
			}
			defer stager.Close()

			if err := stager.Stage(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Staged %s to %s\n", args[0], args[1])
			return nil
		},
	}
}
