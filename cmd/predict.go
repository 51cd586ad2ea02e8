package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-finetune/config"
	"github.com/dhcgn/mbox-finetune/inference"
)

func newPredictCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict [prompt]",
		Short: "Ask the finetuned model to complete a corpus-style prompt (reads stdin without an argument)",
		Example: `  mbox-finetune predict "retention; promotions; from Acme; 3th email sent; subject: Summer sale"
  echo "activation; updates; from Shop; 0th email sent; subject: Welcome" | mbox-finetune predict`,
		Args: cobra.MaximumNArgs(1),
		RunE: runPredict,
	}
	config.RegisterPredictFlags(cmd)
	return cmd
}

func runPredict(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadPredictConfig(cmd)
	if err != nil {
		return err
	}

	logger, cleanup, err := setupLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		_ = cleanup()
	}()

	prompt, err := readPrompt(cmd, args)
	if err != nil {
		return err
	}

	client := inference.NewOpenAIClient(cfg.ModelURL, cfg.APIKey, cfg.Model, cfg.MaxTokens)
	return predict(cmd, inference.NewService(client, logger), prompt)
}

func predict(cmd *cobra.Command, svc *inference.Service, prompt string) error {
	completion, err := svc.Handle(cmd.Context(), inference.Job{Input: inference.Input{Prompt: prompt}})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), completion)
	return err
}

func readPrompt(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
