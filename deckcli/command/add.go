package command

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/AlecAivazis/survey/v2"
	"github.com/MakeNowJust/heredoc"
	"github.com/kubedeck/kubedeck/deckcli/terminal"
	"github.com/kubedeck/kubedeck/goutil/errorutil"
	"github.com/kubedeck/kubedeck/kubedeck"
	"github.com/kubedeck/kubedeck/pkg/decklog"
	"github.com/kubedeck/kubedeck/pkg/kubeconfig"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

type addOptions struct {
	selectContexts bool
	stdin          bool
}

func addCmd() *cobra.Command {
	opts := &addOptions{}

	addCmd := &cobra.Command{
		Use:   "add [path/to/kubeconfig]",
		Short: "registers clusters from a kubeconfig",
		Long: heredoc.Doc(`
			Registers every usable context of a kubeconfig document as its
			own cluster. Contexts that reference missing clusters or users
			are skipped and reported; their siblings register normally.

			With --select and an interactive terminal, you pick which
			contexts to register. With --stdin the document is read from
			standard input and the daemon keeps its own managed copy.
		`),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd.Context(), opts, args)
		},
	}

	addCmd.Flags().BoolVar(
		&opts.selectContexts,
		"select",
		false,
		"interactively pick which contexts to register",
	)
	addCmd.Flags().BoolVar(
		&opts.stdin,
		"stdin",
		false,
		"read the kubeconfig document from standard input",
	)
	return addCmd
}

func runAdd(ctx context.Context, opts *addOptions, args []string) error {
	client := newAPIClient()
	var result kubedeck.AddResult

	switch {
	case opts.stdin:
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return errors.Wrap(err, "Error reading kubeconfig from stdin")
		}
		err = client.post(ctx, "/clusters", map[string]string{"content": string(raw)}, &result)
		if err != nil {
			return err
		}
	case len(args) == 1:
		path, err := filepath.Abs(args[0])
		if err != nil {
			return errors.WithStack(err)
		}
		if opts.selectContexts && terminal.IsInteractive() {
			content, err := selectedContexts(path)
			if err != nil {
				return err
			}
			err = client.post(ctx, "/clusters", map[string]string{"content": content}, &result)
			if err != nil {
				return err
			}
		} else {
			err = client.post(ctx, "/clusters", map[string]string{"path": path}, &result)
			if err != nil {
				return err
			}
		}
	default:
		return errorutil.NewUserError(
			"Provide a kubeconfig path, or --stdin to read one from standard input.",
		)
	}

	logger := decklog.Logger(ctx)
	for _, summary := range result.Added {
		logger.Printf("Registered %s (context %s) as %s\n",
			summary.Name, summary.ContextName, summary.ID)
	}
	for _, skipped := range result.Skipped {
		logger.WarningPrintf("Skipped context %s: %s\n", skipped.ContextName, skipped.Reason)
	}
	if len(result.Added) == 0 && len(result.Skipped) == 0 {
		logger.Println("Nothing to register.")
	}
	return nil
}

// selectedContexts asks which contexts of the document to keep and
// returns the reduced document.
func selectedContexts(path string) (string, error) {
	cfg, err := kubeconfig.LoadFile(path)
	if err != nil {
		return "", err
	}
	names := kubeconfig.ContextNames(cfg)
	if len(names) == 0 {
		return "", errors.WithStack(kubeconfig.ErrNoContexts)
	}

	var chosen []string
	prompt := &survey.MultiSelect{
		Message: "Which contexts should be registered?",
		Options: names,
		Default: names,
	}
	if err := survey.AskOne(prompt, &chosen, survey.WithValidator(survey.Required)); err != nil {
		return "", errors.WithStack(err)
	}

	for name := range cfg.Contexts {
		if !lo.Contains(chosen, name) {
			delete(cfg.Contexts, name)
		}
	}
	encoded, err := kubeconfig.Encode(cfg)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
