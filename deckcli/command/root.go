package command

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	surveyterminal "github.com/AlecAivazis/survey/v2/terminal"
	"github.com/fatih/color"
	"github.com/getsentry/sentry-go"
	"github.com/kubedeck/kubedeck/deckcli/flags"
	"github.com/kubedeck/kubedeck/deckcli/provider"
	"github.com/kubedeck/kubedeck/goutil/errorutil"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// These options allow the CLI to be customized with additional commands
// and "providers" that can enhance functionality by using private
// services.
type cmdOptions interface {
	provider.Providers
	AdditionalCommands() []*cobra.Command
	RootCommand() *cobra.Command
	RootFlags() *flags.RootCmdFlags
	PersistentPreRunE(cmd *cobra.Command, args []string) error
	PersistentPostRunE(cmd *cobra.Command, args []string) error
}

// This is global for now (for expediency). We could pass these options
// down to every function that needs them.
var cmdOpts cmdOptions

const defaultAPIAddr = "127.0.0.1:5644"

func registerRootCmdFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(
		&cmdOpts.RootFlags().Debug,
		"debug",
		"d",
		false,
		"print debug output",
	)

	cmd.PersistentFlags().StringVar(
		&cmdOpts.RootFlags().APIAddr,
		"api-addr",
		defaultAPIAddr,
		"address of the kubedeck daemon's command api",
	)
}

func NewRootCmd(opts cmdOptions) *cobra.Command {
	cmdOpts = opts
	rootCmd := &cobra.Command{
		Use:   "kubedeck",
		Short: "Manage many Kubernetes clusters from one desktop control plane",
		Long:  "Manage many Kubernetes clusters from one desktop control plane",
		// If an error occurs then cobra will print the Usage (i.e. --help)
		// but we don't want that. This still prints usage if user types
		// --help, or `kubedeck help <cmd>`.
		SilenceUsage: true,
		// We print the error via special handling in the Execute() function
		// so we silence it here. If this were false, then we would
		// double-print the error message.
		SilenceErrors:     true,
		PersistentPreRunE: persistentPreRunE,
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.WithStack(cmd.Help())
		},
		PersistentPostRunE: cmdOpts.PersistentPostRunE,
	}

	rootCmd.AddCommand(
		addCmd(),
		daemonCmd(),
		discoverCmd(),
		kubectlCmd(),
		listCmd(),
		refreshCmd(),
		removeCmd(),
		shellCmd(),
		versionCmd(),
	)

	rootCmd.AddCommand(cmdOpts.AdditionalCommands()...)

	registerRootCmdFlags(rootCmd)

	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	return rootCmd
}

// Execute is the entry point for CLI app.
func Execute(ctx context.Context, opts cmdOptions) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)

	span := sentry.StartSpan(ctx, "cliCommand")
	err := opts.RootCommand().ExecuteContext(ctx)
	span.Finish()

	if err != nil {
		// For now log all errors. If this gets too noisy, we can log only
		// for stuff that is not a user error.
		cmdOpts.ErrorLogger().CaptureException(err)
		if opts.RootFlags().Debug {
			logrus.SetLevel(logrus.DebugLevel)
			stackTrace := errorutil.EarliestStackTrace(err)
			errChainMsg := fmt.Sprintf("Error chain is:\n\t %s.\n\n", err.Error())
			if stackTrace != nil {
				log.Fatalf("%sStacktrace:\n%+v\n", errChainMsg, stackTrace)
			} else {
				log.Fatalf(
					"%sFailed to get Stacktrace:\n%+v\n",
					errChainMsg,
					errors.Cause(err),
				)
			}
		} else {
			displayed := cmdOpts.ErrorLogger().DisplayException(err)
			if displayed {
				// Error was displayed, but we still want to exit with
				// non-zero code.
				os.Exit(1)
			}

			// user interrupt signals (ctrl+c) are not errors caused by the
			// user or kubedeck, so they need special handling, clean output
			// and graceful shutdown.
			if errors.Is(err, context.Canceled) || errors.Is(err, surveyterminal.InterruptErr) {
				fmt.Println("ABORT: Operation cancelled by user interruption.")
				stop()
				os.Exit(1)
			}

			// This logic allows us to handle errors, combined errors and
			// user errors.
			// errors: normal golang errors
			// combined: golang error + user friendly error to display
			// user: no golang error cause, just a user error we created.
			if msg := errorutil.GetUserErrorMessage(err); msg != "" {
				color.Red(
					"\nError: %s\n\nCaused by:\n\n %s\n\nRun with --debug for more information",
					msg,
					err,
				)
				os.Exit(1)
			} else {
				log.Fatalf(
					"ABORT: There was an error. The cause is:\n\t %s. \n"+
						"Run with --debug for more information",
					errors.Cause(err),
				)
			}
		}
	}
}

func persistentPreRunE(cmd *cobra.Command, args []string) error {
	if err := cmdOpts.PersistentPreRunE(cmd, args); err != nil {
		return err
	}
	if cmdOpts.RootFlags().Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return nil
}
