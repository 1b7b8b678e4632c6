package deckcli

import (
	"context"

	"github.com/kubedeck/kubedeck/deckcli/command"
	"github.com/kubedeck/kubedeck/deckcli/flags"
	"github.com/kubedeck/kubedeck/deckcli/provider"
	"github.com/spf13/cobra"
)

type Deckcli struct {
	additionalCommands []*cobra.Command
	artifactProvider   provider.ArtifactProvider
	errorLogger        provider.ErrorLogger
	persistentPreRunE  func(cmd *cobra.Command, args []string) error
	persistentPostRunE func(cmd *cobra.Command, args []string) error
	rootCommand        *cobra.Command
	rootFlags          *flags.RootCmdFlags
	storeProvider      provider.StoreProvider
}

type deckcliOption func(*Deckcli)

func New(opts ...deckcliOption) *Deckcli {
	d := &Deckcli{
		rootFlags:        &flags.RootCmdFlags{},
		artifactProvider: &provider.DefaultArtifactProvider{},
		errorLogger:      &provider.NoOpLogger{},
		storeProvider:    &provider.SQLiteStoreProvider{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Deckcli) Run(ctx context.Context) {
	command.Execute(ctx, d)
}

func (d *Deckcli) ArtifactProvider() provider.ArtifactProvider {
	return d.artifactProvider
}

func (d *Deckcli) ErrorLogger() provider.ErrorLogger {
	return d.errorLogger
}

func (d *Deckcli) StoreProvider() provider.StoreProvider {
	return d.storeProvider
}

func (d *Deckcli) RootFlags() *flags.RootCmdFlags {
	return d.rootFlags
}

func (d *Deckcli) RootCommand() *cobra.Command {
	if d.rootCommand == nil {
		d.rootCommand = command.NewRootCmd(d)
	}
	return d.rootCommand
}

func (d *Deckcli) AdditionalCommands() []*cobra.Command {
	return d.additionalCommands
}

func (d *Deckcli) PersistentPreRunE(cmd *cobra.Command, args []string) error {
	if d == nil || d.persistentPreRunE == nil {
		return nil
	}
	return d.persistentPreRunE(cmd, args)
}

func (d *Deckcli) PersistentPostRunE(cmd *cobra.Command, args []string) error {
	if d == nil || d.persistentPostRunE == nil {
		return nil
	}
	return d.persistentPostRunE(cmd, args)
}

// Options
type cmdFunc func(deck *Deckcli) *cobra.Command

func WithAdditionalCommands(cmds ...cmdFunc) deckcliOption {
	return func(d *Deckcli) {
		for _, cmd := range cmds {
			d.additionalCommands = append(d.additionalCommands, cmd(d))
		}
	}
}

func WithArtifactProvider(artifacts provider.ArtifactProvider) deckcliOption {
	return func(d *Deckcli) {
		d.artifactProvider = artifacts
	}
}

func WithErrorLogger(logger provider.ErrorLogger) deckcliOption {
	return func(d *Deckcli) {
		d.errorLogger = logger
	}
}

func WithPersistentPreRunE(r func(cmd *cobra.Command, args []string) error) deckcliOption {
	return func(d *Deckcli) {
		d.persistentPreRunE = r
	}
}

func WithPersistentPostRunE(r func(cmd *cobra.Command, args []string) error) deckcliOption {
	return func(d *Deckcli) {
		d.persistentPostRunE = r
	}
}

func WithStoreProvider(store provider.StoreProvider) deckcliOption {
	return func(d *Deckcli) {
		d.storeProvider = store
	}
}
