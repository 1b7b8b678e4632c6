package mock

import (
	"github.com/kubedeck/kubedeck/deckcli/flags"
	"github.com/kubedeck/kubedeck/deckcli/provider"
	"github.com/spf13/cobra"
)

// We should try to make these mocks unnecessary. Most commands only need
// the root flags and one provider, and those could be passed in when the
// command is created instead of read from a package global.

type MockCmdOptions struct {
	RootCMDFlags *flags.RootCmdFlags
}

func (*MockCmdOptions) AdditionalCommands() []*cobra.Command {
	return nil
}

func (*MockCmdOptions) ArtifactProvider() provider.ArtifactProvider {
	return &provider.DefaultArtifactProvider{}
}

func (*MockCmdOptions) ErrorLogger() provider.ErrorLogger {
	return &provider.NoOpLogger{}
}

func (*MockCmdOptions) StoreProvider() provider.StoreProvider {
	return &provider.MemoryStoreProvider{}
}

func (m *MockCmdOptions) RootFlags() *flags.RootCmdFlags {
	return m.RootCMDFlags
}

func (m *MockCmdOptions) RootCommand() *cobra.Command {
	return &cobra.Command{}
}

func (*MockCmdOptions) PersistentPreRunE(cmd *cobra.Command, args []string) error {
	return nil
}

func (*MockCmdOptions) PersistentPostRunE(cmd *cobra.Command, args []string) error {
	return nil
}
