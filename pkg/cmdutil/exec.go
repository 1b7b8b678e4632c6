package cmdutil

import (
	"os"
	"os/exec"
)

// CommandTTY returns an exec.Cmd wired to the calling terminal.
func CommandTTY(name string, arg ...string) *exec.Cmd {
	cmd := exec.Command(name, arg...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

// CommandTTYEnv is CommandTTY with extra environment entries appended to the
// caller's environment.
func CommandTTYEnv(env []string, name string, arg ...string) *exec.Cmd {
	cmd := CommandTTY(name, arg...)
	cmd.Env = append(os.Environ(), env...)
	return cmd
}
