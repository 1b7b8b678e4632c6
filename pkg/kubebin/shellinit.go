package kubebin

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Bump the marker version whenever the generated script content
// changes; existing snippets are rewritten only when their marker is
// stale.
const initScriptMarker = "# kubedeck shell init v3"

// WriteInitScripts (re)writes the bash and zsh bootstrap snippets next
// to the binary. Interactive terminals source these (bash via
// --init-file, zsh via ZDOTDIR) to put the provisioned kubectl first
// in PATH while still loading the user's own rc file.
func (k *Kubectl) WriteInitScripts() error {
	bashScript := strings.Join([]string{
		initScriptMarker,
		`if [ -f "$HOME/.bashrc" ]; then`,
		`    . "$HOME/.bashrc"`,
		`fi`,
		fmt.Sprintf(`export PATH="%s:$PATH"`, k.dir),
		``,
	}, "\n")
	if err := k.writeInitScript(filepath.Join(k.dir, ".bashrc"), bashScript); err != nil {
		return err
	}

	zshScript := strings.Join([]string{
		initScriptMarker,
		`if [ -f "$HOME/.zshrc" ]; then`,
		`    . "$HOME/.zshrc"`,
		`fi`,
		fmt.Sprintf(`export PATH="%s:$PATH"`, k.dir),
		`unset ZDOTDIR`,
		``,
	}, "\n")
	return k.writeInitScript(filepath.Join(k.dir, ".zshrc"), zshScript)
}

func (k *Kubectl) writeInitScript(path, content string) error {
	latest, err := k.scriptIsLatest(path)
	if err != nil {
		return err
	}
	if latest {
		return nil
	}
	return errors.Wrapf(afero.WriteFile(k.fs, path, []byte(content), 0644), "could not write %s", path)
}

// scriptIsLatest checks the version marker in the file's first bytes.
func (k *Kubectl) scriptIsLatest(path string) (bool, error) {
	f, err := k.fs.Open(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.WithStack(err)
	}
	defer f.Close()

	head := make([]byte, len(initScriptMarker))
	n, err := io.ReadFull(f, head)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return false, nil
	}
	if err != nil {
		return false, errors.WithStack(err)
	}
	return string(head[:n]) == initScriptMarker, nil
}
