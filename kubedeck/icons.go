package kubedeck

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kubedeck/kubedeck/pkg/clusterstore"
	"github.com/kubedeck/kubedeck/pkg/kubevalidate"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// storeIcon copies an uploaded icon into <data-dir>/icons under a name
// derived from the cluster's context and the original file name, and
// returns the stored path.
func (h *Hub) storeIcon(record *clusterstore.Record, filename string, content io.Reader) (string, error) {
	if h.dataDir == "" {
		return "", errors.New("icon storage requires a data directory")
	}
	name, err := kubevalidate.ToValidFileName(record.ContextName, filename)
	if err != nil {
		return "", errors.Wrap(err, "could not derive an icon file name")
	}
	dir := filepath.Join(h.dataDir, "icons")
	if err := h.fs.MkdirAll(dir, 0755); err != nil {
		return "", errors.WithStack(err)
	}
	path := filepath.Join(dir, name)
	if err := afero.WriteReader(h.fs, path, content); err != nil {
		return "", errors.Wrapf(err, "could not store icon %s", name)
	}
	return path, nil
}

// removeIcon deletes a stored icon. Paths outside the managed icon
// directory are left alone.
func (h *Hub) removeIcon(path string) {
	if path == "" || h.dataDir == "" {
		return
	}
	managed := filepath.Join(h.dataDir, "icons") + string(os.PathSeparator)
	if !strings.HasPrefix(path, managed) {
		return
	}
	if err := h.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Debugf("could not remove icon %s", path)
	}
}
