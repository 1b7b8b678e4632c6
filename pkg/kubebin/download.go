package kubebin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"

	"github.com/kubedeck/kubedeck/pkg/deckmetrics"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// DefaultArtifactBase is the release host serving version-addressed
// kubectl artifacts.
const DefaultArtifactBase = "https://storage.googleapis.com/kubernetes-release/release"

func binaryName() string {
	if runtime.GOOS == "windows" {
		return "kubectl.exe"
	}
	return "kubectl"
}

func (k *Kubectl) downloadURL() string {
	return fmt.Sprintf("%s/v%s/bin/%s/%s/%s",
		strings.TrimSuffix(k.artifactBase, "/"), k.version, runtime.GOOS, runtime.GOARCH, binaryName())
}

// remoteEtag probes the artifact host for the binary's content
// fingerprint. S3-style hosts return the artifact's MD5 as the ETag,
// possibly quoted or weakened, so both decorations are stripped.
func (k *Kubectl) remoteEtag(ctx context.Context) (string, error) {
	url := k.downloadURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", errors.WithStack(err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "etag probe for %v failed", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("etag probe for %v failed with status %v", url, resp.StatusCode)
	}
	etag := strings.TrimPrefix(resp.Header.Get("ETag"), "W/")
	return strings.Trim(etag, `"`), nil
}

// download streams the artifact to a temp file in the version directory,
// marks it executable and renames it into place. Partial files never
// survive an error.
func (k *Kubectl) download(ctx context.Context) error {
	tmpFile, err := afero.TempFile(k.fs, k.dir, "kubectl-download")
	if err != nil {
		return errors.Wrapf(err, "could not create temp file in %s", k.dir)
	}
	defer func() {
		if err := tmpFile.Close(); err == nil {
			k.fs.Remove(tmpFile.Name())
		}
	}()

	url := k.downloadURL()
	logrus.Debugf("downloading kubectl %s from %s", k.version, url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		deckmetrics.CountDownload(k.version, "error")
		return errors.Wrapf(err, "download from %v failed", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		deckmetrics.CountDownload(k.version, "error")
		return errors.Errorf("download from %v failed with status %v", url, resp.StatusCode)
	}

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		deckmetrics.CountDownload(k.version, "error")
		return errors.Wrapf(err, "could not copy data from %v to %v", url, tmpFile.Name())
	}

	if err := tmpFile.Close(); err != nil {
		return errors.Wrapf(err, "could not finish writing %v", tmpFile.Name())
	}
	if err := k.fs.Chmod(tmpFile.Name(), 0755); err != nil {
		return errors.Wrapf(err, "could not change permissions for %v", tmpFile.Name())
	}
	if err := k.fs.Rename(tmpFile.Name(), k.path); err != nil {
		return errors.Wrapf(err, "could not move %v to %v", tmpFile.Name(), k.path)
	}

	deckmetrics.CountDownload(k.version, "success")
	return nil
}
