package fileutil

import (
	"crypto/md5"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// MD5 computes the md5 of a file's content as a lowercase hex string. The
// result is comparable to the entity tags the binary artifact host returns
// for its objects.
func MD5(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "error opening %s for hashing", path)
	}
	defer f.Close()

	hasher := md5.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", errors.Wrapf(err, "error hashing %s", path)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
