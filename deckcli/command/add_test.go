package command

import (
	"context"

	"github.com/kubedeck/kubedeck/goutil/errorutil"
)

func (t *Suite) TestAddWithoutSourceIsAUserError() {
	req := t.Require()
	pointClientAt("127.0.0.1:1")

	err := runAdd(context.Background(), &addOptions{}, nil)
	req.Error(err)
	req.Contains(errorutil.GetUserErrorMessage(err), "kubeconfig path")
}
