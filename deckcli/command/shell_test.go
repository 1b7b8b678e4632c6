package command

import (
	"github.com/gorilla/websocket"
	"github.com/kubedeck/kubedeck/goutil/errorutil"
	"github.com/pkg/errors"
)

func (t *Suite) TestShellCloseError() {
	req := t.Require()

	// a normal close is how every clean shell exit arrives
	req.NoError(shellCloseError(&websocket.CloseError{
		Code: websocket.CloseNormalClosure,
	}))

	err := shellCloseError(&websocket.CloseError{
		Code: 4000,
		Text: "node shell pod was not ready in time",
	})
	req.Equal(
		"node shell pod was not ready in time",
		errorutil.GetUserErrorMessage(err),
	)

	err = shellCloseError(&websocket.CloseError{Code: 4001})
	req.Error(err)
	req.Contains(err.Error(), "4001")

	err = shellCloseError(errors.New("dial tcp: connection refused"))
	req.Error(err)
	req.Empty(errorutil.GetUserErrorMessage(err))
}
