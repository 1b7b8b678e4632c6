package command

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"os/signal"
	"sync"

	"github.com/MakeNowJust/heredoc"
	"github.com/gorilla/websocket"
	"github.com/kubedeck/kubedeck/goutil/errorutil"
	"github.com/moby/term"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

type shellOptions struct {
	node string
}

func shellCmd() *cobra.Command {
	opts := &shellOptions{}

	shellCmd := &cobra.Command{
		Use:   "shell <cluster-id>",
		Short: "opens a debug shell against a cluster",
		Long: heredoc.Doc(`
			Opens an interactive shell session through the daemon. With
			--node the session runs inside a privileged pod on that node,
			entered into the node's own namespaces; without it the session
			is a local shell with the right kubectl on PATH and KUBECONFIG
			pointing at the cluster.
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShellAttach(cmd.Context(), opts, args[0])
		},
	}

	shellCmd.Flags().StringVar(
		&opts.node,
		"node",
		"",
		"open the shell on this node instead of locally",
	)
	return shellCmd
}

func runShellAttach(ctx context.Context, opts *shellOptions, clusterID string) error {
	wsURL := url.URL{
		Scheme: "ws",
		Host:   cmdOpts.RootFlags().APIAddr,
		Path:   "/clusters/" + clusterID + "/shell",
	}
	if opts.node != "" {
		wsURL.RawQuery = url.Values{"node": {opts.node}}.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return errorutil.NewUserError(apiErrorMessage(resp))
		}
		return errorutil.CombinedError(err, errorutil.NewUserErrorf(
			"Could not reach the kubedeck daemon at %s. Is `kubedeck daemon` running?",
			cmdOpts.RootFlags().APIAddr,
		))
	}
	defer conn.Close()

	stdinFd, stdinIsTerm := term.GetFdInfo(os.Stdin)
	if stdinIsTerm {
		state, err := term.SetRawTerminal(stdinFd)
		if err != nil {
			return errors.Wrap(err, "Error putting the terminal into raw mode")
		}
		defer func() {
			_ = term.RestoreTerminal(stdinFd, state)
		}()
	}

	// gorilla connections allow one concurrent writer only
	var writeMu sync.Mutex
	write := func(messageType int, payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(messageType, payload)
	}

	resizeCtx, stopResize := context.WithCancel(ctx)
	defer stopResize()
	go forwardResizes(resizeCtx, write)
	go pumpStdin(write)

	return drainShellOutput(conn)
}

// forwardResizes sends the current terminal size once and then on every
// SIGWINCH, as the text-frame resize control the session understands.
func forwardResizes(ctx context.Context, write func(int, []byte) error) {
	outFd, isTerm := term.GetFdInfo(os.Stdout)
	if !isTerm {
		return
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, unix.SIGWINCH)
	defer signal.Stop(winch)

	sendSize := func() {
		size, err := term.GetWinsize(outFd)
		if err != nil {
			logrus.WithError(err).Debug("cannot read terminal size")
			return
		}
		payload, err := json.Marshal(map[string]uint16{
			"width":  size.Width,
			"height": size.Height,
		})
		if err != nil {
			return
		}
		if err := write(websocket.TextMessage, payload); err != nil {
			logrus.WithError(err).Debug("cannot send resize")
		}
	}

	sendSize()
	for {
		select {
		case <-ctx.Done():
			return
		case <-winch:
			sendSize()
		}
	}
}

func pumpStdin(write func(int, []byte) error) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if err := write(websocket.BinaryMessage, buf[:n]); err != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// drainShellOutput copies server frames to stdout until the server
// closes, then maps the close code to the command outcome.
func drainShellOutput(conn *websocket.Conn) error {
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return shellCloseError(err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if _, err := os.Stdout.Write(payload); err != nil {
			return errors.WithStack(err)
		}
	}
}

func shellCloseError(err error) error {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return errors.Wrap(err, "shell connection failed")
	}
	switch closeErr.Code {
	case websocket.CloseNormalClosure:
		return nil
	default:
		if closeErr.Text != "" {
			return errorutil.NewUserError(closeErr.Text)
		}
		return errors.Errorf("shell session closed with code %d", closeErr.Code)
	}
}
