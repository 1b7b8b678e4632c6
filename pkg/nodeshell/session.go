// Package nodeshell opens interactive debug shells against a cluster.
// A session targeting a node runs a transient privileged pod on it and
// execs into the host namespaces; a session without a node target is a
// local shell wired to the cluster's kubeconfig and kubectl.
package nodeshell

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/kubedeck/kubedeck/goutil"
	"github.com/kubedeck/kubedeck/pkg/deckmetrics"
	"github.com/kubedeck/kubedeck/pkg/kubevalidate"
	"github.com/kubedeck/kubedeck/pkg/typeid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ErrPodNotReady marks sessions aborted because the node shell pod did
// not reach Running within the readiness timeout.
var ErrPodNotReady = errors.New("node shell pod failed to start")

const (
	// DefaultImage keeps the node shell pod small; cluster preferences
	// may override it for air-gapped registries.
	DefaultImage = "docker.io/alpine:3.13"

	defaultNamespace = "kube-system"
	defaultReadyWait = 120 * time.Second

	// podShell prefers bash, then busybox ash, then plain sh.
	podShell = `clear; (bash || ash || sh)`
)

type Options struct {
	Clientset kubernetes.Interface

	// KubectlPath is the provisioner-resolved binary used to exec into
	// the node shell pod. Its directory is prepended to PATH for local
	// sessions.
	KubectlPath string

	// KubeconfigPath is exported as KUBECONFIG to the spawned process.
	KubeconfigPath string

	// Image overrides DefaultImage for the node shell pod.
	Image string

	// Namespace hosts the node shell pods. Defaults to kube-system.
	Namespace string

	// ReadyTimeout bounds the wait for the pod to reach Running.
	ReadyTimeout time.Duration

	// Shell is the program for sessions without a node target. Empty
	// falls back to $SHELL, then /bin/sh.
	Shell string
}

// Manager opens debug sessions against one cluster.
type Manager struct {
	opts Options
}

func NewManager(opts Options) *Manager {
	if opts.Image == "" {
		opts.Image = DefaultImage
	}
	if opts.Namespace == "" {
		opts.Namespace = defaultNamespace
	}
	if opts.ReadyTimeout == 0 {
		opts.ReadyTimeout = defaultReadyWait
	}
	return &Manager{opts: opts}
}

// Session is one live debug shell: a pty-backed process, optionally
// tied to a privileged pod on the target node.
type Session struct {
	ID   string
	Node string

	manager   *Manager
	pod       string
	cmd       *exec.Cmd
	pty       *os.File
	closeOnce sync.Once
}

// Pod reports the name of the backing pod, empty for local sessions.
func (s *Session) Pod() string {
	return s.pod
}

// Open starts a session. A node target creates the host-namespace pod
// on that node and waits for it to run before spawning the exec
// process; without a node no pod is created and the session is a local
// shell. Callers own the returned session and must Close it.
func (m *Manager) Open(ctx context.Context, node string) (*Session, error) {
	session := &Session{
		ID:      typeid.New("shell").String(),
		Node:    node,
		manager: m,
	}

	if node != "" {
		err := goutil.ValidateStructFieldsAreNotZero(
			&m.opts, "Clientset", "KubectlPath", "KubeconfigPath")
		if err != nil {
			return nil, errors.Wrap(err, "node shell options")
		}
		podName := "kubedeck-node-shell-" + kubevalidate.DeterministicSlug(session.ID)
		created, err := m.provisionPod(ctx, podName, node)
		if created {
			session.pod = podName
		}
		if err != nil {
			session.teardownPod()
			return nil, err
		}
	}

	cmd := m.buildCommand(ctx, session)
	ptyFile, err := pty.Start(cmd)
	if err != nil {
		session.teardownPod()
		return nil, errors.Wrap(err, "could not start the session terminal")
	}
	session.cmd = cmd
	session.pty = ptyFile
	deckmetrics.AddShellSession()
	logrus.Debugf("opened debug session %s (node %q)", session.ID, node)
	return session, nil
}

// provisionPod creates the node shell pod and waits for it to reach
// Running. The watch is established first so no phase transition can
// slip by between create and wait. created reports whether the caller
// owns a pod to tear down regardless of the error.
func (m *Manager) provisionPod(ctx context.Context, podName, node string) (created bool, err error) {
	pods := m.opts.Clientset.CoreV1().Pods(m.opts.Namespace)

	watcher, err := pods.Watch(ctx, metav1.ListOptions{
		FieldSelector: "metadata.name=" + podName,
	})
	if err != nil {
		return false, errors.Wrap(err, "could not watch the node shell pod")
	}
	timeout := time.AfterFunc(m.opts.ReadyTimeout, func() {
		logrus.Warnf("timed out waiting for node shell pod %s to start", podName)
		watcher.Stop()
	})
	defer func() {
		watcher.Stop()
		timeout.Stop()
	}()

	if _, err := pods.Create(ctx, nodeShellPod(podName, node, m.opts.Image), metav1.CreateOptions{}); err != nil {
		return false, errors.Wrapf(ErrPodNotReady, "create pod %s: %v", podName, err)
	}

	for event := range watcher.ResultChan() {
		pod, ok := event.Object.(*corev1.Pod)
		if !ok {
			continue
		}
		// Some watch backends ignore field selectors.
		if pod.Name != podName {
			continue
		}
		switch pod.Status.Phase {
		case corev1.PodRunning:
			return true, nil
		case corev1.PodFailed, corev1.PodSucceeded:
			return true, errors.Wrapf(ErrPodNotReady, "pod %s entered phase %s", podName, pod.Status.Phase)
		}
	}
	// Watch closed without Running: readiness timeout or a dropped
	// connection. Either way the session cannot proceed.
	return true, ErrPodNotReady
}

func (m *Manager) buildCommand(ctx context.Context, session *Session) *exec.Cmd {
	var cmd *exec.Cmd
	if session.pod != "" {
		cmd = exec.CommandContext(ctx, m.opts.KubectlPath,
			"exec", "-i", "-t", "-n", m.opts.Namespace, session.pod,
			"--", "sh", "-c", podShell)
	} else {
		shell := m.opts.Shell
		if shell == "" {
			shell = os.Getenv("SHELL")
		}
		if shell == "" {
			shell = "/bin/sh"
		}
		cmd = exec.CommandContext(ctx, shell)
	}

	binDir := filepath.Dir(m.opts.KubectlPath)
	env := lo.Map(os.Environ(), func(kv string, _ int) string {
		if strings.HasPrefix(kv, "PATH=") && binDir != "" && binDir != "." {
			return "PATH=" + binDir + string(os.PathListSeparator) + strings.TrimPrefix(kv, "PATH=")
		}
		return kv
	})
	cmd.Env = append(env, "KUBECONFIG="+m.opts.KubeconfigPath)
	return cmd
}

// Close tears the session down: the process is killed, the pty closed
// and any backing pod deleted best-effort. Safe to call from every
// exit path; only the first call acts.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cmd != nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
			_, _ = s.cmd.Process.Wait()
		}
		if s.pty != nil {
			_ = s.pty.Close()
		}
		s.teardownPod()
		if s.cmd != nil {
			deckmetrics.RemoveShellSession()
		}
		logrus.Debugf("closed debug session %s", s.ID)
	})
}

// teardownPod deletes the backing pod with zero grace on a fresh
// context. Failures are logged only; teardown never blocks an exit
// path.
func (s *Session) teardownPod() {
	if s.pod == "" {
		return
	}
	pod := s.pod
	s.pod = ""

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	zeroGrace := int64(0)
	err := s.manager.opts.Clientset.CoreV1().Pods(s.manager.opts.Namespace).
		Delete(ctx, pod, metav1.DeleteOptions{GracePeriodSeconds: &zeroGrace})
	if err != nil {
		logrus.WithError(err).Warnf("could not delete node shell pod %s", pod)
	}
}
