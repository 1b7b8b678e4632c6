package nodeshell

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func countPodDeletes(t *testing.T, clientset *fake.Clientset) int {
	t.Helper()
	count := 0
	for _, action := range clientset.Actions() {
		if action.GetVerb() == "delete" && action.GetResource().Resource == "pods" {
			count++
		}
	}
	return count
}

// markPodRunning flips the first pod that shows up in kube-system to
// Running, standing in for the kubelet.
func markPodRunning(ctx context.Context, clientset *fake.Clientset) {
	pods := clientset.CoreV1().Pods("kube-system")
	for i := 0; i < 200; i++ {
		list, err := pods.List(ctx, metav1.ListOptions{})
		if err == nil && len(list.Items) == 1 {
			pod := list.Items[0].DeepCopy()
			pod.Status.Phase = corev1.PodRunning
			_, _ = pods.UpdateStatus(ctx, pod, metav1.UpdateOptions{})
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNodeSessionRequiresClusterAccess(t *testing.T) {
	manager := NewManager(Options{KubeconfigPath: "/tmp/kubeconfig.yaml"})

	_, err := manager.Open(context.Background(), "worker-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Clientset")
	assert.Contains(t, err.Error(), "KubectlPath")
}

func TestNodeSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	clientset := fake.NewSimpleClientset()
	manager := NewManager(Options{
		Clientset:      clientset,
		KubectlPath:    "/bin/echo",
		KubeconfigPath: "/tmp/kubeconfig.yaml",
		ReadyTimeout:   2 * time.Second,
	})

	go markPodRunning(ctx, clientset)

	session, err := manager.Open(ctx, "worker-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(session.ID, "shell_"))
	assert.True(t, strings.HasPrefix(session.Pod(), "kubedeck-node-shell-"))

	pod, err := clientset.CoreV1().Pods("kube-system").Get(ctx, session.Pod(), metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "worker-1", pod.Spec.NodeName)

	assert.Contains(t, session.cmd.Env, "KUBECONFIG=/tmp/kubeconfig.yaml")

	session.Close()
	assert.Equal(t, 1, countPodDeletes(t, clientset))
	list, err := clientset.CoreV1().Pods("kube-system").List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list.Items)

	// Closing again must not issue a second delete.
	session.Close()
	assert.Equal(t, 1, countPodDeletes(t, clientset))
}

func TestPodNeverReadyAbortsWithOneCleanup(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	manager := NewManager(Options{
		Clientset:    clientset,
		KubectlPath:  "/bin/echo",
		ReadyTimeout: 50 * time.Millisecond,
	})

	_, err := manager.Open(context.Background(), "worker-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPodNotReady))
	assert.Equal(t, ClosePodNotReady, CloseCodeForError(err))
	assert.Equal(t, 1, countPodDeletes(t, clientset))
}

func TestPodEnteringFailedPhaseAborts(t *testing.T) {
	ctx := context.Background()
	clientset := fake.NewSimpleClientset()
	manager := NewManager(Options{
		Clientset:    clientset,
		KubectlPath:  "/bin/echo",
		ReadyTimeout: 2 * time.Second,
	})

	go func() {
		pods := clientset.CoreV1().Pods("kube-system")
		for i := 0; i < 200; i++ {
			list, err := pods.List(ctx, metav1.ListOptions{})
			if err == nil && len(list.Items) == 1 {
				pod := list.Items[0].DeepCopy()
				pod.Status.Phase = corev1.PodFailed
				_, _ = pods.UpdateStatus(ctx, pod, metav1.UpdateOptions{})
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	_, err := manager.Open(ctx, "worker-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPodNotReady))
	assert.Equal(t, 1, countPodDeletes(t, clientset))
}

func TestLocalSessionCreatesNoPod(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	manager := NewManager(Options{
		Clientset:      clientset,
		KubectlPath:    "/bin/echo",
		KubeconfigPath: "/tmp/kubeconfig.yaml",
		Shell:          "/bin/echo",
	})

	session, err := manager.Open(context.Background(), "")
	require.NoError(t, err)
	defer session.Close()

	assert.Empty(t, session.Pod())
	assert.Empty(t, clientset.Actions())
	assert.Contains(t, session.cmd.Env, "KUBECONFIG=/tmp/kubeconfig.yaml")
}

func TestCloseCodeForError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected int
	}{
		{"no error", nil, CloseNormal},
		{"pod not ready", ErrPodNotReady, ClosePodNotReady},
		{"wrapped pod not ready", errors.Wrap(ErrPodNotReady, "open session"), ClosePodNotReady},
		{"anything else", errors.New("exec failed"), CloseSessionFailed},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.expected, CloseCodeForError(testCase.err))
		})
	}
}
