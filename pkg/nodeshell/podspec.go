package nodeshell

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// nodeShellPod is the transient privileged pod giving a session the
// host's process tree on one node: host PID/IPC/network shared, pinned
// by nodeName, never restarted, killable without grace, tolerating any
// taint. The container enters the host namespaces through nsenter, so
// the shell started inside it sees the node, not the container.
func nodeShellPod(name, node, image string) *corev1.Pod {
	zeroGrace := int64(0)
	privileged := true
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "kubedeck",
			},
		},
		Spec: corev1.PodSpec{
			NodeName:                      node,
			RestartPolicy:                 corev1.RestartPolicyNever,
			TerminationGracePeriodSeconds: &zeroGrace,
			HostPID:                       true,
			HostIPC:                       true,
			HostNetwork:                   true,
			Tolerations: []corev1.Toleration{
				{Operator: corev1.TolerationOpExists},
			},
			Containers: []corev1.Container{
				{
					Name:  "shell",
					Image: image,
					SecurityContext: &corev1.SecurityContext{
						Privileged: &privileged,
					},
					Command: []string{"nsenter"},
					Args:    []string{"-t", "1", "-m", "-u", "-i", "-n", "sleep", "14000"},
				},
			},
		},
	}
}
