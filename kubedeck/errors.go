package kubedeck

import (
	"github.com/kubedeck/kubedeck/goutil/errorutil"
	"github.com/pkg/errors"
)

// ErrClusterNotFound is returned for ids the hub does not know. The API
// layer maps it to a 404; remove treats it as a no-op instead.
var ErrClusterNotFound = errors.New("cluster is not registered")

// ErrUnknownFeature is returned for feature names outside the curated set.
var ErrUnknownFeature = errors.New("unknown cluster feature")

// ErrSubscriptionNotFound is returned for unknown watch handle ids.
var ErrSubscriptionNotFound = errors.New("subscription is not open")

var errNoUsableContexts = errors.New("kubeconfig contains no usable contexts")

var errProxyNotConfigured = errors.New("cluster has no resolvable rest config")

// User errors. Should start with errUser. Message will be visible to end user
var errUserKubeconfigUnreadable = errorutil.NewUserError(
	"Could not read the kubeconfig. Check the path and file permissions and try again.",
)

var errUserClusterUnreachable = errorutil.NewUserError(
	"Could not reach the cluster API server. Check connectivity and your credentials, then refresh again.",
)
