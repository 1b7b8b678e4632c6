package kubedeck

import (
	"context"
	"sort"

	"github.com/kubedeck/kubedeck/pkg/clusterstore"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/getter"
	"helm.sh/helm/v3/pkg/repo"
	"helm.sh/helm/v3/pkg/storage/driver"
	"k8s.io/cli-runtime/pkg/genericclioptions"
)

// featureChart is one curated cluster feature: a pinned chart installed
// under a fixed release name so install and uninstall stay idempotent.
type featureChart struct {
	repo      string
	chart     string
	release   string
	namespace string
}

var clusterFeatures = map[string]featureChart{
	"metrics-stack": {
		repo:      "https://prometheus-community.github.io/helm-charts",
		chart:     "kube-prometheus-stack",
		release:   "kubedeck-metrics",
		namespace: "kubedeck",
	},
	"ingress": {
		repo:      "https://kubernetes.github.io/ingress-nginx",
		chart:     "ingress-nginx",
		release:   "kubedeck-ingress",
		namespace: "kubedeck",
	},
}

// FeatureNames lists the installable features, sorted.
func FeatureNames() []string {
	names := make([]string, 0, len(clusterFeatures))
	for name := range clusterFeatures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InstallFeature installs a curated feature chart into the cluster.
func (h *Hub) InstallFeature(ctx context.Context, id, name string) error {
	release := h.locks.lock(id)
	defer release()

	cluster, err := h.Get(id)
	if err != nil {
		return err
	}
	feature, ok := clusterFeatures[name]
	if !ok {
		return errors.Wrapf(ErrUnknownFeature, "%q", name)
	}
	record := cluster.Record()
	config, err := h.featureActionConfig(&record, feature.namespace)
	if err != nil {
		return err
	}

	settings := cli.New()
	install := action.NewInstall(config)
	install.ReleaseName = feature.release
	install.Namespace = feature.namespace
	install.CreateNamespace = true

	chartURL, err := repo.FindChartInRepoURL(feature.repo, feature.chart, "", "", "", "", getter.All(settings))
	if err != nil {
		return errors.Wrap(err, "Error finding chart in repo")
	}
	chartPath, err := install.ChartPathOptions.LocateChart(chartURL, settings)
	if err != nil {
		return errors.Wrap(err, "Error locating chart")
	}
	chart, err := loader.Load(chartPath)
	if err != nil {
		return errors.Wrap(err, "Error loading chart")
	}

	logrus.Infof("installing feature %s on cluster %s", name, id)
	if _, err := install.RunWithContext(ctx, chart, map[string]any{}); err != nil {
		return errors.Wrapf(err, "Error installing feature %s", name)
	}
	return nil
}

// UninstallFeature removes a curated feature chart. Uninstalling a
// feature that is not installed is a no-op.
func (h *Hub) UninstallFeature(ctx context.Context, id, name string) error {
	release := h.locks.lock(id)
	defer release()

	cluster, err := h.Get(id)
	if err != nil {
		return err
	}
	feature, ok := clusterFeatures[name]
	if !ok {
		return errors.Wrapf(ErrUnknownFeature, "%q", name)
	}
	record := cluster.Record()
	config, err := h.featureActionConfig(&record, feature.namespace)
	if err != nil {
		return err
	}

	uninstall := action.NewUninstall(config)
	logrus.Infof("uninstalling feature %s on cluster %s", name, id)
	if _, err := uninstall.Run(feature.release); err != nil {
		if errors.Is(err, driver.ErrReleaseNotFound) {
			return nil
		}
		return errors.Wrapf(err, "Error uninstalling feature %s", name)
	}
	return nil
}

// ListFeatures reports which curated features are installed on the
// cluster.
func (h *Hub) ListFeatures(ctx context.Context, id string) (map[string]bool, error) {
	cluster, err := h.Get(id)
	if err != nil {
		return nil, err
	}
	record := cluster.Record()

	installed := map[string]bool{}
	for name, feature := range clusterFeatures {
		config, err := h.featureActionConfig(&record, feature.namespace)
		if err != nil {
			return nil, err
		}
		releases, err := action.NewList(config).Run()
		if err != nil {
			return nil, errors.Wrap(err, "Error listing releases")
		}
		installed[name] = false
		for _, rel := range releases {
			if rel.Name == feature.release {
				installed[name] = true
				break
			}
		}
	}
	return installed, nil
}

func (h *Hub) featureActionConfig(record *clusterstore.Record, namespace string) (*action.Configuration, error) {
	flags := genericclioptions.NewConfigFlags(false)
	flags.KubeConfig = &record.KubeconfigPath
	flags.Context = &record.ContextName
	flags.Namespace = &namespace

	config := &action.Configuration{}
	if err := config.Init(flags, namespace, "", func(format string, v ...any) {
		logrus.Debugf(format, v...)
	}); err != nil {
		return nil, errors.Wrap(err, "Error initializing chart config")
	}
	return config, nil
}
