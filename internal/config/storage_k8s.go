//go:build k8s
// +build k8s

package config

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	configKey         = "config.yaml"
	versionLabel      = "idbridge.io/config-version"
	commentAnnotation = "idbridge.io/comment"
)

// K8sBackend implements StorageBackend using Kubernetes ConfigMaps or
// Secrets. Versions are kept as sibling resources labelled with the parent
// resource name.
type K8sBackend struct {
	client       *kubernetes.Clientset
	namespace    string
	resourceType string // "configmap" or "secret"
	resourceName string
	maxVersions  int
}

// NewK8sBackend creates a new Kubernetes-based storage backend
func NewK8sBackend(cfg *StorageConfig) (*K8sBackend, error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	if cfg.ResourceName == "" {
		return nil, fmt.Errorf("resource name is required")
	}
	if cfg.ResourceType != "configmap" && cfg.ResourceType != "secret" {
		return nil, fmt.Errorf("resource type must be 'configmap' or 'secret'")
	}
	maxVersions := cfg.Versions
	if maxVersions == 0 {
		maxVersions = 5
	}

	// Try in-cluster config first, then fall back to kubeconfig
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := clientcmd.NewDefaultClientConfigLoadingRules().GetDefaultFilename()
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
		}
	}

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return &K8sBackend{
		client:       client,
		namespace:    cfg.Namespace,
		resourceType: cfg.ResourceType,
		resourceName: cfg.ResourceName,
		maxVersions:  maxVersions,
	}, nil
}

// Load reads the configuration from the ConfigMap/Secret
func (k *K8sBackend) Load() (*Config, error) {
	data, err := k.readResource(context.Background(), k.resourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource: %w", err)
	}
	return ParseConfig(data)
}

// Save writes the configuration with a versioned backup of the previous contents
func (k *K8sBackend) Save(cfg *Config, comment string) error {
	ctx := context.Background()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := k.backupCurrent(ctx, comment); err != nil {
		return fmt.Errorf("failed to create version backup: %w", err)
	}

	if err := k.writeResource(ctx, k.resourceName, data, nil, nil); err != nil {
		return fmt.Errorf("failed to write resource: %w", err)
	}

	return k.pruneVersions(ctx)
}

// ListVersions returns stored versions, newest first
func (k *K8sBackend) ListVersions() ([]Version, error) {
	ctx := context.Background()
	versions, err := k.listVersionResources(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Version, 0, len(versions))
	for _, v := range versions {
		out = append(out, v.version)
	}
	return out, nil
}

// LoadVersion loads a specific stored version
func (k *K8sBackend) LoadVersion(id string) (*Config, error) {
	data, err := k.readResource(context.Background(), k.versionResourceName(id))
	if err != nil {
		return nil, fmt.Errorf("version %q not found: %w", id, err)
	}
	return ParseConfig(data)
}

// Rollback replaces the current configuration with a stored version
func (k *K8sBackend) Rollback(id string) error {
	cfg, err := k.LoadVersion(id)
	if err != nil {
		return err
	}
	return k.Save(cfg, fmt.Sprintf("rollback to %s", id))
}

type versionResource struct {
	name    string
	version Version
}

func (k *K8sBackend) versionResourceName(id string) string {
	return fmt.Sprintf("%s-v-%s", k.resourceName, id)
}

func (k *K8sBackend) backupCurrent(ctx context.Context, comment string) error {
	current, err := k.readResource(ctx, k.resourceName)
	if err != nil {
		// Nothing to back up on first save.
		return nil
	}

	id := uuid.New().String()[:8]
	labels := map[string]string{versionLabel: k.resourceName}
	annotations := map[string]string{commentAnnotation: comment}
	return k.writeResource(ctx, k.versionResourceName(id), current, labels, annotations)
}

func (k *K8sBackend) pruneVersions(ctx context.Context) error {
	versions, err := k.listVersionResources(ctx)
	if err != nil {
		return err
	}
	for i := k.maxVersions; i < len(versions); i++ {
		if err := k.deleteResource(ctx, versions[i].name); err != nil {
			return err
		}
	}
	return nil
}

func (k *K8sBackend) listVersionResources(ctx context.Context) ([]versionResource, error) {
	selector := metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", versionLabel, k.resourceName),
	}

	var out []versionResource
	switch k.resourceType {
	case "secret":
		list, err := k.client.CoreV1().Secrets(k.namespace).List(ctx, selector)
		if err != nil {
			return nil, fmt.Errorf("failed to list versions: %w", err)
		}
		for i := range list.Items {
			out = append(out, versionFromMeta(&list.Items[i].ObjectMeta, k.resourceName))
		}
	default:
		list, err := k.client.CoreV1().ConfigMaps(k.namespace).List(ctx, selector)
		if err != nil {
			return nil, fmt.Errorf("failed to list versions: %w", err)
		}
		for i := range list.Items {
			out = append(out, versionFromMeta(&list.Items[i].ObjectMeta, k.resourceName))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].version.Timestamp.After(out[j].version.Timestamp)
	})
	return out, nil
}

func versionFromMeta(meta *metav1.ObjectMeta, parent string) versionResource {
	id := meta.Name[len(parent)+len("-v-"):]
	return versionResource{
		name: meta.Name,
		version: Version{
			ID:        id,
			Timestamp: meta.CreationTimestamp.Time,
			Comment:   meta.Annotations[commentAnnotation],
		},
	}
}

func (k *K8sBackend) readResource(ctx context.Context, name string) ([]byte, error) {
	switch k.resourceType {
	case "secret":
		secret, err := k.client.CoreV1().Secrets(k.namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return nil, err
		}
		data, ok := secret.Data[configKey]
		if !ok {
			return nil, fmt.Errorf("secret %s has no %s key", name, configKey)
		}
		return data, nil
	default:
		cm, err := k.client.CoreV1().ConfigMaps(k.namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return nil, err
		}
		data, ok := cm.Data[configKey]
		if !ok {
			return nil, fmt.Errorf("configmap %s has no %s key", name, configKey)
		}
		return []byte(data), nil
	}
}

func (k *K8sBackend) writeResource(ctx context.Context, name string, data []byte, labels, annotations map[string]string) error {
	meta := metav1.ObjectMeta{
		Name:        name,
		Namespace:   k.namespace,
		Labels:      labels,
		Annotations: annotations,
	}

	switch k.resourceType {
	case "secret":
		secret := &corev1.Secret{ObjectMeta: meta, Data: map[string][]byte{configKey: data}}
		_, err := k.client.CoreV1().Secrets(k.namespace).Update(ctx, secret, metav1.UpdateOptions{})
		if err != nil {
			_, err = k.client.CoreV1().Secrets(k.namespace).Create(ctx, secret, metav1.CreateOptions{})
		}
		return err
	default:
		cm := &corev1.ConfigMap{ObjectMeta: meta, Data: map[string]string{configKey: string(data)}}
		_, err := k.client.CoreV1().ConfigMaps(k.namespace).Update(ctx, cm, metav1.UpdateOptions{})
		if err != nil {
			_, err = k.client.CoreV1().ConfigMaps(k.namespace).Create(ctx, cm, metav1.CreateOptions{})
		}
		return err
	}
}

func (k *K8sBackend) deleteResource(ctx context.Context, name string) error {
	switch k.resourceType {
	case "secret":
		return k.client.CoreV1().Secrets(k.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	default:
		return k.client.CoreV1().ConfigMaps(k.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	}
}
