package coordinator

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	metricsv1beta1 "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/uba-build/uba/cluster"
)

// K8sProvisioner scales the helper pool by adjusting a Deployment's
// replica count and reports ready helper pods back as cluster.Node
// entries, using the in-cluster config the way a sidecar controller
// normally does.
type K8sProvisioner struct {
	clientset        *kubernetes.Clientset
	metrics          *metricsv1beta1.Clientset
	namespace        string
	labelSel         string
	helperDeployment string
	helperPort       int
}

func NewK8sProvisioner(namespace, labelSel, helperDeployment string, helperPort int) (*K8sProvisioner, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("coordinator: not running in-cluster: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, err
	}
	ms, err := metricsv1beta1.NewForConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &K8sProvisioner{
		clientset:        cs,
		metrics:          ms,
		namespace:        namespace,
		labelSel:         labelSel,
		helperDeployment: helperDeployment,
		helperPort:       helperPort,
	}, nil
}

// ScaleTo sets the helper Deployment's replica count, the provisioning
// primitive the Coordinator's autoscale loop drives.
func (p *K8sProvisioner) ScaleTo(ctx context.Context, replicas int32) error {
	scale, err := p.clientset.AppsV1().Deployments(p.namespace).GetScale(ctx, p.helperDeployment, metav1.GetOptions{})
	if err != nil {
		return err
	}
	scale.Spec.Replicas = replicas
	_, err = p.clientset.AppsV1().Deployments(p.namespace).UpdateScale(ctx, p.helperDeployment, scale, metav1.UpdateOptions{})
	return err
}

// DiscoverHelpers lists ready pods matching the helper label selector
// and converts each to a cluster.Node the host can merge into its Smap.
func (p *K8sProvisioner) DiscoverHelpers(ctx context.Context) ([]*cluster.Node, error) {
	pods, err := p.clientset.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{LabelSelector: p.labelSel})
	if err != nil {
		return nil, err
	}
	out := make([]*cluster.Node, 0, len(pods.Items))
	for _, pod := range pods.Items {
		if !podReady(&pod) {
			continue
		}
		out = append(out, &cluster.Node{
			ID:   string(pod.UID),
			Role: "helper",
			Net: cluster.NetInfo{
				Hostname:  pod.Status.PodIP,
				Port:      p.helperPort,
				DirectURL: fmt.Sprintf("%s:%d", pod.Status.PodIP, p.helperPort),
			},
			Zone:     pod.Spec.NodeSelector["topology.kubernetes.io/zone"],
			MaxCPU:   0,
			Capacity: 0,
		})
	}
	return out, nil
}

func podReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady && c.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

// NodeMemoryPressure queries the metrics API for a node's current
// memory usage, used to weight placement decisions away from nodes
// already under pressure before the scheduler's own in-process
// memWatcher would see it.
func (p *K8sProvisioner) NodeMemoryPressure(ctx context.Context, nodeName string) (usedBytes int64, err error) {
	m, err := p.metrics.MetricsV1beta1().NodeMetricses().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		return 0, err
	}
	mem := m.Usage.Memory()
	return mem.Value(), nil
}
