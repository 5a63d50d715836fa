package k8s

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"trainops/pkg/config"
	"trainops/pkg/interfaces"
	"trainops/pkg/logger"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	sigsyaml "sigs.k8s.io/yaml"
)

const jobLabelKey = "trainops.io/job-id"

// Controller runs training processes as Kubernetes batch Jobs. One run
// maps to one Job named train-<jobID>; cancel deletes the Job with
// background propagation.
type Controller struct {
	client    kubernetes.Interface
	namespace string
	template  *batchv1.Job
	image     string
}

// NewController creates a K8s-backed trainer controller.
func NewController(cfg *config.Config) (interfaces.TrainerController, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		// Not in cluster: fall back to kubeconfig.
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
		restCfg, err = kubeConfig.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get kubernetes config: %v", err)
		}
	}

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %v", err)
	}

	template, err := loadTemplate(cfg.Trainer.TemplatePath)
	if err != nil {
		return nil, err
	}

	namespace := cfg.Trainer.Namespace
	if namespace == "" {
		namespace = "default"
	}

	return &Controller{
		client:    client,
		namespace: namespace,
		template:  template,
		image:     cfg.Trainer.Image,
	}, nil
}

// loadTemplate parses the batch Job template YAML. A missing path yields a
// minimal built-in template.
func loadTemplate(path string) (*batchv1.Job, error) {
	if path == "" {
		return defaultTemplate(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job template: %w", err)
	}

	var job batchv1.Job
	if err := sigsyaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job template: %w", err)
	}
	return &job, nil
}

func defaultTemplate() *batchv1.Job {
	backoffLimit := int32(0)
	return &batchv1.Job{
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{Name: "trainer"},
					},
				},
			},
		},
	}
}

// StartRun creates a batch Job for the training run.
func (c *Controller) StartRun(ctx context.Context, req *interfaces.StartRunRequest) error {
	job := c.template.DeepCopy()
	job.Name = runName(req.JobID)
	job.Namespace = c.namespace
	if job.Labels == nil {
		job.Labels = map[string]string{}
	}
	job.Labels[jobLabelKey] = req.JobID

	if len(job.Spec.Template.Spec.Containers) == 0 {
		return fmt.Errorf("job template has no containers")
	}

	container := &job.Spec.Template.Spec.Containers[0]
	if container.Image == "" {
		container.Image = c.image
	}

	env := map[string]string{
		"TRAINOPS_JOB_ID":       req.JobID,
		"TRAINOPS_USER_ID":      req.UserID,
		"TRAINOPS_MODEL":        req.Model,
		"TRAINOPS_DATASET":      req.Dataset,
		"TRAINOPS_TOTAL_EPOCHS": strconv.Itoa(req.TotalEpochs),
	}
	for k, v := range req.Env {
		env[k] = v
	}
	for k, v := range env {
		container.Env = append(container.Env, corev1.EnvVar{Name: k, Value: v})
	}

	_, err := c.client.BatchV1().Jobs(c.namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("failed to create training job: %w", err)
	}

	logger.InfoCtx(ctx, "training run started, job_id: %s, k8s_job: %s", req.JobID, job.Name)
	return nil
}

// CancelRun deletes the run's batch Job. Deleting an already-gone Job is
// treated as success.
func (c *Controller) CancelRun(ctx context.Context, jobID string) error {
	propagation := metav1.DeletePropagationBackground
	err := c.client.BatchV1().Jobs(c.namespace).Delete(ctx, runName(jobID), metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete training job: %w", err)
	}

	logger.InfoCtx(ctx, "training run cancelled, job_id: %s", jobID)
	return nil
}

// RunStatus reports the run's coarse status from Job conditions.
func (c *Controller) RunStatus(ctx context.Context, jobID string) (*interfaces.RunInfo, error) {
	job, err := c.client.BatchV1().Jobs(c.namespace).Get(ctx, runName(jobID), metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return &interfaces.RunInfo{JobID: jobID, Status: interfaces.RunStatusUnknown}, nil
		}
		return nil, fmt.Errorf("failed to get training job: %w", err)
	}

	info := &interfaces.RunInfo{JobID: jobID, Status: interfaces.RunStatusPending}
	if job.Status.StartTime != nil {
		info.StartedAt = job.Status.StartTime.Time
	}

	switch {
	case job.Status.Succeeded > 0:
		info.Status = interfaces.RunStatusSucceeded
	case job.Status.Failed > 0:
		info.Status = interfaces.RunStatusFailed
		for _, cond := range job.Status.Conditions {
			if cond.Type == batchv1.JobFailed && cond.Status == corev1.ConditionTrue {
				info.Message = cond.Message
			}
		}
	case job.Status.Active > 0:
		info.Status = interfaces.RunStatusRunning
	}

	return info, nil
}

func runName(jobID string) string {
	return "train-" + jobID
}
