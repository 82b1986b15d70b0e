/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/dynamic"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	queuev1alpha1 "github.com/llm-d/llm-d-queue-autoscaler/api/v1alpha1"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/actuator"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/collector"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/config"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/controller"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/engines/scaling"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/logging"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/metrics"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/source"
)

// maxReconnectDelay caps the exponential reconnect backoff.
const maxReconnectDelay = 2 * time.Minute

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(queuev1alpha1.AddToScheme(scheme))
}

func main() {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	config.BindFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs, viper.New())
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if _, err := logging.NewLogger(cfg.LogLevel, cfg.LogDevelopment); err != nil {
		fmt.Fprintf(os.Stderr, "unable to set up logging: %v\n", err)
		os.Exit(1)
	}

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		setupLog.Error(err, "unable to load kubeconfig")
		os.Exit(1)
	}

	mgr, err := ctrl.NewManager(restConfig, ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: cfg.MetricsAddr},
		HealthProbeBindAddress: cfg.ProbeAddr,
		LeaderElection:         cfg.LeaderElect,
		LeaderElectionID:       "queue-autoscaler.queue.llm-d.ai",
	})
	if err != nil {
		setupLog.Error(err, "unable to create manager")
		os.Exit(1)
	}
	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}
	metrics.Register()

	loop, err := setupLoop(cfg, mgr)
	if err != nil {
		setupLog.Error(err, "unable to set up control loop")
		os.Exit(1)
	}
	if err := mgr.Add(loop); err != nil {
		setupLog.Error(err, "unable to add control loop")
		os.Exit(1)
	}

	setupLog.Info("Starting manager",
		"source", cfg.Source,
		"mode", cfg.Mode,
		"policy", cfg.Policy,
		"metricSource", cfg.MetricSource)
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}

// setupLoop wires the request source, metric source, policy and actuator described by cfg.
func setupLoop(cfg *config.Config, mgr ctrl.Manager) (*controller.Loop, error) {
	strategy, err := scaling.ParseStrategy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	policy, err := scaling.NewPolicy(strategy)
	if err != nil {
		return nil, err
	}

	depth, err := collector.NewQueueDepthSource(collector.SourceKind(cfg.MetricSource), collector.SourceConfig{
		Timeout: cfg.MetricTimeout,
		VHost:   cfg.ManagementVHost,
		RedisDB: cfg.RedisDB,
	})
	if err != nil {
		return nil, err
	}

	template, err := config.LoadWorkerTemplate(cfg.WorkerTemplate)
	if err != nil {
		return nil, err
	}
	// the manager's cached client would need list/watch on every Deployment
	directClient, err := client.New(mgr.GetConfig(), client.Options{Scheme: mgr.GetScheme()})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	src, err := newSource(cfg, mgr)
	if err != nil {
		return nil, err
	}

	return &controller.Loop{
		Source:   src,
		Metrics:  depth,
		Policy:   policy,
		Actuator: actuator.NewActuator(directClient, template, cfg.APITimeout),
		Resolver: &controller.Resolver{
			Defaults:         cfg.StaticSpec(),
			TargetDeployment: cfg.TargetDeployment,
			Mode:             interfaces.Mode(cfg.Mode),
			OwnerGVK: schema.GroupVersionKind{
				Group:   cfg.CRDGroup,
				Version: cfg.CRDVersion,
				Kind:    queuev1alpha1.Kind,
			},
		},
		Mode: interfaces.Mode(cfg.Mode),
	}, nil
}

func newSource(cfg *config.Config, mgr ctrl.Manager) (source.Source, error) {
	if cfg.Source == config.SourcePoll {
		key := types.NamespacedName{Namespace: cfg.TargetNamespace(), Name: cfg.TargetDeployment}
		return source.NewTickerSource(key, cfg.CheckInterval), nil
	}

	dyn, err := dynamic.NewForConfig(mgr.GetConfig())
	if err != nil {
		return nil, fmt.Errorf("create dynamic client: %w", err)
	}
	reconnect, err := source.NewReconnectBackOff(cfg.ReconnectBackoff, cfg.ReconnectDelay, maxReconnectDelay)
	if err != nil {
		return nil, err
	}
	return source.NewWatchSource(dyn, source.WatchOptions{
		GVR:            cfg.GVR(),
		Namespace:      cfg.Namespace,
		ResyncInterval: cfg.ResyncInterval,
		WatchTimeout:   cfg.WatchTimeout,
		APITimeout:     cfg.APITimeout,
		BackOff:        reconnect,
	}), nil
}
