package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Fatal("Registry should not be nil")
	}
	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offline_metrics_registry_test_total",
		Help: "Registered by the metrics package tests",
	})
	if err := Registry.Register(counter); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer Registry.Unregister(counter)

	var already prometheus.AlreadyRegisteredError
	err := Registry.Register(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offline_metrics_registry_test_total",
		Help: "Registered by the metrics package tests",
	}))
	if err == nil {
		t.Fatal("registering the same metric twice should fail")
	}
	if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
		t.Errorf("err = %T, want %T", err, already)
	}
}
