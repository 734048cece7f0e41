package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRecorderRegistersWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.Resolutions.WithLabelValues("ok").Inc()
	r.ResolveLatency.WithLabelValues("A").Observe(0.01)
	r.FrameDepth.Observe(3)
	r.PortPoolEvents.WithLabelValues("allocated").Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected at least one metric family")
	}
}
