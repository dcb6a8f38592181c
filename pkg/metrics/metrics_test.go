package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	r := prometheus.NewRegistry()
	require.NotPanics(t, func() { Register(r) })
	assert.Equal(t, prometheus.Registerer(r), GetRegisterer())

	DroppedEvents.WithLabelValues("privateMessage").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(DroppedEvents.WithLabelValues("privateMessage")))

	families, err := r.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "privchat_relay_dropped_events_total")
}
