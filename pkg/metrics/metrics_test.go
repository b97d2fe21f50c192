package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_RecordArtifactOperation(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry)

	tests := []struct {
		name      string
		operation string
		success   bool
		want      float64
	}{
		{name: "successful create", operation: "create", success: true, want: 1},
		{name: "second successful create", operation: "create", success: true, want: 2},
		{name: "failed create", operation: "create", success: false, want: 1},
		{name: "successful get", operation: "get", success: true, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder.RecordArtifactOperation(tt.operation, tt.success, 10*time.Millisecond)

			label := "false"
			if tt.success {
				label = "true"
			}
			got := testutil.ToFloat64(recorder.artifactOperationTotal.WithLabelValues(tt.operation, label))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecorder_RecordAdmission(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry)

	recorder.RecordAdmission(true, 0.8)
	recorder.RecordAdmission(false, 0.2)
	recorder.RecordAdmission(false, 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.admissionTotal.WithLabelValues("accepted")))
	assert.Equal(t, float64(2), testutil.ToFloat64(recorder.admissionTotal.WithLabelValues("rejected")))
}

func TestRecorder_RegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry)

	recorder.RecordAuthEvent("login")
	recorder.RecordOracleRequest(true, time.Second)
	recorder.RecordTokenCleanup(3)
	recorder.RecordTokenCleanup(0)

	families, err := registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["mlreg_auth_event_total"])
	assert.True(t, names["mlreg_oracle_request_duration_seconds"])
	assert.Equal(t, float64(3), testutil.ToFloat64(recorder.tokenCleanupTotal))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var recorder *Recorder
	assert.NotPanics(t, func() {
		recorder.RecordArtifactOperation("create", true, time.Millisecond)
		recorder.RecordAdmission(true, 1)
		recorder.RecordOracleRequest(false, time.Millisecond)
		recorder.RecordAuthEvent("logout")
		recorder.RecordTokenCleanup(1)
	})
}
