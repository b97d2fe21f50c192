package admission

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlreg/internal/oracle"
	"mlreg/pkg/metrics"
)

type stubOracle struct {
	rating     oracle.Rating
	err        error
	block      bool
	credential string
}

func (s *stubOracle) Rate(ctx context.Context, _ string, credential string) (oracle.Rating, error) {
	s.credential = credential
	if s.block {
		<-ctx.Done()
		return oracle.Rating{}, ctx.Err()
	}
	return s.rating, s.err
}

func TestClampThreshold(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{in: 0.5, want: 0.5},
		{in: 0, want: 0},
		{in: 1, want: 1},
		{in: -0.2, want: 0},
		{in: 1.7, want: 1},
		{in: math.NaN(), want: DefaultThreshold},
		{in: math.Inf(1), want: 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampThreshold(tt.in))
	}
}

func TestScreen(t *testing.T) {
	tests := []struct {
		name      string
		oracle    *stubOracle
		threshold float64
		accepted  bool
		score     float64
	}{
		{name: "above threshold", oracle: &stubOracle{rating: oracle.Rating{NetScore: 0.8}}, threshold: 0.5, accepted: true, score: 0.8},
		{name: "exactly threshold", oracle: &stubOracle{rating: oracle.Rating{NetScore: 0.5}}, threshold: 0.5, accepted: true, score: 0.5},
		{name: "below threshold", oracle: &stubOracle{rating: oracle.Rating{NetScore: 0.49}}, threshold: 0.5, accepted: false, score: 0.49},
		{name: "missing score", oracle: &stubOracle{rating: oracle.Rating{Name: "x"}}, threshold: 0.5, accepted: false, score: 0},
		{name: "nan score", oracle: &stubOracle{rating: oracle.Rating{NetScore: math.NaN()}}, threshold: 0.5, accepted: false, score: 0},
		{name: "infinite score", oracle: &stubOracle{rating: oracle.Rating{NetScore: math.Inf(1)}}, threshold: 0.5, accepted: false, score: 0},
		{name: "oracle error", oracle: &stubOracle{err: errors.New("exit 1")}, threshold: 0.5, accepted: false, score: 0},
		{name: "zero threshold admits zero", oracle: &stubOracle{rating: oracle.Rating{}}, threshold: 0, accepted: true, score: 0},
		{name: "zero threshold still fails closed", oracle: &stubOracle{err: errors.New("spawn")}, threshold: 0, accepted: false, score: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.oracle, Options{Threshold: tt.threshold, Logger: zerolog.Nop()})
			require.NoError(t, err)

			d := c.Screen(context.Background(), "https://huggingface.co/a/b", "bearer t")
			assert.Equal(t, tt.accepted, d.Accepted)
			assert.Equal(t, tt.score, d.Score)
			assert.Equal(t, tt.threshold, d.Threshold)
			if !tt.accepted {
				assert.NotEmpty(t, d.Reason)
			}
			assert.Equal(t, "bearer t", tt.oracle.credential)
		})
	}
}

func TestScreenTimeout(t *testing.T) {
	c, err := New(&stubOracle{block: true}, Options{Threshold: 0.5, Timeout: 50 * time.Millisecond, Logger: zerolog.Nop()})
	require.NoError(t, err)

	start := time.Now()
	d := c.Screen(context.Background(), "https://huggingface.co/a/b", "")
	assert.False(t, d.Accepted)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestScreenRecordsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(registry)

	c, err := New(&stubOracle{rating: oracle.Rating{NetScore: 0.9}}, Options{Threshold: 0.5, Logger: zerolog.Nop(), Metrics: recorder})
	require.NoError(t, err)

	c.Screen(context.Background(), "https://huggingface.co/a/b", "")
	c.Screen(context.Background(), "https://huggingface.co/a/c", "")

	count, err := testutil.GatherAndCount(registry, "mlreg_admission_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewRequiresOracle(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)
}
