package oracle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scorer.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    float64
		wantErr bool
	}{
		{name: "single line", output: `{"net_score":0.72}`, want: 0.72},
		{name: "logs before result", output: "loading model card\n{\"net_score\":0.4}\n\n", want: 0.4},
		{name: "last object wins", output: "{\"net_score\":0.1}\n{\"net_score\":0.9}", want: 0.9},
		{name: "missing net_score", output: `{"name":"x"}`, want: 0},
		{name: "no json", output: "oops", wantErr: true},
		{name: "empty", output: "", wantErr: true},
		{name: "broken json", output: `{"net_score":`, wantErr: true},
		{name: "nan literal", output: `{"net_score":NaN}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rating, err := ParseRating([]byte(tt.output))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, rating.NetScore, 1e-9)
		})
	}
}

func TestParseRatingFullObject(t *testing.T) {
	out := `{"name":"whisper","category":"MODEL","net_score":0.61,"ramp_up_time":0.5,"license":1,` +
		`"size_score":{"raspberry_pi":0.1,"jetson_nano":0.2,"desktop_pc":0.8,"aws_server":1},"size_score_latency":12}`

	rating, err := ParseRating([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "whisper", rating.Name)
	assert.Equal(t, "MODEL", rating.Category)
	assert.Equal(t, 1.0, rating.License)
	assert.Equal(t, SizeScore{RaspberryPi: 0.1, JetsonNano: 0.2, DesktopPC: 0.8, AWSServer: 1}, rating.SizeScore)
	assert.Equal(t, 12.0, rating.SizeScoreLatency)
}

func TestExecOracle_Rate(t *testing.T) {
	script := writeScript(t, `echo "scoring $2" >&2
echo "warming up"
printf '{"name":"%s","category":"%s","net_score":0.83}\n' "$2" "$REGISTRY_AUTH_TOKEN"`)

	o, err := NewExecOracle("sh "+script+" --json", zerolog.Nop())
	require.NoError(t, err)

	rating, err := o.Rate(context.Background(), "https://huggingface.co/openai/whisper-tiny", "bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "https://huggingface.co/openai/whisper-tiny", rating.Name)
	assert.Equal(t, "bearer abc", rating.Category)
	assert.InDelta(t, 0.83, rating.NetScore, 1e-9)
}

func TestExecOracle_Failures(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		timeout time.Duration
	}{
		{name: "non-zero exit", script: "echo boom >&2\nexit 3"},
		{name: "unparseable output", script: "echo not json"},
		{name: "timeout", script: "exec sleep 5", timeout: 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := NewExecOracle("sh "+writeScript(t, tt.script), zerolog.Nop())
			require.NoError(t, err)

			ctx := context.Background()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}

			start := time.Now()
			_, err = o.Rate(ctx, "https://example.com/m", "")
			require.Error(t, err)
			assert.True(t, Error.Has(err))
			assert.Less(t, time.Since(start), 4*time.Second)
		})
	}
}

func TestExecOracle_MissingBinary(t *testing.T) {
	o, err := NewExecOracle("/nonexistent/scorer-binary", zerolog.Nop())
	require.NoError(t, err)

	_, err = o.Rate(context.Background(), "https://example.com/m", "")
	assert.Error(t, err)
}

func TestNewExecOracleRequiresCommand(t *testing.T) {
	_, err := NewExecOracle("   ", zerolog.Nop())
	assert.Error(t, err)
}

type fakeOracle struct {
	rating Rating
	err    error
	calls  []string
}

func (f *fakeOracle) Rate(_ context.Context, url, credential string) (Rating, error) {
	f.calls = append(f.calls, url+"|"+credential)
	return f.rating, f.err
}

func TestServe(t *testing.T) {
	ctx := context.Background()

	ok := &fakeOracle{rating: Rating{NetScore: 0.9}}
	resp := Serve(ctx, ok, RateRequest{URL: "https://x/y", Credential: "tok"})
	require.NotNil(t, resp.Rating)
	assert.Equal(t, 0.9, resp.Rating.NetScore)
	assert.Empty(t, resp.Error)
	assert.Equal(t, []string{"https://x/y|tok"}, ok.calls)

	failing := &fakeOracle{err: errors.New("scorer crashed")}
	resp = Serve(ctx, failing, RateRequest{URL: "https://x/y"})
	assert.Nil(t, resp.Rating)
	assert.Equal(t, "scorer crashed", resp.Error)

	resp = Serve(ctx, ok, RateRequest{})
	assert.Equal(t, "url is required", resp.Error)
}

func TestNewNATSOracleValidates(t *testing.T) {
	_, err := NewNATSOracle(nil, "mlreg.rate")
	assert.Error(t, err)
}
