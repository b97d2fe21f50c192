// Package oracle obtains quality ratings for artifact URLs from an external scorer.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
)

// ErrNoRating is returned when scorer output contains no JSON object.
var ErrNoRating = errors.New("oracle: no rating in output")

// Oracle rates the artifact at url. credential is the caller's token and is
// forwarded to scorers that need it.
type Oracle interface {
	Rate(ctx context.Context, url, credential string) (Rating, error)
}

// SizeScore is the per-device size suitability of a model.
type SizeScore struct {
	RaspberryPi float64 `json:"raspberry_pi"`
	JetsonNano  float64 `json:"jetson_nano"`
	DesktopPC   float64 `json:"desktop_pc"`
	AWSServer   float64 `json:"aws_server"`
}

// Rating is the scorer's verdict. Missing fields decode as zero.
type Rating struct {
	Name                       string    `json:"name"`
	Category                   string    `json:"category"`
	NetScore                   float64   `json:"net_score"`
	NetScoreLatency            float64   `json:"net_score_latency"`
	RampUpTime                 float64   `json:"ramp_up_time"`
	RampUpTimeLatency          float64   `json:"ramp_up_time_latency"`
	BusFactor                  float64   `json:"bus_factor"`
	BusFactorLatency           float64   `json:"bus_factor_latency"`
	PerformanceClaims          float64   `json:"performance_claims"`
	PerformanceClaimsLatency   float64   `json:"performance_claims_latency"`
	License                    float64   `json:"license"`
	LicenseLatency             float64   `json:"license_latency"`
	DatasetAndCodeScore        float64   `json:"dataset_and_code_score"`
	DatasetAndCodeScoreLatency float64   `json:"dataset_and_code_score_latency"`
	DatasetQuality             float64   `json:"dataset_quality"`
	DatasetQualityLatency      float64   `json:"dataset_quality_latency"`
	CodeQuality                float64   `json:"code_quality"`
	CodeQualityLatency         float64   `json:"code_quality_latency"`
	Reproducibility            float64   `json:"reproducibility"`
	ReproducibilityLatency     float64   `json:"reproducibility_latency"`
	Reviewedness               float64   `json:"reviewedness"`
	ReviewednessLatency        float64   `json:"reviewedness_latency"`
	TreeScore                  float64   `json:"tree_score"`
	TreeScoreLatency           float64   `json:"tree_score_latency"`
	SizeScore                  SizeScore `json:"size_score"`
	SizeScoreLatency           float64   `json:"size_score_latency"`
}

// ParseRating decodes scorer output. Scorers may log before printing their
// result, so the last line holding a JSON object wins.
func ParseRating(output []byte) (Rating, error) {
	lines := bytes.Split(output, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var rating Rating
		if err := json.Unmarshal(line, &rating); err != nil {
			return Rating{}, err
		}
		return rating, nil
	}
	return Rating{}, ErrNoRating
}
