package inference

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"
)

// artifact is the versioned model bundle. The encoder is optional, when
// present the model's weights cover the numeric features followed by
// one one-hot column per encoder category.
type artifact struct {
	Version string `json:"version"`
	Model   struct {
		Kind      string    `json:"kind"`
		Weights   []float64 `json:"weights,omitempty"`
		Intercept float64   `json:"intercept,omitempty"`
		Threshold float64   `json:"threshold,omitempty"`
	} `json:"model"`
	Encoder *struct {
		Categories []string `json:"categories"`
	} `json:"encoder,omitempty"`
}

// fetchArtifact reads the model bundle from a local path or from an
// s3://bucket/key URI.
func fetchArtifact(ctx context.Context, path string) ([]byte, error) {
	if !strings.HasPrefix(path, "s3://") {
		return os.ReadFile(path)
	}

	bucket, key, ok := strings.Cut(strings.TrimPrefix(path, "s3://"), "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("invalid s3 artifact path: %s", path)
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	downloader := manager.NewDownloader(s3.NewFromConfig(cfg))
	buf := manager.NewWriteAtBuffer([]byte{})
	_, err = downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseArtifact(data []byte) (Classifier, *speciesEncoder, string, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, nil, "", fmt.Errorf("cannot parse model artifact: %w", err)
	}

	var enc *speciesEncoder
	if a.Encoder != nil {
		enc = &speciesEncoder{categories: a.Encoder.Categories}
	}

	switch a.Model.Kind {
	case "logistic":
		if len(a.Model.Weights) == 0 {
			return nil, nil, "", fmt.Errorf("logistic model has no weights")
		}
		return logisticModel{weights: a.Model.Weights, intercept: a.Model.Intercept}, enc, a.Version, nil
	case "moisture_rule":
		return moistureRule{threshold: a.Model.Threshold}, enc, a.Version, nil
	default:
		return nil, nil, "", fmt.Errorf("unknown model kind '%s'", a.Model.Kind)
	}
}
