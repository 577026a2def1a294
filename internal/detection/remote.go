package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/ironsheep/image-pipeline-mcp/internal/imaging"
)

// Remote calls an HTTP detection service.
type Remote struct {
	inferenceURL string
	client       *http.Client
}

func NewRemote(inferenceURL string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{}
	}
	return &Remote{inferenceURL: strings.TrimRight(inferenceURL, "/"), client: client}
}

func (r *Remote) Name() string { return "remote" }

type remoteDetection struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// Detect posts the raster as a PNG and decodes the detections.
func (r *Remote) Detect(ctx context.Context, img *image.NRGBA) ([]Prediction, error) {
	data, err := imaging.Encode(img, imaging.FormatPNG, 100)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.inferenceURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Detections []remoteDetection `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	preds := make([]Prediction, 0, len(result.Detections))
	for _, d := range result.Detections {
		preds = append(preds, Prediction{
			Box:        Box{X: d.X, Y: d.Y, W: d.Width, H: d.Height},
			Class:      strings.ToLower(d.Class),
			Confidence: d.Confidence,
		})
	}
	return preds, nil
}

// Check probes the service's /health endpoint.
func (r *Remote) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.inferenceURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detection service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
