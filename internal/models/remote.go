package models

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ironsheep/image-pipeline-mcp/internal/imaging"
)

// ErrModelNotFound is returned when the model service has no model for a
// scale.
var ErrModelNotFound = errors.New("model not found")

// RemoteLoader loads models hosted by an HTTP upscale model service.
//
// The service exposes:
//
//	GET    /health               200 when ready
//	GET    /v1/models/{scale}    {"name":..., "scale":N, "footprint_mb":N}; 404 if absent
//	POST   /v1/upscale?scale=N   multipart field "image" (PNG); responds with a PNG
//	DELETE /v1/models/{scale}    unloads the model
type RemoteLoader struct {
	BaseURL string
	Client  *http.Client
}

// NewRemoteLoader returns a loader for the service at baseURL.
func NewRemoteLoader(baseURL string, client *http.Client) *RemoteLoader {
	if client == nil {
		client = &http.Client{}
	}
	return &RemoteLoader{BaseURL: strings.TrimRight(baseURL, "/"), Client: client}
}

type remoteModelInfo struct {
	Name        string `json:"name"`
	Scale       int    `json:"scale"`
	FootprintMB int    `json:"footprint_mb"`
}

// CheckHealth verifies the service is reachable.
func (r *RemoteLoader) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("model service health: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

// Probe checks that the service hosts a model for scale without loading it.
func (r *RemoteLoader) Probe(ctx context.Context, scale int) error {
	_, err := r.info(ctx, scale)
	return err
}

func (r *RemoteLoader) info(ctx context.Context, scale int) (remoteModelInfo, error) {
	var info remoteModelInfo
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.modelURL(scale), nil)
	if err != nil {
		return info, fmt.Errorf("create request: %w", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return info, fmt.Errorf("query model x%d: %w", scale, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return info, fmt.Errorf("x%d: %w", scale, ErrModelNotFound)
	default:
		return info, fmt.Errorf("query model x%d failed with status: %d", scale, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return info, fmt.Errorf("decode model info: %w", err)
	}
	if info.Scale != 0 && info.Scale != scale {
		return info, fmt.Errorf("service returned a x%d model for x%d", info.Scale, scale)
	}
	if info.Name == "" {
		info.Name = "remote-x" + strconv.Itoa(scale)
	}
	return info, nil
}

// Load checks service health and the model's presence.
func (r *RemoteLoader) Load(ctx context.Context, scale int) (Model, error) {
	if err := r.CheckHealth(ctx); err != nil {
		return nil, err
	}
	info, err := r.info(ctx, scale)
	if err != nil {
		return nil, err
	}
	return &remoteModel{loader: r, info: info, scale: scale}, nil
}

func (r *RemoteLoader) modelURL(scale int) string {
	return r.BaseURL + "/v1/models/" + strconv.Itoa(scale)
}

type remoteModel struct {
	loader *RemoteLoader
	info   remoteModelInfo
	scale  int
}

func (m *remoteModel) Name() string     { return m.info.Name }
func (m *remoteModel) FootprintMB() int { return m.info.FootprintMB }

func (m *remoteModel) Upscale(ctx context.Context, img *image.NRGBA, scale int) (*image.NRGBA, error) {
	if scale != m.scale {
		return nil, fmt.Errorf("model %s serves x%d, asked for x%d", m.info.Name, m.scale, scale)
	}
	data, err := imaging.Encode(img, imaging.FormatPNG, 100)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "tile.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	url := m.loader.BaseURL + "/v1/upscale?scale=" + strconv.Itoa(scale)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := m.loader.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upscale failed with status: %d", resp.StatusCode)
	}

	out, err := png.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Bounds().Empty() {
		return nil, fmt.Errorf("upscale returned an empty image")
	}
	return imaging.ToNRGBA(out), nil
}

// Close asks the service to unload the model. A missing model is not an
// error.
func (m *remoteModel) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, m.loader.modelURL(m.scale), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := m.loader.Client.Do(req)
	if err != nil {
		return fmt.Errorf("unload x%d: %w", m.scale, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("unload x%d failed with status: %d", m.scale, resp.StatusCode)
	}
	return nil
}
