package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/kozaktomas/faceid/internal/descriptor"
)

const (
	defaultEmbeddingURL = "http://localhost:8000"
	defaultRemoteModel  = "buffalo_l" // model name for reference only
)

// RemoteDetector computes face descriptors using the face embedding server.
type RemoteDetector struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewRemoteDetector creates a detector backed by the embedding server at baseURL.
// An empty model falls back to the server default.
func NewRemoteDetector(baseURL, model string) *RemoteDetector {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	if model == "" {
		model = defaultRemoteModel
	}
	return &RemoteDetector{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

// faceDetection represents a single detected face
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	Faces []faceDetection `json:"faces"`
	Model string          `json:"model"`
}

// postMultipartImage posts the JPEG as a multipart "file" part to the given endpoint.
func (d *RemoteDetector) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// Detect sends the image to /embed/face and returns every detected face.
func (d *RemoteDetector) Detect(ctx context.Context, jpegData []byte) ([]Face, error) {
	body, err := d.postMultipartImage(ctx, "/embed/face", jpegData)
	if err != nil {
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]Face, 0, len(faceResp.Faces))
	for _, f := range faceResp.Faces {
		if len(f.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding returned for face %d", f.FaceIndex)
		}
		faces = append(faces, Face{
			Descriptor: descriptor.Descriptor(f.Embedding),
			BBox:       f.BBox,
			Score:      f.DetScore,
		})
	}
	return faces, nil
}

// Model returns the model name being used
func (d *RemoteDetector) Model() string {
	return d.model
}
