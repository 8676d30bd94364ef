package extractor_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/faceid/internal/extractor"
	"github.com/kozaktomas/faceid/internal/extractor/mock"
)

func TestRemoteDetector_Detect(t *testing.T) {
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/embed/face" {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotContentType = header.Header.Get("Content-Type")
		if data, _ := io.ReadAll(file); len(data) == 0 {
			http.Error(w, "empty file", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"faces_count": 2,
			"model":       "buffalo_l",
			"faces": []map[string]any{
				{"face_index": 0, "dim": 3, "embedding": []float32{0.1, 0.2, 0.3}, "bbox": []float64{1, 2, 3, 4}, "det_score": 0.91},
				{"face_index": 1, "dim": 3, "embedding": []float32{0.4, 0.5, 0.6}, "bbox": []float64{5, 6, 7, 8}, "det_score": 0.72},
			},
		})
	}))
	defer server.Close()

	det := extractor.NewRemoteDetector(server.URL+"/", "")
	faces, err := det.Detect(context.Background(), mock.Image(32))
	if err != nil {
		t.Fatalf("Detect() unexpected error: %v", err)
	}
	if gotContentType != "image/jpeg" {
		t.Errorf("part Content-Type = %q; want image/jpeg", gotContentType)
	}
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(faces))
	}
	if faces[1].Descriptor[2] != 0.6 || faces[1].Score != 0.72 {
		t.Errorf("unexpected second face %+v", faces[1])
	}
	if det.Model() != "buffalo_l" {
		t.Errorf("Model() = %q; want buffalo_l", det.Model())
	}
}

func TestRemoteDetector_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := extractor.NewRemoteDetector(server.URL, "").Detect(context.Background(), mock.Image(32))
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestRemoteDetector_EmptyEmbedding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"faces_count":1,"faces":[{"face_index":0,"dim":0,"embedding":[]}]}`)
	}))
	defer server.Close()

	_, err := extractor.NewRemoteDetector(server.URL, "").Detect(context.Background(), mock.Image(32))
	if err == nil {
		t.Fatal("expected error for empty embedding")
	}
}

func TestRemoteDetector_ThroughExtractorTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ex := extractor.New(extractor.NewRemoteDetector(server.URL, ""), extractor.Options{
		Workers: 1,
		Timeout: 50 * time.Millisecond,
	})
	_, err := ex.Extract(context.Background(), mock.Image(32))
	if !errors.Is(err, extractor.ErrExtractionTimeout) {
		t.Errorf("expected ErrExtractionTimeout, got %v", err)
	}
}
