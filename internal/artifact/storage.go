package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Storage loads trained artifacts by run id.
type Storage interface {
	Load(ctx context.Context, runID string) (*Artifact, error)
}

// FSStorage reads artifacts from a local directory, one JSON file per run.
type FSStorage struct {
	dir string
}

func NewFSStorage(dir string) *FSStorage {
	return &FSStorage{dir: dir}
}

func (s *FSStorage) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

func (s *FSStorage) Load(_ context.Context, runID string) (*Artifact, error) {
	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", runID, err)
	}
	return decode(runID, data)
}

// Save writes an artifact for later loading. Used by the seed command and
// by training workflows that publish locally.
func (s *FSStorage) Save(a *Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal artifact %s: %w", a.RunID, err)
	}
	return os.WriteFile(s.path(a.RunID), data, 0o644)
}

// HTTPStorage fetches artifacts from a remote artifact server, retrying
// transient failures with exponential backoff.
type HTTPStorage struct {
	baseURL string
	client  *http.Client
}

func NewHTTPStorage(baseURL string) *HTTPStorage {
	return &HTTPStorage{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPStorage) Load(ctx context.Context, runID string) (*Artifact, error) {
	url := fmt.Sprintf("%s/%s.json", s.baseURL, runID)

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch artifact: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("artifact %s not found", runID))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch artifact: status %d", resp.StatusCode)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 1 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	return decode(runID, body)
}

func decode(runID string, data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal artifact %s: %w", runID, err)
	}
	if a.RunID == "" {
		a.RunID = runID
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// NewStorage picks a backend from a URI: http(s):// URLs use HTTPStorage,
// anything else is a local directory.
func NewStorage(uri string) Storage {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return NewHTTPStorage(uri)
	}
	return NewFSStorage(uri)
}
