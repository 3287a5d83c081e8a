package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"newswave/internal/nw"
)

// maxBlobSize bounds how much of a gateway response is read.
const maxBlobSize = 8 << 20

// GatewayBlobStore talks to an HTTP content gateway:
//
//	POST <base>/ipfs          body = raw bytes, response {"ref": "..."} or {"Hash": "..."}
//	GET  <base>/ipfs/<ref>    raw bytes
//	GET  <base>/ipfs/<ref>/0  raw bytes, when <ref> names a directory
type GatewayBlobStore struct {
	baseURL string
	client  *http.Client
}

// NewGatewayBlobStore creates a gateway client. A nil client uses a default
// client with a 30s timeout.
func NewGatewayBlobStore(baseURL string, client *http.Client) (*GatewayBlobStore, error) {
	if baseURL == "" {
		return nil, errors.New("gateway url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &GatewayBlobStore{baseURL: strings.TrimRight(baseURL, "/"), client: client}, nil
}

type putResponse struct {
	Ref  string `json:"ref"`
	Hash string `json:"Hash"`
	CID  string `json:"cid"`
}

func (r putResponse) reference() string {
	switch {
	case r.Ref != "":
		return r.Ref
	case r.Hash != "":
		return r.Hash
	default:
		return r.CID
	}
}

// PutBytes uploads data. A raw-codec reference from the gateway must match
// the locally computed one; other codecs are taken as issued.
func (g *GatewayBlobStore) PutBytes(ctx context.Context, data []byte) (string, error) {
	want, err := ComputeRef(data)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/ipfs", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway put: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("gateway put %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var pr putResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&pr); err != nil {
		return "", fmt.Errorf("gateway put: decoding response: %w", err)
	}
	ref := pr.reference()
	if ref == "" {
		return "", errors.New("gateway put: response carries no reference")
	}
	if err := VerifyRef(ref, data); err != nil {
		return "", fmt.Errorf("gateway put: issued %s, expected %s: %w", ref, want, err)
	}
	return ref, nil
}

// GetBytes fetches <ref>. When that read does not yield a blob record it
// retries the directory index at <ref>/0.
func (g *GatewayBlobStore) GetBytes(ctx context.Context, ref string) ([]byte, error) {
	if _, err := ParseRef(ref); err != nil {
		return nil, err
	}

	data, err := g.fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	if looksLikeRecord(data) {
		if err := VerifyRef(ref, data); err != nil {
			return nil, err
		}
		return data, nil
	}

	data, err = g.fetch(ctx, ref+"/0")
	if err != nil {
		if errors.Is(err, nw.ErrContentNotFound) {
			return nil, fmt.Errorf("%w: %s is neither a record nor a directory with one", nw.ErrContentCorrupt, ref)
		}
		return nil, err
	}
	return data, nil
}

func (g *GatewayBlobStore) fetch(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/ipfs/"+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway get %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", nw.ErrContentNotFound, path)
	case resp.StatusCode/100 != 2:
		return nil, fmt.Errorf("gateway get %s: status %d", path, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize+1))
	if err != nil {
		return nil, fmt.Errorf("gateway get %s: %w", path, err)
	}
	if len(data) > maxBlobSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", nw.ErrContentCorrupt, path, maxBlobSize)
	}
	return data, nil
}

// looksLikeRecord reports whether data is a JSON object.
func looksLikeRecord(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

// Compile-time check that GatewayBlobStore implements nw.BlobStore interface
var _ nw.BlobStore = (*GatewayBlobStore)(nil)
