package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	defaultPinataEndpoint = "https://api.pinata.cloud/pinning/pinFileToIPFS"
	defaultPinataGateway  = "https://gateway.pinata.cloud/ipfs"
)

// Pinata pins documents through the Pinata pinning API.
type Pinata struct {
	Endpoint string
	Gateway  string
	JWT      string
	Client   *http.Client
}

var _ Service = Pinata{}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

func (p Pinata) Put(ctx context.Context, data []byte, filename string) (string, error) {
	if strings.TrimSpace(p.JWT) == "" {
		return "", &UploadError{Filename: filename, Err: fmt.Errorf("pinata credentials not configured")}
	}
	if filename == "" {
		filename = "document"
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}
	if _, err := part.Write(data); err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}
	meta, _ := json.Marshal(map[string]any{"name": filename})
	if err := mw.WriteField("pinataMetadata", string(meta)); err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}
	if err := mw.Close(); err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}

	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = defaultPinataEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.JWT)
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	res, err := client.Do(req)
	if err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &UploadError{Filename: filename, Err: fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))}
	}
	var out pinResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", &UploadError{Filename: filename, Err: fmt.Errorf("decode pin response: %w", err)}
	}
	id, err := ParseID(out.IpfsHash)
	if err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}
	return id, nil
}

func (p Pinata) URL(id string) string {
	gateway := p.Gateway
	if gateway == "" {
		gateway = defaultPinataGateway
	}
	return gatewayURL(gateway, id)
}
