// Package content stores uploaded documents under content identifiers.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Service puts bytes into content-addressed storage.
type Service interface {
	Put(ctx context.Context, data []byte, filename string) (string, error)
	URL(id string) string
}

// Getter is implemented by services that can read content back.
type Getter interface {
	Get(ctx context.Context, id string) ([]byte, error)
}

var ErrNotFound = errors.New("content not found")

type UploadError struct {
	Filename string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Filename, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ComputeID returns the CIDv1 (raw codec, sha2-256) of data.
func ComputeID(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// ParseID validates a content identifier and returns its canonical string.
func ParseID(id string) (string, error) {
	c, err := cid.Decode(strings.TrimSpace(id))
	if err != nil {
		return "", fmt.Errorf("invalid content id %q: %w", id, err)
	}
	return c.String(), nil
}

func gatewayURL(gateway, id string) string {
	if gateway == "" {
		return ""
	}
	return strings.TrimRight(gateway, "/") + "/" + id
}
