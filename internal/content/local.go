package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Local keeps blobs in a directory, one file per content id.
type Local struct {
	Dir     string
	Gateway string
}

var (
	_ Service = Local{}
	_ Getter  = Local{}
)

func (l Local) Put(_ context.Context, data []byte, filename string) (string, error) {
	if len(data) == 0 {
		return "", &UploadError{Filename: filename, Err: fmt.Errorf("empty document")}
	}
	id, err := ComputeID(data)
	if err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}
	path := filepath.Join(l.Dir, id)
	if _, err := os.Stat(path); err == nil {
		return id, nil
	}
	tmp, err := os.CreateTemp(l.Dir, ".upload-*")
	if err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", &UploadError{Filename: filename, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}
	return id, nil
}

func (l Local) Get(_ context.Context, id string) ([]byte, error) {
	canonical, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(l.Dir, canonical))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (l Local) URL(id string) string {
	if l.Gateway != "" {
		return gatewayURL(l.Gateway, id)
	}
	return "/documents/" + id
}
