package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/zot/shopsync/internal/bundle"
	"github.com/zot/shopsync/internal/config"
)

// Loader fetches bundled datasets from a base URL or directory.
type Loader struct {
	config *config.Config
	base   string
	client *http.Client
	fsys   fs.FS
}

// BundleSource is the base URL naming the archive attached to the running
// executable.
const BundleSource = "bundle:"

// NewLoader reads datasets from cfg.Dataset.BaseURL: an http(s) URL is
// fetched, BundleSource reads the executable's archive and anything else
// is a directory.
func NewLoader(cfg *config.Config) *Loader {
	base := cfg.Dataset.BaseURL
	timeout := cfg.Dataset.Timeout.Duration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	l := &Loader{config: cfg, base: strings.TrimRight(base, "/")}
	switch {
	case isURL(base):
		l.client = &http.Client{Timeout: timeout}
	case base == BundleSource:
		r, err := bundle.Self()
		if err != nil {
			cfg.Log(0, "dataset: cannot open bundled datasets: %v", err)
			l.fsys = emptyFS{}
		} else {
			l.fsys = r
		}
	default:
		l.fsys = os.DirFS(base)
	}
	return l
}

// NewFSLoader reads datasets from fsys.
func NewFSLoader(cfg *config.Config, fsys fs.FS) *Loader {
	return &Loader{config: cfg, fsys: fsys}
}

type emptyFS struct{}

func (emptyFS) Open(name string) (fs.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Fetch returns the raw document name.
func (l *Loader) Fetch(ctx context.Context, name string) ([]byte, error) {
	if l.client == nil {
		data, err := fs.ReadFile(l.fsys, strings.TrimPrefix(path.Clean("/"+name), "/"))
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", name, err)
		}
		return data, nil
	}

	url := l.base + "/" + strings.TrimLeft(name, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", name, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("dataset %s: status %d", name, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", name, err)
	}
	return data, nil
}

// Decode parses a document as JSON, or as YAML for .yaml/.yml names.
func Decode[T any](name string, data []byte) ([]T, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		converted, err := yaml.YAMLToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", name, err)
		}
		data = converted
	}
	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", name, err)
	}
	return records, nil
}
