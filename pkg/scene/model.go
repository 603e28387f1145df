package scene

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	// ErrEmptyModel is returned when a model source has no content.
	ErrEmptyModel = errors.New("vehicle model is empty")
	// ErrInvalidModel is returned when model content is not a usable glTF asset.
	ErrInvalidModel = errors.New("vehicle model is not a usable glTF asset")
)

const (
	maxModelSize = 64 << 20

	glbMagic     = 0x46546C67 // "glTF"
	glbChunkJSON = 0x4E4F534A // "JSON"
)

type modelLoader struct {
	client *http.Client

	mu     sync.Mutex
	loaded map[string]bool
}

func newModelLoader() *modelLoader {
	return &modelLoader{
		client: &http.Client{Timeout: 30 * time.Second},
		loaded: make(map[string]bool),
	}
}

// load checks that url names a usable glTF or GLB model. http(s) URLs are
// fetched; anything else is treated as a local file path. Successful loads
// are remembered, so repeated loads of the same url do no I/O.
func (l *modelLoader) load(ctx context.Context, url string) error {
	if url == "" {
		return errors.New("no vehicle model configured")
	}

	l.mu.Lock()
	ok := l.loaded[url]
	l.mu.Unlock()
	if ok {
		return nil
	}

	var data []byte
	var err error
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		data, err = l.fetch(ctx, url)
	} else {
		data, err = readModelFile(url)
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%s: %w", url, ErrEmptyModel)
	}
	if err := validateModel(data); err != nil {
		return fmt.Errorf("%s: %w", url, err)
	}

	l.mu.Lock()
	l.loaded[url] = true
	l.mu.Unlock()
	return nil
}

func readModelFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat model: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("model %s is not a regular file", path)
	}
	if info.Size() > maxModelSize {
		return nil, fmt.Errorf("model %s exceeds %d bytes", path, maxModelSize)
	}
	return os.ReadFile(path)
}

func (l *modelLoader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch model: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxModelSize))
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return data, nil
}

type gltfDocument struct {
	Asset *struct {
		Version string `json:"version"`
	} `json:"asset"`
	Scene  *int `json:"scene"`
	Scenes []struct {
		Nodes []int `json:"nodes"`
	} `json:"scenes"`
	Nodes []struct {
		Mesh *int `json:"mesh"`
	} `json:"nodes"`
	Meshes []json.RawMessage `json:"meshes"`
}

// validateModel accepts a glTF 2.0 JSON document or a GLB container whose
// JSON chunk holds one. The asset must declare a version and carry at least
// one scene and one node that references a mesh.
func validateModel(data []byte) error {
	if len(data) >= 4 && binary.LittleEndian.Uint32(data) == glbMagic {
		var err error
		if data, err = glbJSONChunk(data); err != nil {
			return err
		}
	}

	var doc gltfDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if doc.Asset == nil || doc.Asset.Version == "" {
		return fmt.Errorf("%w: missing asset.version", ErrInvalidModel)
	}
	if len(doc.Scenes) == 0 {
		return fmt.Errorf("%w: no scenes", ErrInvalidModel)
	}
	if doc.Scene != nil && (*doc.Scene < 0 || *doc.Scene >= len(doc.Scenes)) {
		return fmt.Errorf("%w: default scene %d out of range", ErrInvalidModel, *doc.Scene)
	}
	if len(doc.Meshes) == 0 {
		return fmt.Errorf("%w: no meshes", ErrInvalidModel)
	}

	hasMesh := false
	for i, n := range doc.Nodes {
		if n.Mesh == nil {
			continue
		}
		if *n.Mesh < 0 || *n.Mesh >= len(doc.Meshes) {
			return fmt.Errorf("%w: node %d references mesh %d", ErrInvalidModel, i, *n.Mesh)
		}
		hasMesh = true
	}
	if !hasMesh {
		return fmt.Errorf("%w: no node references a mesh", ErrInvalidModel)
	}
	return nil
}

// glbJSONChunk returns the JSON chunk of a GLB container.
func glbJSONChunk(data []byte) ([]byte, error) {
	if len(data) < 20 {
		return nil, fmt.Errorf("%w: truncated GLB header", ErrInvalidModel)
	}
	r := bytes.NewReader(data)
	var hdr struct {
		Magic, Version, Length uint32
		ChunkLength, ChunkType uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if hdr.Version != 2 {
		return nil, fmt.Errorf("%w: GLB version %d", ErrInvalidModel, hdr.Version)
	}
	if int(hdr.Length) > len(data) {
		return nil, fmt.Errorf("%w: GLB truncated at %d of %d bytes", ErrInvalidModel, len(data), hdr.Length)
	}
	if hdr.ChunkType != glbChunkJSON {
		return nil, fmt.Errorf("%w: first GLB chunk is not JSON", ErrInvalidModel)
	}
	end := 20 + int(hdr.ChunkLength)
	if end > len(data) {
		return nil, fmt.Errorf("%w: GLB JSON chunk truncated", ErrInvalidModel)
	}
	return data[20:end], nil
}
