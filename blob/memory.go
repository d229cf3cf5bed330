package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/openpcr/caseflow/workflow"
)

// =============================================================================
// MEMORY STORE - In-memory fake for tests and local development
// =============================================================================

type object struct {
	data        []byte
	contentType string
}

type Memory struct {
	mu      sync.RWMutex
	objects map[string]object
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]object)}
}

func (m *Memory) Put(_ context.Context, name, contentType string, r io.Reader, size int64) (string, error) {
	if err := CheckUpload(contentType, size); err != nil {
		return "", err
	}
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return "", fmt.Errorf("%w: reading %q: %v", workflow.ErrStorage, name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ref := name + "/" + uuid.NewString() + extFor(contentType)
	m.objects[ref] = object{data: data, contentType: contentType}
	return ref, nil
}

func (m *Memory) Get(_ context.Context, ref string) (io.ReadCloser, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[ref]
	if !ok {
		return nil, "", fmt.Errorf("%w: no object %q", workflow.ErrStorage, ref)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.contentType, nil
}
