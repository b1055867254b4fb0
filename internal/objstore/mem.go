package objstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MemStore is an in-memory Store used by the protocol tests. It mimics the
// S3 behaviors the pipeline relies on: prefix listing in key order, version
// ids that change on every overwrite, and tolerant deletes.
type MemStore struct {
	mu      sync.Mutex
	buckets map[string]map[string]memObject
	puts    int
}

type memObject struct {
	data    []byte
	version string
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{buckets: make(map[string]map[string]memObject)}
}

func (m *MemStore) put(bucket, key string, data []byte) {
	b, ok := m.buckets[bucket]
	if !ok {
		b = make(map[string]memObject)
		m.buckets[bucket] = b
	}
	m.puts++
	b[key] = memObject{data: data, version: "v" + strconv.Itoa(m.puts)}
}

func (m *MemStore) PutMarker(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(bucket, key, nil)
	return nil
}

func (m *MemStore) Put(_ context.Context, bucket, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(bucket, key, append([]byte(nil), body...))
	return nil
}

func (m *MemStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("mem: no such key %s/%s", bucket, key)
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *MemStore) Download(ctx context.Context, bucket, key, localPath string) error {
	data, err := m.Get(ctx, bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0644)
}

func (m *MemStore) Upload(ctx context.Context, bucket, key, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return m.Put(ctx, bucket, key, data)
}

func (m *MemStore) List(_ context.Context, bucket, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.buckets[bucket] {
		if strings.HasPrefix(k, prefix) && !strings.HasSuffix(k, "/") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemStore) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets[bucket], key)
	return nil
}

func (m *MemStore) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	keys, err := m.List(ctx, bucket, prefix)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.buckets[bucket], k)
	}
	return nil
}

func (m *MemStore) Head(_ context.Context, bucket, key string) (ObjectInfo, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.buckets[bucket][key]
	if !ok {
		return ObjectInfo{}, false, nil
	}
	return ObjectInfo{Key: key, VersionID: obj.version}, true, nil
}

// Exists is a test convenience over Head.
func (m *MemStore) Exists(bucket, key string) bool {
	_, ok, _ := m.Head(context.Background(), bucket, key)
	return ok
}
