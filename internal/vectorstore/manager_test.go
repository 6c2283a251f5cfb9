package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	seq      int
	stores   map[string]bool
	files    map[string]string // id -> name
	attached map[string]bool
	failName string
	deleted  []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		stores:   make(map[string]bool),
		files:    make(map[string]string),
		attached: make(map[string]bool),
	}
}

func (f *fakeAPI) CreateFileBytes(ctx context.Context, req openai.FileBytesRequest) (openai.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Name == f.failName {
		return openai.File{}, errors.New("upload rejected")
	}
	f.seq++
	id := fmt.Sprintf("file-%d", f.seq)
	f.files[id] = req.Name
	return openai.File{ID: id}, nil
}

func (f *fakeAPI) DeleteFile(ctx context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[fileID]; !ok {
		return errors.New("no such file")
	}
	delete(f.files, fileID)
	f.deleted = append(f.deleted, fileID)
	return nil
}

func (f *fakeAPI) CreateVectorStore(ctx context.Context, req openai.VectorStoreRequest) (openai.VectorStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("vs-%d", f.seq)
	f.stores[id] = true
	return openai.VectorStore{ID: id, Name: req.Name, Status: "completed"}, nil
}

func (f *fakeAPI) RetrieveVectorStore(ctx context.Context, id string) (openai.VectorStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stores[id] {
		return openai.VectorStore{}, errors.New("not found")
	}
	vs := openai.VectorStore{ID: id, Status: "completed"}
	vs.FileCounts.Completed = len(f.attached)
	vs.FileCounts.Total = len(f.attached)
	return vs, nil
}

func (f *fakeAPI) DeleteVectorStore(ctx context.Context, id string) (openai.VectorStoreDeleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stores, id)
	return openai.VectorStoreDeleteResponse{ID: id, Deleted: true}, nil
}

func (f *fakeAPI) CreateVectorStoreFile(ctx context.Context, storeID string, req openai.VectorStoreFileRequest) (openai.VectorStoreFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached[req.FileID] = true
	return openai.VectorStoreFile{ID: req.FileID}, nil
}

func (f *fakeAPI) DeleteVectorStoreFile(ctx context.Context, storeID, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.attached[fileID] {
		return errors.New("not attached")
	}
	delete(f.attached, fileID)
	return nil
}

func setup(t *testing.T, files map[string]string) (*Manager, *fakeAPI, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "content")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	api := newFakeAPI()
	return NewManager(api, dir, filepath.Join(root, "state", "vs.json"), nil), api, dir
}

func TestChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	sum, err := Checksum(path)
	require.NoError(t, err)
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)
	assert.Equal(t, sum, checksumBytes([]byte("hello")))
}

func TestOperationsNeedAStore(t *testing.T) {
	m, _, _ := setup(t, map[string]string{"a.md": "a"})
	ctx := context.Background()

	_, err := m.Upload(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = m.Sync(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)

	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Configured)
	assert.Equal(t, 1, st.LocalFileCount)

	assert.NoError(t, m.Delete(ctx))
}

func TestCreateIsIdempotent(t *testing.T) {
	m, api, _ := setup(t, nil)
	ctx := context.Background()

	id, err := m.Create(ctx, "")
	require.NoError(t, err)
	again, err := m.Create(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Len(t, api.stores, 1)

	// store vanished remotely
	delete(api.stores, id)
	fresh, err := m.Create(ctx, "")
	require.NoError(t, err)
	assert.NotEqual(t, id, fresh)
}

func TestUploadSkipsIndex(t *testing.T) {
	m, api, _ := setup(t, map[string]string{
		"00_index.md":  "index",
		"01_ethics.md": "ethics",
		"02_design.md": "design",
		"notes.txt":    "ignored",
	})
	ctx := context.Background()
	_, err := m.Create(ctx, "")
	require.NoError(t, err)

	ids, err := m.Upload(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Len(t, api.attached, 2)

	files, err := m.List()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "01_ethics.md", files[0].Name)
	assert.Equal(t, "02_design.md", files[1].Name)
	assert.Equal(t, checksumBytes([]byte("ethics")), files[0].Checksum)
	assert.EqualValues(t, 6, files[0].SizeBytes)
}

func TestSyncAddsUpdatesAndRemoves(t *testing.T) {
	m, api, dir := setup(t, map[string]string{
		"a.md": "alpha",
		"b.md": "bravo",
		"c.md": "charlie",
	})
	ctx := context.Background()
	_, err := m.Create(ctx, "")
	require.NoError(t, err)

	res, err := m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.md", "c.md"}, res.Added)
	assert.Empty(t, res.Errors)

	before, err := m.List()
	require.NoError(t, err)
	oldB := before[1].FileID

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("bravo v2"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(dir, "c.md")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d.md"), []byte("delta"), 0o644))

	res, err = m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"d.md"}, res.Added)
	assert.Equal(t, []string{"b.md"}, res.Updated)
	assert.Equal(t, []string{"c.md"}, res.Removed)
	assert.Equal(t, []string{"a.md"}, res.Unchanged)
	assert.Empty(t, res.Errors)

	assert.Contains(t, api.deleted, oldB)
	assert.False(t, api.attached[oldB])

	after, err := m.List()
	require.NoError(t, err)
	names := make([]string, len(after))
	for i, f := range after {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"a.md", "b.md", "d.md"}, names)
	assert.Equal(t, checksumBytes([]byte("bravo v2")), after[1].Checksum)

	res, err = m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.md", "d.md"}, res.Unchanged)
}

func TestSyncRecordsUploadErrors(t *testing.T) {
	m, api, _ := setup(t, map[string]string{"good.md": "ok", "bad.md": "nope"})
	api.failName = "bad.md"
	ctx := context.Background()
	_, err := m.Create(ctx, "")
	require.NoError(t, err)

	res, err := m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"good.md"}, res.Added)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "bad.md")

	files, err := m.List()
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestSyncKeepsPreviousVersionWhenReuploadFails(t *testing.T) {
	m, api, dir := setup(t, map[string]string{"a.md": "alpha"})
	ctx := context.Background()
	_, err := m.Create(ctx, "")
	require.NoError(t, err)
	_, err = m.Sync(ctx)
	require.NoError(t, err)

	before, err := m.List()
	require.NoError(t, err)
	require.Len(t, before, 1)
	oldID := before[0].FileID

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("alpha v2"), 0o644))
	api.failName = "a.md"

	res, err := m.Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Updated)
	require.Len(t, res.Errors, 1)

	after, err := m.List()
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, oldID, after[0].FileID)
	assert.Equal(t, checksumBytes([]byte("alpha")), after[0].Checksum)
	assert.Contains(t, api.files, oldID)
	assert.True(t, api.attached[oldID])
	assert.NotContains(t, api.deleted, oldID)

	// next sync retries the update once uploads work again
	api.failName = ""
	res, err = m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md"}, res.Updated)
	assert.Contains(t, api.deleted, oldID)
}

func TestStatusAndDelete(t *testing.T) {
	m, api, _ := setup(t, map[string]string{"a.md": "a", "00_index.md": "i"})
	ctx := context.Background()
	id, err := m.Create(ctx, "")
	require.NoError(t, err)
	_, err = m.Sync(ctx)
	require.NoError(t, err)

	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Configured)
	assert.Equal(t, id, st.VectorStoreID)
	assert.Equal(t, 1, st.LocalFileCount)
	assert.Equal(t, 1, st.TrackedFileCount)
	assert.Equal(t, "completed", st.StoreStatus)
	require.NotNil(t, st.StoreFileCounts)
	assert.Equal(t, 1, st.StoreFileCounts.Total)
	assert.NotNil(t, st.LastSync)

	require.NoError(t, m.Delete(ctx))
	assert.Empty(t, api.stores)
	assert.Empty(t, api.files)
	assert.NoFileExists(t, m.stateFile)

	storeID, err := m.StoreID()
	require.NoError(t, err)
	assert.Empty(t, storeID)
}

func TestStatusReportsRemoteError(t *testing.T) {
	m, api, _ := setup(t, nil)
	ctx := context.Background()
	id, err := m.Create(ctx, "")
	require.NoError(t, err)
	delete(api.stores, id)

	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "error", st.StoreStatus)
	assert.NotEmpty(t, st.StoreError)
}
