// Package vectorstore keeps an OpenAI vector store in step with the local
// study-material directory. What has been uploaded is tracked in a JSON
// state file keyed by file name, with a SHA-256 checksum per file so a
// sync only re-uploads what changed.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/abaquiz/backend/internal/logging"
)

const (
	DefaultStoreName = "abaquiz-study-material"
	indexFile        = "00_index.md"
)

// ErrNotConfigured is returned by operations that need a store before one
// has been created.
var ErrNotConfigured = errors.New("vectorstore: no vector store configured, run create first")

// API is the part of the OpenAI client used here. *openai.Client
// satisfies it.
type API interface {
	CreateFileBytes(ctx context.Context, request openai.FileBytesRequest) (openai.File, error)
	DeleteFile(ctx context.Context, fileID string) error
	CreateVectorStore(ctx context.Context, request openai.VectorStoreRequest) (openai.VectorStore, error)
	RetrieveVectorStore(ctx context.Context, vectorStoreID string) (openai.VectorStore, error)
	DeleteVectorStore(ctx context.Context, vectorStoreID string) (openai.VectorStoreDeleteResponse, error)
	CreateVectorStoreFile(ctx context.Context, vectorStoreID string, request openai.VectorStoreFileRequest) (openai.VectorStoreFile, error)
	DeleteVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error
}

// NewClient builds the go-openai client the Manager talks to.
func NewClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

type FileInfo struct {
	FileID     string    `json:"file_id"`
	UploadedAt time.Time `json:"uploaded_at"`
	SizeBytes  int64     `json:"size_bytes"`
	Checksum   string    `json:"checksum"`
}

// State is the on-disk record of the store and what was uploaded to it.
type State struct {
	VectorStoreID string              `json:"vector_store_id"`
	CreatedAt     time.Time           `json:"created_at"`
	LastSync      *time.Time          `json:"last_sync"`
	Files         map[string]FileInfo `json:"files"`
}

type SyncResult struct {
	Added     []string `json:"added"`
	Updated   []string `json:"updated"`
	Removed   []string `json:"removed"`
	Unchanged []string `json:"unchanged"`
	Errors    []string `json:"errors"`
}

type ListedFile struct {
	Name string `json:"name"`
	FileInfo
}

type FileCounts struct {
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

type Status struct {
	Configured       bool        `json:"configured"`
	VectorStoreID    string      `json:"vector_store_id,omitempty"`
	CreatedAt        *time.Time  `json:"created_at,omitempty"`
	LastSync         *time.Time  `json:"last_sync,omitempty"`
	LocalFileCount   int         `json:"local_file_count"`
	TrackedFileCount int         `json:"tracked_file_count"`
	StoreStatus      string      `json:"store_status,omitempty"`
	StoreFileCounts  *FileCounts `json:"store_file_counts,omitempty"`
	StoreError       string      `json:"store_error,omitempty"`
}

type Manager struct {
	api       API
	dir       string
	stateFile string
	logger    *logging.Logger
	now       func() time.Time

	mu sync.Mutex
}

func NewManager(api API, dir, stateFile string, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		api:       api,
		dir:       dir,
		stateFile: stateFile,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StoreID returns the configured store id, or "" when none exists.
func (m *Manager) StoreID() (string, error) {
	st, err := m.loadState()
	if err != nil {
		return "", err
	}
	return st.VectorStoreID, nil
}

// Create makes a new vector store, or returns the existing one when the
// state file points at a store the API still knows about.
func (m *Manager) Create(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" {
		name = DefaultStoreName
	}
	st, err := m.loadState()
	if err != nil {
		return "", err
	}
	if st.VectorStoreID != "" {
		store, err := m.api.RetrieveVectorStore(ctx, st.VectorStoreID)
		if err == nil {
			m.logger.Info(ctx, "vector store already exists", zap.String("vector_store_id", store.ID))
			return store.ID, nil
		}
		m.logger.Warn(ctx, "configured vector store not found, creating a new one",
			zap.String("vector_store_id", st.VectorStoreID), zap.Error(err))
	}

	store, err := m.api.CreateVectorStore(ctx, openai.VectorStoreRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("create vector store: %w", err)
	}
	fresh := &State{
		VectorStoreID: store.ID,
		CreatedAt:     m.now(),
		Files:         make(map[string]FileInfo),
	}
	if err := m.saveState(fresh); err != nil {
		return "", err
	}
	m.logger.Info(ctx, "created vector store", zap.String("vector_store_id", store.ID), zap.String("name", name))
	return store.ID, nil
}

// Upload sends every local markdown file to the store regardless of what
// was uploaded before. Per-file failures are logged and skipped.
func (m *Manager) Upload(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.requireStore()
	if err != nil {
		return nil, err
	}
	local, err := m.localFiles()
	if err != nil {
		return nil, err
	}
	if len(local) == 0 {
		m.logger.Warn(ctx, "no markdown files to upload", zap.String("dir", m.dir))
		return nil, nil
	}

	var ids []string
	for _, name := range sortedKeys(local) {
		info, err := m.uploadFile(ctx, st.VectorStoreID, name, local[name])
		if err != nil {
			m.logger.Error(ctx, "upload failed", zap.String("file", name), zap.Error(err))
			continue
		}
		st.Files[name] = info
		ids = append(ids, info.FileID)
	}

	now := m.now()
	st.LastSync = &now
	if err := m.saveState(st); err != nil {
		return ids, err
	}
	m.logger.Info(ctx, "uploaded files", zap.Int("count", len(ids)), zap.String("vector_store_id", st.VectorStoreID))
	return ids, nil
}

// Sync uploads new files, re-uploads changed ones and removes files that
// no longer exist locally.
func (m *Manager) Sync(ctx context.Context) (*SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.requireStore()
	if err != nil {
		return nil, err
	}
	local, err := m.localFiles()
	if err != nil {
		return nil, err
	}

	res := &SyncResult{}
	for _, name := range sortedKeys(local) {
		path := local[name]
		sum, err := Checksum(path)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}

		tracked, ok := st.Files[name]
		switch {
		case ok && tracked.Checksum == sum:
			res.Unchanged = append(res.Unchanged, name)
			continue
		}

		// the previous version stays tracked until its replacement is attached
		info, err := m.uploadFile(ctx, st.VectorStoreID, name, path)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", name, err))
			m.logger.Error(ctx, "sync upload failed", zap.String("file", name), zap.Error(err))
			continue
		}
		st.Files[name] = info
		if ok {
			m.removeRemote(ctx, st.VectorStoreID, tracked.FileID)
			res.Updated = append(res.Updated, name)
			m.logger.Info(ctx, "updated file", zap.String("file", name))
		} else {
			res.Added = append(res.Added, name)
			m.logger.Info(ctx, "added file", zap.String("file", name))
		}
	}

	for _, name := range sortedKeys(st.Files) {
		if _, ok := local[name]; ok {
			continue
		}
		fileID := st.Files[name].FileID
		if err := m.api.DeleteVectorStoreFile(ctx, st.VectorStoreID, fileID); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", name, err))
			m.logger.Error(ctx, "remove failed", zap.String("file", name), zap.Error(err))
			continue
		}
		if err := m.api.DeleteFile(ctx, fileID); err != nil {
			m.logger.Warn(ctx, "detached file could not be deleted", zap.String("file", name), zap.Error(err))
		}
		delete(st.Files, name)
		res.Removed = append(res.Removed, name)
		m.logger.Info(ctx, "removed file", zap.String("file", name))
	}

	now := m.now()
	st.LastSync = &now
	if err := m.saveState(st); err != nil {
		return res, err
	}
	return res, nil
}

// List returns the tracked files sorted by name.
func (m *Manager) List() ([]ListedFile, error) {
	st, err := m.loadState()
	if err != nil {
		return nil, err
	}
	out := make([]ListedFile, 0, len(st.Files))
	for _, name := range sortedKeys(st.Files) {
		out = append(out, ListedFile{Name: name, FileInfo: st.Files[name]})
	}
	return out, nil
}

// Status combines the local state with the store's status as reported by
// the API. An API failure is reported on the Status, not returned.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	st, err := m.loadState()
	if err != nil {
		return nil, err
	}
	local, err := m.localFiles()
	if err != nil {
		return nil, err
	}

	s := &Status{
		Configured:       st.VectorStoreID != "",
		VectorStoreID:    st.VectorStoreID,
		LastSync:         st.LastSync,
		LocalFileCount:   len(local),
		TrackedFileCount: len(st.Files),
	}
	if !s.Configured {
		return s, nil
	}
	created := st.CreatedAt
	s.CreatedAt = &created

	store, err := m.api.RetrieveVectorStore(ctx, st.VectorStoreID)
	if err != nil {
		s.StoreStatus = "error"
		s.StoreError = err.Error()
		return s, nil
	}
	s.StoreStatus = store.Status
	s.StoreFileCounts = &FileCounts{
		Completed:  store.FileCounts.Completed,
		InProgress: store.FileCounts.InProgress,
		Failed:     store.FileCounts.Failed,
		Total:      store.FileCounts.Total,
	}
	return s, nil
}

// Delete removes every tracked file and the store itself, then clears the
// state file. Remote failures are logged; the local state is cleared
// regardless.
func (m *Manager) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.loadState()
	if err != nil {
		return err
	}
	if st.VectorStoreID == "" {
		m.logger.Warn(ctx, "no vector store to delete")
		return nil
	}

	for _, name := range sortedKeys(st.Files) {
		if err := m.api.DeleteFile(ctx, st.Files[name].FileID); err != nil {
			m.logger.Debug(ctx, "file already gone", zap.String("file", name), zap.Error(err))
		}
	}
	if _, err := m.api.DeleteVectorStore(ctx, st.VectorStoreID); err != nil {
		m.logger.Warn(ctx, "could not delete vector store", zap.String("vector_store_id", st.VectorStoreID), zap.Error(err))
	} else {
		m.logger.Info(ctx, "deleted vector store", zap.String("vector_store_id", st.VectorStoreID))
	}

	if err := os.Remove(m.stateFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear vector store state: %w", err)
	}
	return nil
}

func (m *Manager) uploadFile(ctx context.Context, storeID, name, path string) (FileInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("read %s: %w", name, err)
	}
	file, err := m.api.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    name,
		Bytes:   data,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return FileInfo{}, fmt.Errorf("upload %s: %w", name, err)
	}
	if _, err := m.api.CreateVectorStoreFile(ctx, storeID, openai.VectorStoreFileRequest{FileID: file.ID}); err != nil {
		if derr := m.api.DeleteFile(ctx, file.ID); derr != nil {
			m.logger.Warn(ctx, "unattached upload could not be deleted", zap.String("file_id", file.ID), zap.Error(derr))
		}
		return FileInfo{}, fmt.Errorf("attach %s: %w", name, err)
	}
	return FileInfo{
		FileID:     file.ID,
		UploadedAt: m.now(),
		SizeBytes:  int64(len(data)),
		Checksum:   checksumBytes(data),
	}, nil
}

// removeRemote detaches and deletes a superseded file. Either step may
// fail when the file is already gone.
func (m *Manager) removeRemote(ctx context.Context, storeID, fileID string) {
	if err := m.api.DeleteVectorStoreFile(ctx, storeID, fileID); err != nil {
		m.logger.Debug(ctx, "old file already detached", zap.String("file_id", fileID), zap.Error(err))
	}
	if err := m.api.DeleteFile(ctx, fileID); err != nil {
		m.logger.Debug(ctx, "old file already deleted", zap.String("file_id", fileID), zap.Error(err))
	}
}

func (m *Manager) requireStore() (*State, error) {
	st, err := m.loadState()
	if err != nil {
		return nil, err
	}
	if st.VectorStoreID == "" {
		return nil, ErrNotConfigured
	}
	return st, nil
}

// localFiles maps file name to path for every markdown file in the content
// directory except the index.
func (m *Manager) localFiles() (map[string]string, error) {
	matches, err := filepath.Glob(filepath.Join(m.dir, "*.md"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", m.dir, err)
	}
	out := make(map[string]string, len(matches))
	for _, path := range matches {
		name := filepath.Base(path)
		if name == indexFile {
			continue
		}
		out[name] = path
	}
	return out, nil
}

func (m *Manager) loadState() (*State, error) {
	st := &State{Files: make(map[string]FileInfo)}
	data, err := os.ReadFile(m.stateFile)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vector store state: %w", err)
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("parse vector store state: %w", err)
	}
	if st.Files == nil {
		st.Files = make(map[string]FileInfo)
	}
	return st, nil
}

func (m *Manager) saveState(st *State) error {
	if err := os.MkdirAll(filepath.Dir(m.stateFile), 0o755); err != nil {
		return fmt.Errorf("save vector store state: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("save vector store state: %w", err)
	}
	if err := os.WriteFile(m.stateFile, data, 0o644); err != nil {
		return fmt.Errorf("save vector store state: %w", err)
	}
	return nil
}

// Checksum returns "sha256:<hex>" for the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

func checksumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
