// Package registry implements the server-side FileManager: an in-process
// map from file token to the open descriptor and forwarding state for one
// upload.
package registry

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"fcopy/pkg/wire"
	"fcopy/pkg/wireerr"
)

// Entry is one open upload.
type Entry struct {
	File         *os.File
	ChunkSize    uint32
	TotalSize    uint64
	FilePath     string
	FileToken    string
	ChainTargets []wire.ChainTarget
}

// CreateParams bundles the arguments to CreateFile.
type CreateParams struct {
	Partition    string
	RelativePath string
	FileName     string
	FileSize     uint64
	ChunkSize    uint32
	FilePerm     uint32
	DirectIO     bool
}

// Manager is the thread-safe token -> Entry registry. A single mutex guards
// the map; once a caller has its Entry it uses the fd and chain targets
// without holding the lock, per the design's accepted close/lookup race.
type Manager struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	partitions map[string]string
	defaultDir string
}

// New creates a Manager. partitions maps partition name to its filesystem
// root; defaultPartition names the partition selected by an empty
// CreateParams.Partition.
func New(partitions map[string]string, defaultPartition string) *Manager {
	roots := make(map[string]string, len(partitions))
	for k, v := range partitions {
		roots[k] = v
	}
	return &Manager{
		entries:    make(map[string]*Entry),
		partitions: roots,
		defaultDir: roots[defaultPartition],
	}
}

func (m *Manager) partitionRoot(partition string) (string, bool) {
	if partition == "" {
		return m.defaultDir, m.defaultDir != ""
	}
	root, ok := m.partitions[partition]
	return root, ok
}

// resolveUnderRoot joins relativePath and fileName onto root and rejects any
// result that escapes it.
func resolveUnderRoot(root, relativePath, fileName string) (string, error) {
	joined := filepath.Join(root, relativePath, fileName)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes partition root")
	}
	return joined, nil
}

func mintToken(absPath string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(absPath))
	return strconv.FormatUint(h.Sum64(), 16)
}

// CreateFile mints a token, creates any missing directories, and opens the
// destination file for writing. Errors are wireerr-coded per §7.
func (m *Manager) CreateFile(p CreateParams) (string, error) {
	if p.ChunkSize == 0 || p.ChunkSize%wire.ChunkBase != 0 {
		return "", wireerr.New(wireerr.EInval)
	}

	root, ok := m.partitionRoot(p.Partition)
	if !ok || root == "" {
		return "", wireerr.New(wireerr.ENotDir)
	}

	absPath, err := resolveUnderRoot(root, p.RelativePath, p.FileName)
	if err != nil {
		return "", wireerr.New(wireerr.ENotDir)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", wireerr.New(wireerr.ENotDir)
	}

	token := mintToken(absPath)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[token]; exists {
		return "", wireerr.New(wireerr.EExist)
	}

	flags := os.O_CREATE | os.O_RDWR
	if p.DirectIO {
		flags |= syscall.O_DIRECT
	}
	perm := os.FileMode(0o644)
	if p.FilePerm != 0 {
		perm = os.FileMode(p.FilePerm)
	}

	f, err := os.OpenFile(absPath, flags, perm)
	if err != nil {
		return "", wireerr.New(wireerr.CodeOf(err))
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return "", wireerr.New(wireerr.CodeOf(err))
	}

	m.entries[token] = &Entry{
		File:      f,
		ChunkSize: p.ChunkSize,
		TotalSize: p.FileSize,
		FilePath:  absPath,
		FileToken: token,
	}
	return token, nil
}

// CloseFile removes token from the registry, truncates its file to the
// recorded total size, and closes it.
func (m *Manager) CloseFile(token string) error {
	m.mu.Lock()
	e, ok := m.entries[token]
	if ok {
		delete(m.entries, token)
	}
	m.mu.Unlock()

	if !ok {
		return wireerr.New(wireerr.ENoEnt)
	}

	if err := e.File.Truncate(int64(e.TotalSize)); err != nil {
		e.File.Close()
		return wireerr.New(wireerr.CodeOf(err))
	}
	if err := e.File.Close(); err != nil {
		return wireerr.New(wireerr.CodeOf(err))
	}
	return nil
}

// HasFile reports whether token is currently open.
func (m *Manager) HasFile(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[token]
	return ok
}

// SetChainTargets replaces the forwarding edges recorded for token.
func (m *Manager) SetChainTargets(token string, targets []wire.ChainTarget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[token]
	if !ok {
		return wireerr.New(wireerr.ENoEnt)
	}
	e.ChainTargets = targets
	return nil
}

// GetFD returns the open file and a snapshot of the chain targets for
// token. The returned file remains valid until CloseFile runs; callers use
// it without holding the registry lock.
func (m *Manager) GetFD(token string) (*os.File, []wire.ChainTarget, error) {
	m.mu.Lock()
	e, ok := m.entries[token]
	m.mu.Unlock()
	if !ok {
		return nil, nil, wireerr.New(wireerr.ENoEnt)
	}
	targets := append([]wire.ChainTarget(nil), e.ChainTargets...)
	return e.File, targets, nil
}
