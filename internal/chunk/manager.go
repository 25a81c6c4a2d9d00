package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chunklog/chunklog/internal/logging"
	"github.com/chunklog/chunklog/internal/scavenge"
)

const (
	// Ext is the extension of chunk files.
	Ext = ".chunk"
	// TempSuffix marks rewrite outputs that have not been switched in.
	TempSuffix = ".scavenge.tmp"
)

// Manager errors.
var (
	ErrNoChunk          = errors.New("chunk: no chunk contains position")
	ErrOverlappingChunk = errors.New("chunk: chunk overlaps an existing chunk")
	ErrNotLocal         = errors.New("chunk: chunk is not stored locally")
	ErrForeignSegment   = errors.New("chunk: segment was not written by this manager")
)

// FileName returns the file name of the chunk covering logical chunks
// start through end.
func FileName(start, end int) string {
	return fmt.Sprintf("chunk-%06d-%06d%s", start, end, Ext)
}

// ParseFileName parses a name produced by FileName.
func ParseFileName(name string) (start, end int, ok bool) {
	if !strings.HasPrefix(name, "chunk-") || !strings.HasSuffix(name, Ext) {
		return 0, 0, false
	}
	first, second, found := strings.Cut(strings.TrimSuffix(strings.TrimPrefix(name, "chunk-"), Ext), "-")
	if !found {
		return 0, 0, false
	}
	var err error
	if start, err = strconv.Atoi(first); err != nil {
		return 0, 0, false
	}
	if end, err = strconv.Atoi(second); err != nil {
		return 0, 0, false
	}
	if start < 0 || end < start || FileName(start, end) != name {
		return 0, 0, false
	}
	return start, end, true
}

// RemoteChunk describes a chunk stored in the archive.
type RemoteChunk struct {
	Name string
	Size int64
}

// RemoteChunks is the archive as seen by the file manager.
type RemoteChunks interface {
	ListChunks(ctx context.Context) ([]RemoteChunk, error)
	OpenChunk(ctx context.Context, name string) (io.ReadCloser, error)
}

// ManagerConfig configures a FileManager.
type ManagerConfig struct {
	// Dir holds local chunk files and rewrite temporaries.
	Dir string
	// ChunkSize is the size of one logical chunk in log positions.
	ChunkSize int64
	// Codec compresses payloads of chunks written by this manager.
	Codec Codec
}

type entry struct {
	r            scavenge.PhysicalChunkRange
	maxTimestamp time.Time
}

// FileManager implements scavenge.ChunkManager over a local directory, with
// chunks that only exist in the archive served remotely.
type FileManager struct {
	cfg    ManagerConfig
	remote RemoteChunks
	logger *logging.Logger

	mu     sync.RWMutex
	chunks []entry
}

var _ scavenge.ChunkManager = (*FileManager)(nil)

// NewFileManager creates a manager. remote may be nil when the node has no
// archive. Call Load before use.
func NewFileManager(cfg ManagerConfig, remote RemoteChunks, logger *logging.Logger) (*FileManager, error) {
	if cfg.Dir == "" {
		return nil, errors.New("chunk: directory is required")
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk: invalid chunk size %d", cfg.ChunkSize)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("chunk: create directory: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &FileManager{
		cfg:    cfg,
		remote: remote,
		logger: logger.With(map[string]any{"component": "chunk-manager"}),
	}, nil
}

// Dir returns the manager's directory.
func (m *FileManager) Dir() string {
	return m.cfg.Dir
}

// Load builds the chunk list from the local directory and the archive.
// Local files win over archived copies of the same chunk.
func (m *FileManager) Load(ctx context.Context) error {
	dirEntries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return fmt.Errorf("chunk: read directory: %w", err)
	}

	byName := make(map[string]entry)
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		start, end, ok := ParseFileName(de.Name())
		if !ok {
			continue
		}
		e, err := m.inspect(filepath.Join(m.cfg.Dir, de.Name()), start, end)
		if err != nil {
			return err
		}
		byName[de.Name()] = e
	}

	if m.remote != nil {
		remote, err := m.remote.ListChunks(ctx)
		if err != nil {
			return fmt.Errorf("chunk: list archive: %w", err)
		}
		for _, rc := range remote {
			if _, ok := byName[rc.Name]; ok {
				continue
			}
			start, end, ok := ParseFileName(rc.Name)
			if !ok {
				m.logger.Warnf("ignoring unrecognised archive object", map[string]any{"name": rc.Name})
				continue
			}
			r := m.rangeFor(start, end, rc.Name)
			r.IsRemote = true
			r.IsReadOnly = true
			r.FileSize = rc.Size
			byName[rc.Name] = entry{r: r}
		}
	}

	chunks := make([]entry, 0, len(byName))
	for _, e := range byName {
		chunks = append(chunks, e)
	}
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].r.StartNumber < chunks[j].r.StartNumber
	})
	for i := 1; i < len(chunks); i++ {
		if chunks[i].r.StartNumber <= chunks[i-1].r.EndNumber {
			return fmt.Errorf("%w: %s and %s", ErrOverlappingChunk, chunks[i-1].r.Name, chunks[i].r.Name)
		}
	}

	m.mu.Lock()
	m.chunks = chunks
	m.mu.Unlock()

	m.logger.Infof("chunks loaded", map[string]any{"count": len(chunks)})
	return nil
}

// inspect reads the header and, when present, the footer of a local file.
func (m *FileManager) inspect(path string, start, end int) (entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return entry{}, fmt.Errorf("chunk: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return entry{}, fmt.Errorf("chunk: stat %s: %w", path, err)
	}
	head := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, head); err != nil {
		return entry{}, fmt.Errorf("chunk: %s: %w", path, ErrTruncatedHeader)
	}
	header, err := ParseHeader(head)
	if err != nil {
		return entry{}, fmt.Errorf("chunk: %s: %w", path, err)
	}
	if header.StartNumber != start || header.EndNumber != end {
		return entry{}, fmt.Errorf("chunk: %s: header covers %d-%d", path, header.StartNumber, header.EndNumber)
	}

	e := entry{r: m.rangeFor(start, end, filepath.Base(path))}
	e.r.FileSize = info.Size()
	if info.Size() >= HeaderSize+FooterSize {
		tail := make([]byte, FooterSize)
		if _, err := f.ReadAt(tail, info.Size()-FooterSize); err == nil {
			if footer, err := ParseFooter(tail); err == nil {
				e.r.IsReadOnly = true
				e.maxTimestamp = footer.MaxTimestamp
			}
		}
	}
	return e, nil
}

func (m *FileManager) rangeFor(start, end int, name string) scavenge.PhysicalChunkRange {
	return scavenge.PhysicalChunkRange{
		StartNumber:   start,
		EndNumber:     end,
		StartPosition: int64(start) * m.cfg.ChunkSize,
		EndPosition:   int64(end+1) * m.cfg.ChunkSize,
		Name:          name,
	}
}

// find returns the index of the chunk containing position. m.mu must be held.
func (m *FileManager) find(position int64) (int, bool) {
	i := sort.Search(len(m.chunks), func(i int) bool {
		return m.chunks[i].r.EndPosition > position
	})
	if i == len(m.chunks) || m.chunks[i].r.StartPosition > position {
		return 0, false
	}
	return i, true
}

func (m *FileManager) findStart(start int) (int, bool) {
	i := sort.Search(len(m.chunks), func(i int) bool {
		return m.chunks[i].r.StartNumber >= start
	})
	return i, i < len(m.chunks) && m.chunks[i].r.StartNumber == start
}

// GetReaderFor opens the physical chunk containing position.
func (m *FileManager) GetReaderFor(ctx context.Context, position int64) (scavenge.ChunkReader, error) {
	m.mu.RLock()
	i, ok := m.find(position)
	var r scavenge.PhysicalChunkRange
	if ok {
		r = m.chunks[i].r
	}
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoChunk, position)
	}

	if r.IsRemote {
		if m.remote == nil {
			return nil, fmt.Errorf("chunk: %s is remote and no archive is configured", r.Name)
		}
		rc, err := m.remote.OpenChunk(ctx, r.Name)
		if err != nil {
			return nil, fmt.Errorf("chunk: open archived %s: %w", r.Name, err)
		}
		return NewReader(r, rc), nil
	}

	f, err := os.Open(filepath.Join(m.cfg.Dir, r.Name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", scavenge.ErrChunkDeleted, r.Name)
		}
		return nil, fmt.Errorf("chunk: open %s: %w", r.Name, err)
	}
	return NewReader(r, f), nil
}

// CreateWriter creates a temporary output for rewriting source.
func (m *FileManager) CreateWriter(ctx context.Context, source scavenge.ChunkReader) (scavenge.ChunkWriter, error) {
	path := filepath.Join(m.cfg.Dir, uuid.NewString()+TempSuffix)
	w, err := newWriter(path, source.Range(), m.cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("chunk: create %s: %w", path, err)
	}
	return w, nil
}

// SwitchInTemp atomically replaces a local chunk with its rewritten copy.
// Readers that already hold the old file keep reading it.
func (m *FileManager) SwitchInTemp(ctx context.Context, completed scavenge.CompletedSegment) (string, error) {
	seg, ok := completed.(*Segment)
	if !ok {
		return "", ErrForeignSegment
	}
	r := seg.target
	if r.IsRemote {
		return "", fmt.Errorf("%w: %s", ErrNotLocal, r.Name)
	}

	final := filepath.Join(m.cfg.Dir, r.Name)
	if _, err := os.Stat(final); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", scavenge.ErrChunkDeleted, r.Name)
		}
		return "", err
	}
	if err := os.Rename(seg.path, final); err != nil {
		return "", fmt.Errorf("chunk: switch in %s: %w", r.Name, err)
	}
	seg.path = final
	if err := syncDir(m.cfg.Dir); err != nil {
		m.logger.Warnf("sync chunk directory", map[string]any{"error": err.Error()})
	}

	m.mu.Lock()
	if i, ok := m.findStart(r.StartNumber); ok {
		m.chunks[i].r.FileSize = seg.size
		m.chunks[i].maxTimestamp = seg.maxTimestamp
	}
	m.mu.Unlock()
	return r.Name, nil
}

// CreateChunk starts a new local chunk covering logical chunks start through
// end. The chunk reads as open until the writer completes.
func (m *FileManager) CreateChunk(start, end int) (*Writer, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("chunk: invalid chunk numbers %d-%d", start, end)
	}
	name := FileName(start, end)
	r := m.rangeFor(start, end, name)

	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.chunks), func(i int) bool {
		return m.chunks[i].r.EndNumber >= start
	})
	if i < len(m.chunks) && m.chunks[i].r.StartNumber <= end {
		return nil, fmt.Errorf("%w: %s", ErrOverlappingChunk, name)
	}

	w, err := newWriter(filepath.Join(m.cfg.Dir, name), r, m.cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("chunk: create %s: %w", name, err)
	}
	w.onComplete = func(seg *Segment) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if j, ok := m.findStart(start); ok {
			m.chunks[j].r.IsReadOnly = true
			m.chunks[j].r.FileSize = seg.size
			m.chunks[j].maxTimestamp = seg.maxTimestamp
		}
	}
	m.chunks = append(m.chunks, entry{})
	copy(m.chunks[i+1:], m.chunks[i:])
	m.chunks[i] = entry{r: r}
	return w, nil
}

// RemoveLocal deletes the local file of a sealed chunk that is also in the
// archive. The chunk stays readable from the archive.
func (m *FileManager) RemoveLocal(start int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.findStart(start)
	if !ok || m.chunks[i].r.IsRemote {
		return fmt.Errorf("%w: chunk %d", ErrNotLocal, start)
	}
	if !m.chunks[i].r.IsReadOnly {
		return fmt.Errorf("%w: chunk %d is open", scavenge.ErrChunkNotReadOnly, start)
	}
	name := m.chunks[i].r.Name
	if err := os.Remove(filepath.Join(m.cfg.Dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("chunk: remove %s: %w", name, err)
	}
	m.chunks[i].r.IsRemote = true
	return nil
}

// Chunks returns every known chunk in log order.
func (m *FileManager) Chunks() []scavenge.PhysicalChunkRange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]scavenge.PhysicalChunkRange, len(m.chunks))
	for i, e := range m.chunks {
		out[i] = e.r
	}
	return out
}

// MaxTimestamp returns the newest record time of a sealed local chunk.
func (m *FileManager) MaxTimestamp(start int) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.findStart(start)
	if !ok || m.chunks[i].maxTimestamp.IsZero() {
		return time.Time{}, false
	}
	return m.chunks[i].maxTimestamp, true
}

// SealedEndPosition returns the end of the contiguous run of sealed chunks
// from the start of the log. Everything before it can be scavenged.
func (m *FileManager) SealedEndPosition() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var end int64
	for _, e := range m.chunks {
		if !e.r.IsReadOnly || e.r.StartPosition != end {
			break
		}
		end = e.r.EndPosition
	}
	return end
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
