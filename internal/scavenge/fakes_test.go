package scavenge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/chunklog/chunklog/internal/record"
)

const testChunkSize = 100

// fakeChunk is one physical chunk held in memory.
type fakeChunk struct {
	r       PhysicalChunkRange
	records []record.Record
}

func localChunk(start, end int, records ...record.Record) *fakeChunk {
	return &fakeChunk{
		r: PhysicalChunkRange{
			StartNumber:   start,
			EndNumber:     end,
			StartPosition: int64(start) * testChunkSize,
			EndPosition:   int64(end+1) * testChunkSize,
			IsReadOnly:    true,
			Name:          fmt.Sprintf("chunk-%06d.%06d", start, end),
			FileSize:      int64(len(records)+1) * 10,
		},
		records: records,
	}
}

func remoteChunk(start, end int, records ...record.Record) *fakeChunk {
	c := localChunk(start, end, records...)
	c.r.IsRemote = true
	return c
}

func openChunk(start int) *fakeChunk {
	c := localChunk(start, start)
	c.r.IsReadOnly = false
	return c
}

type fakeReader struct {
	chunk  *fakeChunk
	mgr    *fakeManager
	closed bool
}

func (r *fakeReader) Range() PhysicalChunkRange { return r.chunk.r }

func (r *fakeReader) Records(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		for _, rec := range r.chunk.records {
			if err := r.mgr.readErr(r.chunk.r.StartNumber); err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (r *fakeReader) Close() error {
	r.mgr.mu.Lock()
	defer r.mgr.mu.Unlock()
	r.closed = true
	r.mgr.open--
	return nil
}

type fakeSegment struct {
	r       PhysicalChunkRange
	records []record.Record
	deleted bool
}

func (s *fakeSegment) Range() PhysicalChunkRange    { return s.r }
func (s *fakeSegment) FileName() string             { return s.r.Name + ".new" }
func (s *fakeSegment) FileSize() int64              { return int64(len(s.records)+1) * 10 }
func (s *fakeSegment) Open() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("")), nil }

func (s *fakeSegment) MarkForDeletion() error {
	s.deleted = true
	return nil
}

type fakeWriter struct {
	source            PhysicalChunkRange
	records           []record.Record
	completed         *fakeSegment
	aborted           bool
	deleteImmediately bool
	writeErr          error
}

func (w *fakeWriter) LocalFileName() string { return w.source.Name + ".scavenge.tmp" }

func (w *fakeWriter) WriteRecord(rec record.Record) error {
	if w.writeErr != nil {
		return w.writeErr
	}
	w.records = append(w.records, rec)
	return nil
}

func (w *fakeWriter) Complete(ctx context.Context) (CompletedSegment, error) {
	w.completed = &fakeSegment{r: w.source, records: w.records}
	return w.completed, nil
}

func (w *fakeWriter) Abort(deleteImmediately bool) error {
	w.aborted = true
	w.deleteImmediately = deleteImmediately
	return nil
}

// fakeManager serves chunks from memory and records rewrites.
type fakeManager struct {
	mu       sync.Mutex
	chunks   []*fakeChunk
	writers  []*fakeWriter
	switched map[int][]record.Record
	open     int

	createErr  error
	writeErr   error
	readErrs   map[int]error
	switchErr  error
	onGetChunk func(start int)
}

func newFakeManager(chunks ...*fakeChunk) *fakeManager {
	return &fakeManager{
		chunks:   chunks,
		switched: make(map[int][]record.Record),
		readErrs: make(map[int]error),
	}
}

func (m *fakeManager) readErr(start int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readErrs[start]
}

func (m *fakeManager) GetReaderFor(ctx context.Context, position int64) (ChunkReader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chunks {
		if c.r.StartPosition <= position && position < c.r.EndPosition {
			m.open++
			if m.onGetChunk != nil {
				m.onGetChunk(c.r.StartNumber)
			}
			return &fakeReader{chunk: c, mgr: m}, nil
		}
	}
	return nil, fmt.Errorf("no chunk at %d", position)
}

func (m *fakeManager) CreateWriter(ctx context.Context, source ChunkReader) (ChunkWriter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	w := &fakeWriter{source: source.Range(), writeErr: m.writeErr}
	m.writers = append(m.writers, w)
	return w, nil
}

func (m *fakeManager) SwitchInTemp(ctx context.Context, completed CompletedSegment) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.switchErr != nil {
		return "", m.switchErr
	}
	seg := completed.(*fakeSegment)
	m.switched[seg.r.StartNumber] = seg.records
	return seg.FileName(), nil
}

func (m *fakeManager) rewritten() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var starts []int
	for s := range m.switched {
		starts = append(starts, s)
	}
	slices.Sort(starts)
	return starts
}

type fakeArchive struct {
	mu     sync.Mutex
	stored []CompletedSegment
	err    error
}

func (a *fakeArchive) StoreSegment(ctx context.Context, segment CompletedSegment) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.stored = append(a.stored, segment)
	return nil
}

type fakeRemover struct {
	mu        sync.Mutex
	removable map[int]bool
	asked     []int
	err       error
}

func (r *fakeRemover) StartRemovingIfNotRetained(ctx context.Context, sp ScavengePoint, w WorkerState, chunk ChunkReader) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := chunk.Range().StartNumber
	r.asked = append(r.asked, start)
	if r.err != nil {
		return false, r.err
	}
	return r.removable[start], nil
}

// fakeState is an in-memory StateStore.
type fakeState struct {
	mu          sync.Mutex
	weights     map[int]float64
	info        map[string]ChunkExecutionInfo
	meta        map[string]MetastreamData
	originals   map[string]StreamStatus
	checkpoint  Checkpoint
	checkpoints []Checkpoint
	borrowed    int
	released    int
	inUse       int

	setErr    error
	setErrAt  int
	borrowErr error
	commitErr error
	rollbacks int
}

func newFakeState() *fakeState {
	return &fakeState{
		weights:   make(map[int]float64),
		info:      make(map[string]ChunkExecutionInfo),
		meta:      make(map[string]MetastreamData),
		originals: make(map[string]StreamStatus),
	}
}

func (s *fakeState) Checkpoint(ctx context.Context) (Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint, s.checkpoint != nil, nil
}

func (s *fakeState) SetCheckpoint(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil && len(s.checkpoints) >= s.setErrAt {
		return s.setErr
	}
	s.checkpoint = cp
	s.checkpoints = append(s.checkpoints, cp)
	return nil
}

func (s *fakeState) BorrowWorker(ctx context.Context) (WorkerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.borrowErr != nil && s.borrowed > 0 {
		return nil, s.borrowErr
	}
	s.borrowed++
	return &fakeWorker{state: s}, nil
}

func (s *fakeState) BeginTransaction(ctx context.Context) (Transaction, error) {
	return &fakeTxn{state: s}, nil
}

func (s *fakeState) AllChunksExecuted(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.weights {
		if w != 0 {
			return false, nil
		}
	}
	return true, nil
}

func (s *fakeState) weight(chunk int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weights[chunk]
}

func (s *fakeState) doneChunks() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var done []int
	for _, cp := range s.checkpoints {
		if ec, ok := cp.(ExecutingChunks); ok && ec.DoneChunk != nil {
			done = append(done, *ec.DoneChunk)
		}
	}
	return done
}

type fakeWorker struct {
	state    *fakeState
	released bool
}

func (w *fakeWorker) SumChunkWeights(ctx context.Context, start, end int) (float64, error) {
	w.state.mu.Lock()
	defer w.state.mu.Unlock()
	var sum float64
	for n := start; n <= end; n++ {
		sum += w.state.weights[n]
	}
	return sum, nil
}

func (w *fakeWorker) ResetChunkWeights(ctx context.Context, start, end int) error {
	w.state.mu.Lock()
	defer w.state.mu.Unlock()
	for n := start; n <= end; n++ {
		delete(w.state.weights, n)
	}
	return nil
}

func (w *fakeWorker) TryGetExecutionInfo(ctx context.Context, streamID string) (ChunkExecutionInfo, bool, error) {
	w.state.mu.Lock()
	defer w.state.mu.Unlock()
	info, ok := w.state.info[streamID]
	return info, ok, nil
}

func (w *fakeWorker) TryGetMetastreamData(ctx context.Context, streamID string) (MetastreamData, bool, error) {
	w.state.mu.Lock()
	defer w.state.mu.Unlock()
	data, ok := w.state.meta[streamID]
	return data, ok, nil
}

func (w *fakeWorker) Release() {
	w.state.mu.Lock()
	defer w.state.mu.Unlock()
	if !w.released {
		w.released = true
		w.state.released++
	}
}

type fakeTxn struct {
	state          *fakeState
	deleteMeta     bool
	deleteOriginal bool
	deleteArchived bool
}

func (t *fakeTxn) DeleteMetastreamData(ctx context.Context) error {
	t.deleteMeta = true
	return nil
}

func (t *fakeTxn) DeleteOriginalStreamData(ctx context.Context, deleteArchived bool) error {
	t.deleteOriginal = true
	t.deleteArchived = deleteArchived
	return nil
}

func (t *fakeTxn) Commit(ctx context.Context, cp Checkpoint) error {
	s := t.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	if t.deleteMeta {
		clear(s.meta)
	}
	if t.deleteOriginal {
		for id, status := range s.originals {
			if status == StatusSpent || (t.deleteArchived && status == StatusArchived) {
				delete(s.originals, id)
			}
		}
	}
	s.checkpoint = cp
	s.checkpoints = append(s.checkpoints, cp)
	return nil
}

func (t *fakeTxn) Rollback() error {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	t.state.rollbacks++
	return nil
}

// recordingObserver keeps the chunk outcomes it saw.
type recordingObserver struct {
	NopObserver

	mu       sync.Mutex
	skipped  []int
	left     []int
	removed  []int
	rewrites []int
	failed   []int
	stopped  []int
	stages   []string
	started  int
	finished int
	runErr   error
}

func (o *recordingObserver) ChunkSkipped(r PhysicalChunkRange, weight float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped = append(o.skipped, r.StartNumber)
}

func (o *recordingObserver) ChunkLeftToArchiver(r PhysicalChunkRange, weight float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.left = append(o.left, r.StartNumber)
}

func (o *recordingObserver) ChunkRemovalStarted(r PhysicalChunkRange, weight float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, r.StartNumber)
}

func (o *recordingObserver) ChunksScavenged(r PhysicalChunkRange, stats RewriteStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rewrites = append(o.rewrites, r.StartNumber)
}

func (o *recordingObserver) ChunkScavengeFailed(r PhysicalChunkRange, weight float64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, r.StartNumber)
}

func (o *recordingObserver) ChunkScavengeStopped(r PhysicalChunkRange, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = append(o.stopped, r.StartNumber)
}

func (o *recordingObserver) StageCompleted(sp ScavengePoint, stage Stage, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, string(stage))
}

func (o *recordingObserver) ScavengeStarted(sp ScavengePoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) ScavengeCompleted(sp ScavengePoint, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
}

func (o *recordingObserver) ScavengeFailed(sp ScavengePoint, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runErr = err
}

func prepare(stream string, eventNumber int64, pos int64) *record.Prepare {
	return &record.Prepare{
		LogPosition:         pos,
		TransactionPosition: pos,
		Role:                record.SelfCommitted,
		StreamID:            stream,
		EventNumber:         eventNumber,
		EventType:           "test",
		TimeStamp:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func commit(pos int64) *record.Commit {
	return &record.Commit{LogPosition: pos, TransactionPosition: pos}
}

var errBoom = errors.New("boom")
