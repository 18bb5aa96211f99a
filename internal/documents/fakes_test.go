package documents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"docmind-backend/internal/search"
	"docmind-backend/internal/shared/storage/object"
)

// callLog records backend calls across fakes so tests can assert ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte, mimeType, fileName string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return string(data), nil
}

type fakeStore struct {
	mu        sync.Mutex
	log       *callLog
	objects   map[string][]byte
	putErr    error
	deleteErr error
	blockPut  bool
}

func newFakeStore(log *callLog) *fakeStore {
	return &fakeStore{log: log, objects: make(map[string][]byte)}
}

func (s *fakeStore) Put(ctx context.Context, ownerID int64, fileName, contentType string, r io.Reader) (string, int64, error) {
	s.log.add("store.put")
	if s.blockPut {
		<-ctx.Done()
		return "", 0, ctx.Err()
	}
	if s.putErr != nil {
		return "", 0, s.putErr
	}
	key, err := object.NewKey(ownerID, fileName)
	if err != nil {
		return "", 0, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return key, int64(len(data)), nil
}

func (s *fakeStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, object.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.log.add("store.delete")
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type fakeRepo struct {
	*MemoryRepo
	log            *callLog
	createErr      error
	commitThenFail bool // store the row, then report createErr
	deleteByKeyErr error
	deleteErr      error
	getErr         error
	deleteMisses   bool
}

func newFakeRepo(log *callLog) *fakeRepo {
	return &fakeRepo{MemoryRepo: NewMemoryRepo(), log: log}
}

func (r *fakeRepo) Create(ctx context.Context, doc Document) (Document, error) {
	r.log.add("repo.create")
	if r.createErr != nil && !r.commitThenFail {
		return Document{}, r.createErr
	}
	created, err := r.MemoryRepo.Create(ctx, doc)
	if err != nil {
		return Document{}, err
	}
	if r.commitThenFail {
		return Document{}, r.createErr
	}
	return created, nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id int64) (Document, error) {
	if r.getErr != nil {
		return Document{}, r.getErr
	}
	return r.MemoryRepo.GetByID(ctx, id)
}

func (r *fakeRepo) DeleteByID(ctx context.Context, id int64) (bool, error) {
	r.log.add("repo.delete")
	if r.deleteErr != nil {
		return false, r.deleteErr
	}
	if r.deleteMisses {
		return false, nil
	}
	return r.MemoryRepo.DeleteByID(ctx, id)
}

func (r *fakeRepo) DeleteByStorageKey(ctx context.Context, key string) (bool, error) {
	r.log.add("repo.delete_by_key")
	if r.deleteByKeyErr != nil {
		return false, r.deleteByKeyErr
	}
	return r.MemoryRepo.DeleteByStorageKey(ctx, key)
}

func (r *fakeRepo) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

type fakeIndex struct {
	*search.MemoryIndex
	log       *callLog
	indexErr  error
	deleteErr error
	searchErr error
	onIndex   func()
}

func newFakeIndex(log *callLog) *fakeIndex {
	return &fakeIndex{MemoryIndex: search.NewMemoryIndex(), log: log}
}

func (x *fakeIndex) Index(ctx context.Context, e search.Entry) error {
	x.log.add("index.index")
	if x.onIndex != nil {
		x.onIndex()
	}
	if x.indexErr != nil {
		return x.indexErr
	}
	return x.MemoryIndex.Index(ctx, e)
}

func (x *fakeIndex) Delete(ctx context.Context, id int64) error {
	x.log.add("index.delete")
	if x.deleteErr != nil {
		return x.deleteErr
	}
	return x.MemoryIndex.Delete(ctx, id)
}

func (x *fakeIndex) Search(ctx context.Context, ownerID int64, query string, limit int) ([]search.Hit, error) {
	if x.searchErr != nil {
		return nil, x.searchErr
	}
	return x.MemoryIndex.Search(ctx, ownerID, query, limit)
}

type fixture struct {
	svc   *Service
	log   *callLog
	store *fakeStore
	repo  *fakeRepo
	index *fakeIndex
	ext   *fakeExtractor
}

func newFixture() *fixture {
	log := &callLog{}
	f := &fixture{
		log:   log,
		store: newFakeStore(log),
		repo:  newFakeRepo(log),
		index: newFakeIndex(log),
		ext:   &fakeExtractor{},
	}
	f.svc = &Service{
		Repo:      f.repo,
		Store:     f.store,
		Index:     f.index,
		Extractor: f.ext,
	}
	return f
}

func pdfUpload(owner int64) Upload {
	return Upload{
		Data:     []byte("quarterly invoice totals"),
		FileName: "a.pdf",
		MimeType: "application/pdf",
		OwnerID:  owner,
	}
}
