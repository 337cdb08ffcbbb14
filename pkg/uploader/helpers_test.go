package uploader

import (
	"context"
	"errors"
	"sync"

	"coldvault/pkg/types"
	"coldvault/pkg/vault"
)

// -----------------------------------------------------------------------------
// recordingSink (间谍 Sink)
// 记录每一次 UploadPart / Complete 调用，可以指定在第 N 个分片失败
// -----------------------------------------------------------------------------

type recordedPart struct {
	Index    int
	Range    types.ByteRange
	Checksum types.Checksum
	Body     []byte
}

type recordingSink struct {
	mu        sync.Mutex
	parts     []recordedPart
	completes int
	size      int64
	checksum  types.Checksum

	failOnPart  int // -1 表示不失败
	failErr     error
	failOnFinal error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{failOnPart: -1}
}

func (s *recordingSink) UploadPart(ctx context.Context, part vault.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if part.Index == s.failOnPart {
		return s.failErr
	}
	// Body 在调用结束后会被复用，必须拷贝
	s.parts = append(s.parts, recordedPart{
		Index:    part.Index,
		Range:    part.Range,
		Checksum: part.Checksum,
		Body:     append([]byte(nil), part.Body...),
	})
	return nil
}

func (s *recordingSink) Complete(ctx context.Context, size int64, checksum types.Checksum) (*vault.Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completes++
	if s.failOnFinal != nil {
		return nil, s.failOnFinal
	}
	s.size = size
	s.checksum = checksum
	return &vault.Archive{ID: "archive-1", Size: size, TreeHash: checksum}, nil
}

// -----------------------------------------------------------------------------
// fakeVault: 在 recordingSink 外面包一层 Upload 会话
// -----------------------------------------------------------------------------

type fakeUpload struct {
	*recordingSink
	aborted bool
}

func (u *fakeUpload) ID() string { return "upload-1" }
func (u *fakeUpload) Abort(ctx context.Context) error {
	u.aborted = true
	return nil
}

type fakeVault struct {
	initiated   int
	last        *fakeUpload
	sink        *recordingSink
	initiateErr error
}

func (v *fakeVault) Initiate(ctx context.Context, in vault.InitiateInput) (vault.Upload, error) {
	if v.initiateErr != nil {
		return nil, v.initiateErr
	}
	v.initiated++
	if v.sink == nil {
		v.sink = newRecordingSink()
	}
	v.last = &fakeUpload{recordingSink: v.sink}
	return v.last, nil
}

// -----------------------------------------------------------------------------
// memCatalog
// -----------------------------------------------------------------------------

type memCatalog struct {
	archives  map[string]*vault.Manifest // key: vault + tree hash
	recordErr error
}

func newMemCatalog() *memCatalog {
	return &memCatalog{archives: make(map[string]*vault.Manifest)}
}

func (c *memCatalog) RecordArchive(ctx context.Context, m *vault.Manifest) error {
	if c.recordErr != nil {
		return c.recordErr
	}
	c.archives[m.Vault+"/"+m.TreeHash.String()] = m
	return nil
}

func (c *memCatalog) LookupArchive(ctx context.Context, vaultName string, sum types.Checksum) (string, bool, error) {
	m, ok := c.archives[vaultName+"/"+sum.String()]
	if !ok {
		return "", false, nil
	}
	return m.ArchiveID, true, nil
}

var errBoom = errors.New("boom")
