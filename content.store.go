package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

var ErrContentNotFound = errors.New("content not found")

// ContentCleaner removes the downloaded content of a book.
type ContentCleaner interface {
	DeleteContent(ctx context.Context, account, id string) error
}

// ContentStore keeps downloaded book files per account.
type ContentStore interface {
	ContentCleaner
	PutContent(ctx context.Context, account, id string, r io.Reader) (int64, error)
	OpenContent(ctx context.Context, account, id string) (io.ReadCloser, error)
	HasContent(ctx context.Context, account, id string) bool
	ContentPath(account, id string) string
}

type fileContentStore struct {
	logger *zap.Logger
	dir    string
}

// NewFileContentStore provides a content store rooted at dir. Each book
// is a single file named after the hash of its id.
func NewFileContentStore(logger *zap.Logger, dir string) ContentStore {
	return &fileContentStore{logger: logger, dir: dir}
}

// ContentPath returns dir/<account>/content/<xxhash(id)>.
func (fcs *fileContentStore) ContentPath(account, id string) string {
	name := strconv.FormatUint(xxhash.Sum64String(id), 16)
	return filepath.Join(fcs.dir, url.PathEscape(account), "content", name)
}

// PutContent stores the content of a book, replacing any previous copy.
func (fcs *fileContentStore) PutContent(ctx context.Context, account, id string, r io.Reader) (int64, error) {
	path := fcs.ContentPath(account, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".content-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, readerWithContext(ctx, r))
	if err == nil {
		err = tmp.Close()
	} else {
		tmp.Close()
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("store content of %s: %w", id, err)
	}
	return n, nil
}

// OpenContent opens the stored content of a book for reading.
func (fcs *fileContentStore) OpenContent(_ context.Context, account, id string) (io.ReadCloser, error) {
	f, err := os.Open(fcs.ContentPath(account, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrContentNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (fcs *fileContentStore) HasContent(_ context.Context, account, id string) bool {
	_, err := os.Stat(fcs.ContentPath(account, id))
	return err == nil
}

// DeleteContent removes the content of a book. Missing content is not an error.
func (fcs *fileContentStore) DeleteContent(_ context.Context, account, id string) error {
	err := os.Remove(fcs.ContentPath(account, id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	fcs.logger.Debug("content: deleted", zap.String("account", account), zap.String("book.id", id))
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
