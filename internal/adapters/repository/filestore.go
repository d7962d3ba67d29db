package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/pkg/logger"
	"github.com/okian/vitals/pkg/metrics"
)

const partitionExt = ".vp"

// FileStore keeps one file per partition under <root>/<metric>/<YYYY>/<MM>.vp.
// Writers of the same partition are serialized; readers never observe a
// partially written file because replacement is a rename.
type FileStore struct {
	root     string
	fileMode os.FileMode
	syncDir  bool
	log      logger.Logger

	mu    sync.Mutex
	locks map[model.PartitionKey]*sync.Mutex
}

// NewFileStore creates the store root if needed.
func NewFileStore(root string, opts ...Option) (*FileStore, error) {
	s := &FileStore{
		root:     root,
		fileMode: 0o644,
		syncDir:  true,
		log:      logger.Nop(),
		locks:    make(map[model.PartitionKey]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create store root: %v", ErrPartitionWrite, err)
	}
	return s, nil
}

// Root returns the store directory.
func (s *FileStore) Root() string { return s.root }

// Path returns the file backing key.
func (s *FileStore) Path(key model.PartitionKey) string {
	return filepath.Join(s.root, string(key.Metric), fmt.Sprintf("%04d", key.Year), fmt.Sprintf("%02d%s", int(key.Month), partitionExt))
}

func (s *FileStore) lock(key model.PartitionKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Write implements Store.
func (s *FileStore) Write(ctx context.Context, key model.PartitionKey, series model.Series) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(series.Samples) == 0 {
		return false, nil
	}
	if err := checkPartition(key, series); err != nil {
		return false, err
	}

	start := time.Now()
	status := "failed"
	defer func() {
		metrics.RecordPartitionWrite(string(key.Metric), status, float64(time.Since(start).Microseconds())/1000)
	}()

	block := encodeBlock(series)
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()

	path := s.Path(key)
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, block) {
		status = "unchanged"
		return false, nil
	}

	if err := s.replace(path, block); err != nil {
		s.log.Error(ctx, "partition write failed", logger.String("partition", key.String()), logger.Error(err))
		return false, fmt.Errorf("%w: %s: %v", ErrPartitionWrite, key, err)
	}
	status = "written"
	s.log.Debug(ctx, "partition written",
		logger.String("partition", key.String()),
		logger.Int("samples", len(series.Samples)),
		logger.Int("bytes", len(block)),
	)
	return true, nil
}

// checkPartition verifies series belongs in key and is strictly ordered.
func checkPartition(key model.PartitionKey, series model.Series) error {
	if series.Metric != key.Metric {
		return fmt.Errorf("%w: %s series written to %s", ErrOutOfPartition, series.Metric, key)
	}
	first, last, _ := series.Bounds()
	if first.Before(key.Start()) || !last.Before(key.End()) {
		return fmt.Errorf("%w: %s..%s not within %s", ErrOutOfPartition,
			first.Format(time.RFC3339), last.Format(time.RFC3339), key)
	}
	return series.Validate()
}

// replace writes data to a temp file beside path, syncs it and renames it
// over path.
func (s *FileStore) replace(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(s.fileMode); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	if s.syncDir {
		if d, err := os.Open(dir); err == nil {
			_ = d.Sync()
			_ = d.Close()
		}
	}
	return nil
}

// ReadPartition implements Store.
func (s *FileStore) ReadPartition(ctx context.Context, key model.PartitionKey) (model.Series, error) {
	if err := ctx.Err(); err != nil {
		return model.Series{}, err
	}
	start := time.Now()
	defer func() { metrics.RecordPartitionRead(float64(time.Since(start).Microseconds()) / 1000) }()

	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return model.Series{Metric: key.Metric}, nil
	}
	if err != nil {
		return model.Series{}, fmt.Errorf("read partition %s: %w", key, err)
	}
	series, err := decodeBlock(data)
	if err != nil {
		return model.Series{}, fmt.Errorf("partition %s: %w", key, err)
	}
	if series.Metric != key.Metric {
		return model.Series{}, fmt.Errorf("%w: %s holds %s samples", ErrCorruptPartition, key, series.Metric)
	}
	return series, nil
}

// Read implements Store.
func (s *FileStore) Read(ctx context.Context, metric model.MetricType, start, end time.Time) (model.Series, error) {
	keys, err := s.Partitions(ctx, metric)
	if err != nil {
		return model.Series{}, err
	}
	var parts []model.Series
	for _, k := range keys {
		if !k.Overlaps(start, end) {
			continue
		}
		p, err := s.ReadPartition(ctx, k)
		if err != nil {
			return model.Series{}, err
		}
		parts = append(parts, p.Range(start, end))
	}
	return model.Concat(metric, parts...), nil
}

// Partitions implements Store.
func (s *FileStore) Partitions(ctx context.Context, metric model.MetricType) ([]model.PartitionKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := filepath.Join(s.root, string(metric))
	years, err := os.ReadDir(base)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list partitions of %s: %w", metric, err)
	}

	var keys []model.PartitionKey
	for _, y := range years {
		year, err := strconv.Atoi(y.Name())
		if err != nil || !y.IsDir() {
			continue
		}
		months, err := os.ReadDir(filepath.Join(base, y.Name()))
		if err != nil {
			return nil, fmt.Errorf("list partitions of %s/%s: %w", metric, y.Name(), err)
		}
		for _, m := range months {
			name := m.Name()
			if m.IsDir() || !strings.HasSuffix(name, partitionExt) || strings.HasPrefix(name, ".") {
				continue
			}
			month, err := strconv.Atoi(strings.TrimSuffix(name, partitionExt))
			if err != nil || month < 1 || month > 12 {
				continue
			}
			keys = append(keys, model.PartitionKey{Metric: metric, Year: year, Month: time.Month(month)})
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys, nil
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, key model.PartitionKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()
	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: delete %s: %v", ErrPartitionWrite, key, err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
