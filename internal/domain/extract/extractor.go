// Package extract reads raw wearable export files into raw samples.
//
// A batch path is a directory, a zip archive, or a directory holding zip
// archives. Files are selected by base-name glob per family and decoded by
// detected shape; field names are looked up through a configurable alias
// table. Parsing is per file: a malformed file yields no samples and one
// failure, and never stops the batch.
package extract

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/pkg/logger"
)

// Source is one export file, on disk or inside a zip archive.
type Source struct {
	Batch    string
	Family   Family
	Path     string // display path; archive members are "<archive>!<member>"
	Archive  string // zip path, empty for plain files
	Member   string // member name inside Archive
	Size     int64
	// Checksum identifies the content: xxhash64 for plain files, the
	// member's CRC-32 for archive members.
	Checksum uint64
	FileDate time.Time
}

// Open returns the source's content.
func (s Source) Open() (io.ReadCloser, error) {
	if s.Archive == "" {
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableSource, err)
		}
		return f, nil
	}
	zr, err := zip.OpenReader(s.Archive)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableSource, err)
	}
	for _, f := range zr.File {
		if f.Name != s.Member {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			_ = zr.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableSource, s.Path, err)
		}
		return &memberReader{ReadCloser: rc, archive: zr}, nil
	}
	_ = zr.Close()
	return nil, fmt.Errorf("%w: %s: member vanished", ErrUnreadableSource, s.Path)
}

type memberReader struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (m *memberReader) Close() error {
	return errors.Join(m.ReadCloser.Close(), m.archive.Close())
}

// Record is the outcome of parsing one source.
type Record struct {
	Source  Source
	Samples []model.RawSample
	Failure *model.Failure
}

// Extractor discovers and parses export files.
type Extractor struct {
	patterns map[Family]string
	aliases  Aliases
	log      logger.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the extractor's logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.log = l
		}
	}
}

// New builds an Extractor. patterns overlays the default family globs and
// aliases replaces the default alias list of each configured field.
func New(patterns map[string]string, aliases map[string][]string, opts ...Option) (*Extractor, error) {
	p, err := mergePatterns(patterns)
	if err != nil {
		return nil, err
	}
	a, err := mergeAliases(aliases)
	if err != nil {
		return nil, err
	}
	e := &Extractor{patterns: p, aliases: a, log: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// family returns the family whose glob matches name's base.
func (e *Extractor) family(name string) (Family, bool) {
	base := path.Base(filepath.ToSlash(name))
	for _, f := range Families {
		if ok, _ := filepath.Match(e.patterns[f], base); ok {
			return f, true
		}
	}
	return "", false
}

// Discover lists the matching sources of a batch in a stable order.
// Unreadable archives inside a directory are reported as failures; an
// unreadable batch path is an error.
func (e *Extractor) Discover(ctx context.Context, b model.Batch) ([]Source, []model.Failure, error) {
	info, err := os.Stat(b.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: batch %s: %v", ErrUnreadableSource, b.ID, err)
	}

	var (
		sources  []Source
		failures []model.Failure
	)
	if !info.IsDir() {
		if !isZip(b.Path) {
			return nil, nil, fmt.Errorf("%w: batch %s: %s is neither a directory nor a zip archive", ErrUnreadableSource, b.ID, b.Path)
		}
		sources, err = e.scanZip(b.ID, b.Path)
		if err != nil {
			return nil, nil, err
		}
	} else {
		err = filepath.WalkDir(b.Path, func(p string, d fs.DirEntry, walkErr error) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if walkErr != nil {
				failures = append(failures, model.NewFailure(model.FailureUnreadable, b.ID, p, walkErr))
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if isZip(p) {
				found, err := e.scanZip(b.ID, p)
				if err != nil {
					failures = append(failures, model.NewFailure(model.FailureUnreadable, b.ID, p, err))
					return nil
				}
				sources = append(sources, found...)
				return nil
			}
			fam, ok := e.family(p)
			if !ok {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				failures = append(failures, model.NewFailure(model.FailureUnreadable, b.ID, p, err))
				return nil
			}
			sum, err := digest(p)
			if err != nil {
				failures = append(failures, model.NewFailure(model.FailureUnreadable, b.ID, p, err))
				return nil
			}
			sources = append(sources, Source{
				Batch:    b.ID,
				Family:   fam,
				Path:     p,
				Size:     fi.Size(),
				Checksum: sum,
				FileDate: fileDate(p),
			})
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
	e.log.Debug(ctx, "discovered sources",
		logger.String("batch", b.ID),
		logger.Int("sources", len(sources)),
		logger.Int("failures", len(failures)),
	)
	return sources, failures, nil
}

// digest streams a file through xxhash64.
func digest(p string) (uint64, error) {
	f, err := os.Open(p)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

func isZip(p string) bool { return strings.EqualFold(filepath.Ext(p), ".zip") }

func (e *Extractor) scanZip(batch, archive string) ([]Source, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableSource, archive, err)
	}
	defer zr.Close()

	var out []Source
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		fam, ok := e.family(f.Name)
		if !ok {
			continue
		}
		out = append(out, Source{
			Batch:    batch,
			Family:   fam,
			Path:     archive + "!" + f.Name,
			Archive:  archive,
			Member:   f.Name,
			Size:     int64(f.UncompressedSize64),
			Checksum: uint64(f.CRC32),
			FileDate: fileDate(f.Name),
		})
	}
	return out, nil
}

// Parse reads and decodes one source. Errors wrap model.ErrMalformedFile
// for content problems and ErrUnreadableSource for I/O problems.
func (e *Extractor) Parse(ctx context.Context, src Source) ([]model.RawSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(rc)
	closeErr := rc.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableSource, src.Path, err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableSource, src.Path, closeErr)
	}

	p := &fileParser{src: src, aliases: e.aliases}
	if src.Family.tabular() {
		err = p.parseCSV(data)
	} else {
		err = p.parseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrMalformedFile, src.Path, err)
	}
	return p.out, nil
}

// Failure classifies a Parse error for the run report.
func Failure(src Source, err error) model.Failure {
	kind := model.FailureMalformedFile
	if errors.Is(err, ErrUnreadableSource) {
		kind = model.FailureUnreadable
	}
	return model.NewFailure(kind, src.Batch, src.Path, err)
}

// Samples lazily yields one Record per source of the batch, holding only
// one file's content at a time. Each call restarts discovery.
func (e *Extractor) Samples(ctx context.Context, b model.Batch) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		sources, failures, err := e.Discover(ctx, b)
		if err != nil {
			f := model.NewFailure(model.FailureUnreadable, b.ID, b.Path, err)
			yield(Record{Source: Source{Batch: b.ID, Path: b.Path}, Failure: &f})
			return
		}
		for i := range failures {
			if !yield(Record{Source: Source{Batch: b.ID, Path: failures[i].Path}, Failure: &failures[i]}) {
				return
			}
		}
		for _, src := range sources {
			if ctx.Err() != nil {
				return
			}
			samples, err := e.Parse(ctx, src)
			rec := Record{Source: src, Samples: samples}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				f := Failure(src, err)
				rec.Failure = &f
				e.log.Warn(ctx, "skipped file", logger.String("path", src.Path), logger.Error(err))
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// Fingerprint summarizes a batch's matched sources by name, size and
// content checksum. An unchanged fingerprint means a re-run would read the
// same bytes.
func Fingerprint(sources []Source) string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Path + "\x00" + strconv.FormatInt(s.Size, 10) + "\x00" + strconv.FormatUint(s.Checksum, 16)
	}
	sort.Strings(names)
	h := xxhash.New()
	for _, n := range names {
		_, _ = h.WriteString(n)
		_, _ = h.WriteString("\n")
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
