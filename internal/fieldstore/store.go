// Package fieldstore persists gridded input datasets and result bundles in a
// directory tree.
//
// A dataset for valid time T lives in <root>/<YYYY-MM-DD>/<HHMM>/ (UTC) with a
// grid.json descriptor and one <name>.f32.zst blob per field. A bundle lives in
// <root>/<name>/ with one blob per output field and a bundle.json carrying its
// provenance. Blobs are row-major little-endian float32, zstd-compressed.
package fieldstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"chromasky/internal/glow"
	"chromasky/internal/grid"
	"chromasky/internal/types"
)

const (
	gridFile   = "grid.json"
	bundleFile = "bundle.json"
	blobSuffix = ".f32.zst"

	dateLayout = "2006-01-02"
	hourLayout = "1504"
)

// gridDescriptor is the on-disk form of grid.json.
type gridDescriptor struct {
	Lats      []float64 `json:"lat"`
	Lons      []float64 `json:"lon"`
	ValidTime time.Time `json:"valid_time"`
	Fields    []string  `json:"fields,omitempty"`
}

// bundleDescriptor is the on-disk form of bundle.json.
type bundleDescriptor struct {
	RunID      string         `json:"run_id"`
	Kind       string         `json:"kind"`
	Target     time.Time      `json:"target"`
	ValidTime  time.Time      `json:"valid_time"`
	ComputedAt time.Time      `json:"computed_at"`
	Factors    []types.Factor `json:"factors"`
	Fields     []string       `json:"fields"`
	Lats       []float64      `json:"lat"`
	Lons       []float64      `json:"lon"`
	Stats      glow.Stats     `json:"stats"`
}

// Store reads and writes datasets and bundles under a root directory.
type Store struct {
	root   string
	codec  *codec
	logger *slog.Logger
}

// New creates a Store rooted at root. The directory is not created until the
// first write.
func New(root string, logger *slog.Logger) *Store {
	return &Store{root: root, codec: newCodec(), logger: logger}
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// DatasetDir returns the directory holding the dataset valid at t.
func (s *Store) DatasetDir(t time.Time) string {
	t = t.UTC()
	return filepath.Join(s.root, t.Format(dateLayout), t.Format(hourLayout))
}

// BundleDir returns the directory holding the named bundle.
func (s *Store) BundleDir(name string) string {
	return filepath.Join(s.root, name)
}

// LoadDataset reads the named fields of the dataset valid at t. With no names,
// every field listed in grid.json is loaded.
func (s *Store) LoadDataset(ctx context.Context, t time.Time, names ...string) (*grid.Dataset, error) {
	dir := s.DatasetDir(t)

	var desc gridDescriptor
	if err := readJSON(filepath.Join(dir, gridFile), &desc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundDataset,
				fmt.Sprintf("no dataset valid at %s", t.UTC().Format(time.RFC3339)), err,
				map[string]any{"dir": dir})
		}
		return nil, types.NewAppError(types.ErrCodeInternalFieldCorruption,
			fmt.Sprintf("reading %s", filepath.Join(dir, gridFile)), err)
	}

	g, err := grid.NewGrid(desc.Lats, desc.Lons)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalFieldCorruption,
			fmt.Sprintf("grid descriptor in %s is invalid", dir), err)
	}
	if len(names) == 0 {
		names = desc.Fields
	}

	fields := make([]*grid.Field, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vals, err := s.readBlob(filepath.Join(dir, name+blobSuffix), g.Size())
		if err != nil {
			return nil, err
		}
		wide := make([]float64, len(vals))
		for k, v := range vals {
			wide[k] = float64(v)
		}
		f, err := grid.NewField(name, g, desc.ValidTime, wide)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}

	ds, err := grid.NewDataset(fields...)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("dataset loaded",
		"dir", dir,
		"fields", names,
		"rows", g.Rows(),
		"cols", g.Cols(),
	)
	return ds, nil
}

// SaveDataset writes every field of ds under the directory for its valid time.
func (s *Store) SaveDataset(ctx context.Context, ds *grid.Dataset) error {
	dir := s.DatasetDir(ds.ValidTime)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "creating dataset directory", err)
	}

	names := ds.Names()
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, _ := ds.Field(name)
		if err := s.writeBlob(filepath.Join(dir, name+blobSuffix), f.Float32s()); err != nil {
			return err
		}
	}

	return writeJSON(filepath.Join(dir, gridFile), gridDescriptor{
		Lats:      ds.Grid.Lats,
		Lons:      ds.Grid.Lons,
		ValidTime: ds.ValidTime.UTC(),
		Fields:    names,
	})
}

// SaveBundle writes every field of b and its bundle.json under BundleDir(name).
// The descriptor is written last so a readable bundle.json implies complete
// field blobs.
func (s *Store) SaveBundle(ctx context.Context, name string, b *glow.Bundle) (string, error) {
	dir := s.BundleDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalStore, "creating bundle directory", err)
	}

	fields := b.FieldNames()
	for _, field := range fields {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := s.writeBlob(filepath.Join(dir, field+blobSuffix), b.Fields[field]); err != nil {
			return "", err
		}
	}

	err := writeJSON(filepath.Join(dir, bundleFile), bundleDescriptor{
		RunID:      b.RunID,
		Kind:       string(b.Kind),
		Target:     b.Target.UTC(),
		ValidTime:  b.ValidTime.UTC(),
		ComputedAt: b.ComputedAt.UTC(),
		Factors:    b.Factors,
		Fields:     fields,
		Lats:       b.Grid.Lats,
		Lons:       b.Grid.Lons,
		Stats:      b.Stats.Finite(),
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("bundle written",
		"dir", dir,
		"run_id", b.RunID,
		"fields", len(fields),
	)
	return dir, nil
}

// LoadBundle reads a bundle written by SaveBundle. A cell is marked evaluated
// when its final score is not NaN.
func (s *Store) LoadBundle(ctx context.Context, name string) (*glow.Bundle, error) {
	dir := s.BundleDir(name)

	var desc bundleDescriptor
	if err := readJSON(filepath.Join(dir, bundleFile), &desc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundDataset,
				fmt.Sprintf("no bundle named %q", name), err, map[string]any{"dir": dir})
		}
		return nil, types.NewAppError(types.ErrCodeInternalFieldCorruption,
			fmt.Sprintf("reading %s", filepath.Join(dir, bundleFile)), err)
	}

	g, err := grid.NewGrid(desc.Lats, desc.Lons)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalFieldCorruption,
			fmt.Sprintf("bundle grid in %s is invalid", dir), err)
	}

	b := &glow.Bundle{
		RunID:      desc.RunID,
		Grid:       g,
		Fields:     make(map[string][]float32, len(desc.Fields)),
		Evaluated:  grid.NewMask(g.Rows(), g.Cols()),
		Factors:    desc.Factors,
		Kind:       types.EventKind(desc.Kind),
		Target:     desc.Target,
		ComputedAt: desc.ComputedAt,
		ValidTime:  desc.ValidTime,
		Stats:      desc.Stats,
	}
	for _, field := range desc.Fields {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vals, err := s.readBlob(filepath.Join(dir, field+blobSuffix), g.Size())
		if err != nil {
			return nil, err
		}
		b.Fields[field] = vals
	}

	if final, ok := b.Fields[glow.FieldFinalScore]; ok {
		for k, v := range final {
			if !math.IsNaN(float64(v)) {
				b.Evaluated.Set(k/g.Cols(), k%g.Cols(), true)
			}
		}
	}
	return b, nil
}

// CheckReadable verifies the root exists and is a directory.
func (s *Store) CheckReadable(_ context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.root)
	}
	return nil
}

// CheckWritable creates and removes a scratch file under the root.
func (s *Store) CheckWritable(_ context.Context) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(s.root, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func (s *Store) readBlob(path string, want int) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundField,
				fmt.Sprintf("field blob %s does not exist", filepath.Base(path)), err,
				map[string]any{"path": path})
		}
		return nil, types.NewAppError(types.ErrCodeInternalStore, fmt.Sprintf("reading %s", path), err)
	}
	vals, err := s.codec.decode(data, want)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeInternalFieldCorruption,
			fmt.Sprintf("field blob %s is corrupt", filepath.Base(path)), err,
			map[string]any{"path": path})
	}
	return vals, nil
}

func (s *Store) writeBlob(path string, values []float32) error {
	return writeFileAtomic(path, s.codec.encode(values))
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, fmt.Sprintf("encoding %s", filepath.Base(path)), err)
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic writes to a sibling temp file and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, fmt.Sprintf("writing %s", path), err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return types.NewAppError(types.ErrCodeInternalStore, fmt.Sprintf("writing %s", path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return types.NewAppError(types.ErrCodeInternalStore, fmt.Sprintf("writing %s", path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return types.NewAppError(types.ErrCodeInternalStore, fmt.Sprintf("writing %s", path), err)
	}
	return nil
}
