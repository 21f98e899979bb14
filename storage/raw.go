package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// DefaultLineWidth is the printable width of a TSP100 raster line in bytes.
const DefaultLineWidth = 72

// Extension is appended to every captured job name.
const Extension = ".raw"

// RawStore writes captured jobs as raw files, one fixed-width record per
// block.
type RawStore struct {
	fs    afero.Fs
	dir   string
	width int
}

// NewRawStore creates a store rooted at dir. An empty dir means the working
// directory; a non-positive width falls back to DefaultLineWidth.
func NewRawStore(fs afero.Fs, dir string, width int) *RawStore {
	if dir == "" {
		dir = "."
	}
	if width <= 0 {
		width = DefaultLineWidth
	}
	return &RawStore{fs: fs, dir: dir, width: width}
}

// Dir returns the output directory.
func (s *RawStore) Dir() string { return s.dir }

// Path returns the file a job called name is written to.
func (s *RawStore) Path(name string) string {
	return filepath.Join(s.dir, name+Extension)
}

// Save writes blocks, each right-padded with NUL to the store width, to the
// file for name. An existing file is replaced.
func (s *RawStore) Save(name string, blocks [][]byte) (err error) {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	path := s.Path(name)
	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	w := bufio.NewWriter(f)
	for _, block := range blocks {
		if _, err := w.Write(Pad(block, s.width)); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// List returns the names of the captured jobs in the output directory,
// oldest first.
func (s *RawStore) List() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}
	var names []string
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), Extension) {
			continue
		}
		names = append(names, strings.TrimSuffix(info.Name(), Extension))
	}
	sort.Strings(names)
	return names, nil
}

// Pad right-pads block with NUL bytes to width. Longer blocks are returned
// unchanged.
func Pad(block []byte, width int) []byte {
	if len(block) >= width {
		return block
	}
	out := make([]byte, width)
	copy(out, block)
	return out
}
