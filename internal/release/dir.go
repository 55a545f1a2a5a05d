package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// IndexFile is the DirStore index file name.
const IndexFile = "release.yaml"

// Index is the content of a DirStore index.
type Index struct {
	Releases []*IndexRelease `yaml:"releases"`
}

// IndexRelease is one release in a DirStore.
type IndexRelease struct {
	Tag        string       `yaml:"tag"`
	Prerelease bool         `yaml:"prerelease"`
	Assets     []IndexAsset `yaml:"assets,omitempty"`
}

// IndexAsset is one uploaded file.
type IndexAsset struct {
	Name   string `yaml:"name"`
	Target string `yaml:"target,omitempty"`
	Size   int64  `yaml:"size"`
}

func (idx *Index) release(tag string) *IndexRelease {
	for _, r := range idx.Releases {
		if r.Tag == tag {
			return r
		}
	}
	return nil
}

// DirStore is a release store on the local filesystem. Assets live under
// <root>/<tag>/ and the index at <root>/release.yaml.
type DirStore struct {
	root string
	mu   sync.Mutex
}

// NewDirStore creates a store rooted at root.
func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

// Root returns the store directory.
func (s *DirStore) Root() string { return s.root }

// ReadIndex loads the index; a missing index is empty.
func (s *DirStore) ReadIndex() (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndex()
}

func (s *DirStore) readIndex() (*Index, error) {
	data, err := os.ReadFile(filepath.Join(s.root, IndexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return &Index{}, nil
	}
	if err != nil {
		return nil, err
	}
	idx := &Index{}
	if err := yaml.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("%s: %w", IndexFile, err)
	}
	return idx, nil
}

func (s *DirStore) writeIndex(idx *Index) error {
	sort.Slice(idx.Releases, func(i, j int) bool { return idx.Releases[i].Tag < idx.Releases[j].Tag })
	data, err := yaml.Marshal(idx)
	if err != nil {
		return err
	}
	tmp := filepath.Join(s.root, IndexFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.root, IndexFile))
}

// EnsureRelease records the release for tag if it is not known yet.
func (s *DirStore) EnsureRelease(_ context.Context, tag string, prerelease bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Join(s.root, tag), 0o755); err != nil {
		return err
	}
	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	if idx.release(tag) != nil {
		return nil
	}
	idx.Releases = append(idx.Releases, &IndexRelease{Tag: tag, Prerelease: prerelease})
	return s.writeIndex(idx)
}

// Upload copies a into the release directory. An asset already recorded
// under the same name is left alone.
func (s *DirStore) Upload(ctx context.Context, tag string, a Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	rel := idx.release(tag)
	if rel == nil {
		return fmt.Errorf("dirstore: no release %s", tag)
	}
	for _, e := range rel.Assets {
		if e.Name == a.Name {
			return nil
		}
	}

	n, err := copyAsset(ctx, a.Path, filepath.Join(s.root, tag, a.Name))
	if err != nil {
		return err
	}
	rel.Assets = append(rel.Assets, IndexAsset{Name: a.Name, Target: a.Target, Size: n})
	sort.Slice(rel.Assets, func(i, j int) bool { return rel.Assets[i].Name < rel.Assets[j].Name })
	return s.writeIndex(idx)
}

func copyAsset(ctx context.Context, src, dst string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return 0, err
	}
	return n, out.Close()
}
