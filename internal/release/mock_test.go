package release

import (
	"context"
	"sync"

	"github.com/goplus/vvbuild/internal/version"
)

type call struct {
	op         string
	tag        string
	asset      string
	prerelease bool
}

// fakeStore records calls and keeps assets by name per tag.
type fakeStore struct {
	mu         sync.Mutex
	calls      []call
	assets     map[string]map[string]Asset
	ensureErr  error
	uploadErrs map[string]error // by asset name
}

func newFakeStore() *fakeStore {
	return &fakeStore{assets: map[string]map[string]Asset{}, uploadErrs: map[string]error{}}
}

func (s *fakeStore) EnsureRelease(_ context.Context, tag string, prerelease bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{op: "ensure", tag: tag, prerelease: prerelease})
	if s.ensureErr != nil {
		return s.ensureErr
	}
	if s.assets[tag] == nil {
		s.assets[tag] = map[string]Asset{}
	}
	return nil
}

func (s *fakeStore) Upload(_ context.Context, tag string, a Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{op: "upload", tag: tag, asset: a.Name})
	if err := s.uploadErrs[a.Name]; err != nil {
		return err
	}
	if _, ok := s.assets[tag][a.Name]; !ok {
		s.assets[tag][a.Name] = a
	}
	return nil
}

func (s *fakeStore) uploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, c := range s.calls {
		if c.op == "upload" {
			names = append(names, c.asset)
		}
	}
	return names
}

func mustVersion(s string) version.Version { return version.MustParse(s) }
