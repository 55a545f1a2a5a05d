// Copyright 2025 The vvbuild Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeGitHub serves the subset of the releases API the store uses.
type fakeGitHub struct {
	mu       sync.Mutex
	releases map[string]*ghRelease
	assets   map[int64][]ghAsset
	bodies   map[string]string
	creates  int
	// raceCreate makes the first create fail as if another client won.
	raceCreate bool
	// hideAssets makes asset listings come back empty, as if another
	// uploader attached an asset after the listing.
	hideAssets bool
	// rejectUpload fails uploads of this name with a validation error.
	rejectUpload string
	auth         []string
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		releases: map[string]*ghRelease{},
		assets:   map[int64][]ghAsset{},
		bodies:   map[string]string{},
	}
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))

	const prefix = "/repos/VOICEVOX/voicevox_core/releases"
	path := strings.TrimPrefix(r.URL.Path, prefix)
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/tags/"):
		rel, ok := f.releases[strings.TrimPrefix(path, "/tags/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(rel)
	case r.Method == http.MethodPost && path == "":
		var in struct {
			TagName    string `json:"tag_name"`
			Prerelease bool   `json:"prerelease"`
		}
		json.NewDecoder(r.Body).Decode(&in)
		f.creates++
		rel := &ghRelease{ID: int64(len(f.releases) + 1), TagName: in.TagName, Prerelease: in.Prerelease}
		if _, exists := f.releases[in.TagName]; exists || f.raceCreate {
			f.raceCreate = false
			f.releases[in.TagName] = rel
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"message":"Validation Failed","errors":[{"code":"already_exists"}]}`)
			return
		}
		f.releases[in.TagName] = rel
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(rel)
	case strings.HasSuffix(path, "/assets"):
		var id int64
		fmt.Sscanf(path, "/%d/assets", &id)
		if r.Method == http.MethodGet {
			if f.hideAssets {
				fmt.Fprint(w, "[]")
				return
			}
			json.NewEncoder(w).Encode(append([]ghAsset{}, f.assets[id]...))
			return
		}
		name := r.URL.Query().Get("name")
		if name == f.rejectUpload {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"message":"Validation Failed","errors":[{"resource":"ReleaseAsset","code":"custom","field":"name"}]}`)
			return
		}
		for _, a := range f.assets[id] {
			if a.Name == name {
				w.WriteHeader(http.StatusUnprocessableEntity)
				fmt.Fprint(w, `{"message":"Validation Failed","errors":[{"resource":"ReleaseAsset","code":"already_exists","field":"name"}]}`)
				return
			}
		}
		data, _ := io.ReadAll(r.Body)
		f.bodies[name] = string(data)
		f.assets[id] = append(f.assets[id], ghAsset{ID: int64(len(f.bodies)), Name: name})
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(f.assets[id][len(f.assets[id])-1])
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusTeapot)
	}
}

func newTestStore(t *testing.T, f *fakeGitHub) *GitHubStore {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	s, err := NewGitHubStore("VOICEVOX/voicevox_core", "secret", WithEndpoints(srv.URL, srv.URL+"/"), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func tempAsset(t *testing.T, name, content string) Asset {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return NewAsset(p, "linux-x64-cpu")
}

func TestGitHubStore_Upload(t *testing.T) {
	f := newFakeGitHub()
	s := newTestStore(t, f)
	ctx := context.Background()

	if err := s.EnsureRelease(ctx, "0.14.0", true); err != nil {
		t.Fatalf("EnsureRelease: %v", err)
	}
	if rel := f.releases["0.14.0"]; rel == nil || !rel.Prerelease {
		t.Fatalf("release = %+v, want prerelease", rel)
	}

	a := tempAsset(t, "voicevox_core-linux-x64-cpu-0.14.0.zip", "zipdata")
	if err := s.Upload(ctx, "0.14.0", a); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got := f.bodies[a.Name]; got != "zipdata" {
		t.Errorf("uploaded body = %q", got)
	}
	// Re-uploading the same name is a no-op.
	if err := s.Upload(ctx, "0.14.0", a); err != nil {
		t.Fatalf("second Upload: %v", err)
	}
	if n := len(f.assets[f.releases["0.14.0"].ID]); n != 1 {
		t.Errorf("release holds %d assets, want 1", n)
	}
	for _, h := range f.auth {
		if h != "Bearer secret" {
			t.Fatalf("Authorization = %q", h)
		}
	}
}

func TestGitHubStore_ExistingRelease(t *testing.T) {
	f := newFakeGitHub()
	f.releases["0.14.0"] = &ghRelease{ID: 7, TagName: "0.14.0", Prerelease: true}
	s := newTestStore(t, f)

	if err := s.EnsureRelease(context.Background(), "0.14.0", true); err != nil {
		t.Fatal(err)
	}
	if f.creates != 0 {
		t.Errorf("created %d releases for an existing tag", f.creates)
	}
}

func TestGitHubStore_CreateRace(t *testing.T) {
	f := newFakeGitHub()
	f.raceCreate = true
	s := newTestStore(t, f)

	if err := s.EnsureRelease(context.Background(), "0.14.0", true); err != nil {
		t.Fatalf("EnsureRelease after lost race: %v", err)
	}
	if err := s.Upload(context.Background(), "0.14.0", tempAsset(t, "a.whl", "w")); err != nil {
		t.Fatal(err)
	}
}

func TestGitHubStore_UploadLostRace(t *testing.T) {
	f := newFakeGitHub()
	s := newTestStore(t, f)
	ctx := context.Background()
	if err := s.EnsureRelease(ctx, "0.14.0", true); err != nil {
		t.Fatal(err)
	}
	a := tempAsset(t, "download.sh", "sh")
	if err := s.Upload(ctx, "0.14.0", a); err != nil {
		t.Fatal(err)
	}

	f.hideAssets = true
	if err := s.Upload(ctx, "0.14.0", a); err != nil {
		t.Fatalf("duplicate upload: %v", err)
	}
}

func TestGitHubStore_UploadValidationFailure(t *testing.T) {
	f := newFakeGitHub()
	f.rejectUpload = "bad.zip"
	s := newTestStore(t, f)
	ctx := context.Background()
	if err := s.EnsureRelease(ctx, "0.14.0", true); err != nil {
		t.Fatal(err)
	}
	err := s.Upload(ctx, "0.14.0", tempAsset(t, "bad.zip", "z"))
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("err = %v, want status 422", err)
	}
}

func TestGitHubStore_UploadNeverCreatesRelease(t *testing.T) {
	f := newFakeGitHub()
	s := newTestStore(t, f)
	ctx := context.Background()

	if err := s.Upload(ctx, "0.14.0", tempAsset(t, "a.zip", "z")); err == nil {
		t.Fatal("upload to a missing release succeeded")
	}
	if f.creates != 0 {
		t.Errorf("Upload created %d releases", f.creates)
	}

	// An existing release is used as is, whatever its prerelease flag.
	f.releases["0.13.0"] = &ghRelease{ID: 9, TagName: "0.13.0"}
	if err := s.Upload(ctx, "0.13.0", tempAsset(t, "b.zip", "z")); err != nil {
		t.Fatal(err)
	}
	if f.creates != 0 || f.releases["0.13.0"].Prerelease {
		t.Errorf("release changed: creates=%d %+v", f.creates, f.releases["0.13.0"])
	}
	if len(f.assets[9]) != 1 {
		t.Errorf("release holds %d assets, want 1", len(f.assets[9]))
	}
}

func TestGitHubStore_EnsureReleaseFlag(t *testing.T) {
	f := newFakeGitHub()
	s := newTestStore(t, f)
	if err := s.EnsureRelease(context.Background(), "0.14.0", false); err != nil {
		t.Fatal(err)
	}
	if rel := f.releases["0.14.0"]; rel == nil || rel.Prerelease {
		t.Errorf("release = %+v, want a full release", rel)
	}
}

func TestGitHubStore_ConcurrentUploads(t *testing.T) {
	f := newFakeGitHub()
	s := newTestStore(t, f)
	p := &Publisher{Store: s, Gate: true}
	ctx := context.Background()

	assets := []Asset{
		tempAsset(t, "voicevox_core-0.14.0+cpu-cp38-abi3-linux_x86_64.whl", "cpu"),
		tempAsset(t, "voicevox_core-0.14.0+cuda-cp38-abi3-linux_x86_64.whl", "cuda"),
		tempAsset(t, "voicevox_core-linux-x64-cpu-0.14.0.zip", "zip"),
	}
	var wg sync.WaitGroup
	errs := make([]error, len(assets))
	for i, a := range assets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = p.Publish(ctx, mustVersion("0.14.0"), a)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if f.creates != 1 {
		t.Errorf("release created %d times, want 1", f.creates)
	}
	if len(f.bodies) != 3 {
		t.Errorf("uploaded %d assets, want 3", len(f.bodies))
	}
}

func TestGitHubStore_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	s, err := NewGitHubStore("VOICEVOX/voicevox_core", "secret", WithEndpoints(srv.URL, srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	err = s.EnsureRelease(context.Background(), "0.14.0", true)
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("err = %v, want status 500", err)
	}
}

func TestNewGitHubStore_Invalid(t *testing.T) {
	for _, tt := range []struct{ repo, token string }{
		{"", "t"},
		{"voicevox_core", "t"},
		{"a/b/c", "t"},
		{"VOICEVOX/voicevox_core", ""},
	} {
		if _, err := NewGitHubStore(tt.repo, tt.token); err == nil {
			t.Errorf("NewGitHubStore(%q, %q) succeeded", tt.repo, tt.token)
		}
	}
}
