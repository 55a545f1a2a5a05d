// Copyright 2025 The vvbuild Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package release

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	defaultAPIURL    = "https://api.github.com"
	defaultUploadURL = "https://uploads.github.com"
)

// errNotFound is returned by the REST helpers for 404 responses.
var errNotFound = errors.New("not found")

// GitHubStore publishes to GitHub Releases through the REST API.
type GitHubStore struct {
	repo      string // owner/name
	token     string
	apiURL    string
	uploadURL string
	client    *http.Client

	mu       sync.Mutex
	releases map[string]int64 // tag -> release id
}

// GitHubOption configures a GitHubStore.
type GitHubOption func(*GitHubStore)

// WithEndpoints overrides the API and upload base URLs.
func WithEndpoints(api, upload string) GitHubOption {
	return func(s *GitHubStore) {
		s.apiURL = strings.TrimSuffix(api, "/")
		s.uploadURL = strings.TrimSuffix(upload, "/")
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) GitHubOption {
	return func(s *GitHubStore) { s.client = c }
}

// NewGitHubStore creates a store for repo ("owner/name") authenticated with
// token.
func NewGitHubStore(repo, token string, opts ...GitHubOption) (*GitHubStore, error) {
	if owner, name, ok := strings.Cut(repo, "/"); !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("github: invalid repository %q, want owner/name", repo)
	}
	if token == "" {
		return nil, errors.New("github: no token")
	}
	s := &GitHubStore{
		repo:      repo,
		token:     token,
		apiURL:    defaultAPIURL,
		uploadURL: defaultUploadURL,
		client:    &http.Client{Timeout: 10 * time.Minute},
		releases:  make(map[string]int64),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

type ghRelease struct {
	ID         int64  `json:"id"`
	TagName    string `json:"tag_name"`
	Prerelease bool   `json:"prerelease"`
}

type ghAsset struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// EnsureRelease finds or creates the release for tag. A creation that loses a
// race against another uploader falls back to the existing release.
func (s *GitHubStore) EnsureRelease(ctx context.Context, tag string, prerelease bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.releases[tag]; ok {
		return nil
	}

	rel, err := s.getRelease(ctx, tag)
	if errors.Is(err, errNotFound) {
		body := map[string]any{"tag_name": tag, "name": tag, "prerelease": prerelease}
		err = s.do(ctx, http.MethodPost, s.apiURL+"/repos/"+s.repo+"/releases", body, &rel)
		if alreadyExists(err) {
			rel, err = s.getRelease(ctx, tag)
		}
	}
	if err != nil {
		return fmt.Errorf("github: release %s: %w", tag, err)
	}
	s.releases[tag] = rel.ID
	return nil
}

// releaseID returns the ID of the existing release for tag. It never creates
// one.
func (s *GitHubStore) releaseID(ctx context.Context, tag string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.releases[tag]; ok {
		return id, nil
	}
	rel, err := s.getRelease(ctx, tag)
	if err != nil {
		return 0, fmt.Errorf("github: release %s: %w", tag, err)
	}
	s.releases[tag] = rel.ID
	return rel.ID, nil
}

func (s *GitHubStore) getRelease(ctx context.Context, tag string) (ghRelease, error) {
	var rel ghRelease
	err := s.do(ctx, http.MethodGet, s.apiURL+"/repos/"+s.repo+"/releases/tags/"+url.PathEscape(tag), nil, &rel)
	return rel, err
}

// Upload attaches a to the release for tag, which must exist. An asset with
// the same name that is already attached is left alone.
func (s *GitHubStore) Upload(ctx context.Context, tag string, a Asset) error {
	id, err := s.releaseID(ctx, tag)
	if err != nil {
		return err
	}

	var existing []ghAsset
	if err := s.do(ctx, http.MethodGet, fmt.Sprintf("%s/repos/%s/releases/%d/assets?per_page=100", s.apiURL, s.repo, id), nil, &existing); err != nil {
		return fmt.Errorf("github: list assets: %w", err)
	}
	for _, e := range existing {
		if e.Name == a.Name {
			return nil
		}
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	u := fmt.Sprintf("%s/repos/%s/releases/%d/assets?name=%s", s.uploadURL, s.repo, id, url.QueryEscape(a.Name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, f)
	if err != nil {
		return err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := s.send(req)
	if err != nil {
		return fmt.Errorf("github: upload %s: %w", a.Name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		return nil
	}
	err = readStatus(resp)
	if alreadyExists(err) {
		// Another uploader attached the same name first.
		return nil
	}
	return fmt.Errorf("github: upload %s: %w", a.Name, err)
}

// alreadyExists reports whether err is a validation failure caused only by
// a duplicate name.
func alreadyExists(err error) bool {
	var se *statusError
	if !errors.As(err, &se) || se.Code != http.StatusUnprocessableEntity {
		return false
	}
	var body struct {
		Errors []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}
	if json.Unmarshal([]byte(se.Body), &body) != nil || len(body.Errors) == 0 {
		return false
	}
	for _, e := range body.Errors {
		if e.Code != "already_exists" {
			return false
		}
	}
	return true
}

type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func (s *GitHubStore) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode/100 != 2 {
		return readStatus(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *GitHubStore) send(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	return s.client.Do(req)
}

func readStatus(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
}
