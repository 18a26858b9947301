package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sourcegraph/log/logtest"

	"github.com/sunpetal/galmirror"
	"github.com/sunpetal/galmirror/mirror"
)

type stubSource struct{}

func (stubSource) Galleryinfo(ctx context.Context, id galmirror.ID) (*galmirror.Galleryinfo, error) {
	return nil, fmt.Errorf("galleryinfo %d: %w", id, galmirror.ErrGalleryinfoNotFound)
}
func (stubSource) AllIDs(ctx context.Context) ([]galmirror.ID, error) { return nil, nil }
func (stubSource) IndexFiles() []string                               { return []string{"index-english.nozomi"} }

type stubGallery struct {
	galleries map[galmirror.ID]*galmirror.Galleryinfo
}

func (s stubGallery) Galleryinfo(ctx context.Context, id galmirror.ID) (*galmirror.Galleryinfo, error) {
	g, ok := s.galleries[id]
	if !ok {
		return nil, fmt.Errorf("galleryinfo %d: %w", id, galmirror.ErrGalleryinfoNotFound)
	}
	return g, nil
}
func (s stubGallery) Create(ctx context.Context, g *galmirror.Galleryinfo) error { return nil }
func (s stubGallery) Delete(ctx context.Context, id galmirror.ID) error          { return nil }
func (s stubGallery) AllIDs(ctx context.Context) ([]galmirror.ID, error)         { return nil, nil }

type stubInfos struct{}

func (stubInfos) Info(ctx context.Context, id galmirror.ID) (*galmirror.Info, error) {
	return nil, fmt.Errorf("info %d: %w", id, galmirror.ErrInfoNotFound)
}
func (stubInfos) Create(ctx context.Context, info *galmirror.Info) error { return nil }
func (stubInfos) Delete(ctx context.Context, id galmirror.ID) error      { return nil }
func (stubInfos) AllIDs(ctx context.Context) ([]galmirror.ID, error)     { return nil, nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gallery := stubGallery{galleries: map[galmirror.ID]*galmirror.Galleryinfo{
		42: {ID: 42, Title: "sample", Language: "english"},
	}}
	task := mirror.NewTask(logtest.Scoped(t), stubSource{}, gallery, stubInfos{}, true)

	s := &apiServer{logger: logtest.Scoped(t), task: task, gallery: gallery}
	mux := http.NewServeMux()
	s.addHandlers(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestHandleStatus(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}

	var status struct {
		IndexFiles []string `json:"index_files"`
		TotalItems int      `json:"total_items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if len(status.IndexFiles) != 1 || status.IndexFiles[0] != "index-english.nozomi" {
		t.Errorf("index_files = %v", status.IndexFiles)
	}
}

func TestHandleGalleryinfo(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/galleryinfo/42")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}

	var g galmirror.Galleryinfo
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		t.Fatal(err)
	}
	if g.ID != 42 || g.Title != "sample" {
		t.Errorf("got %+v", g)
	}
}

func TestHandleGalleryinfoNotFound(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/galleryinfo/7")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["message"] == "" {
		t.Error("404 body must carry a message")
	}
}

func TestHandleGalleryinfoBadID(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/galleryinfo/notanumber")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", resp.StatusCode)
	}
}

func TestHandleDashboard(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content-type = %q", ct)
	}
}

func TestHandleHealthz(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
}
