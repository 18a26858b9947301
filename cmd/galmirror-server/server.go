package main

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	sglog "github.com/sourcegraph/log"

	"github.com/sunpetal/galmirror"
	"github.com/sunpetal/galmirror/mirror"
)

// apiServer is the public HTTP surface: a dashboard, the status record and
// read access to mirrored galleryinfo records.
type apiServer struct {
	logger  sglog.Logger
	task    *mirror.Task
	gallery galmirror.GalleryinfoStore
}

func (s *apiServer) addHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /healthz", s.handleHealthCheck)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/galleryinfo/{id}", s.handleGalleryinfo)
}

func (s *apiServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	// Nothing to do. Just return 200
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.task.Status()); err != nil {
		s.logger.Error("encoding status", sglog.Error(err))
	}
}

func (s *apiServer) handleGalleryinfo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid gallery id")
		return
	}

	g, err := s.gallery.Galleryinfo(r.Context(), galmirror.ID(id))
	if errors.Is(err, galmirror.ErrGalleryinfoNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("loading galleryinfo", sglog.Int64("id", id), sglog.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(g)
}

func respondError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}

var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<html>
<head><title>galmirror</title></head>
<body>
<h1>galmirror {{.Version}}</h1>
<table>
<tr><td>index files</td><td>{{range .Status.IndexFiles}}{{.}} {{end}}</td></tr>
<tr><td>total items</td><td>{{.Status.TotalItems}}</td></tr>
<tr><td>batches</td><td>{{.Status.BatchCompleted}} / {{.Status.BatchTotal}}</td></tr>
<tr><td>items processed</td><td>{{.Status.ItemsProcessed}}</td></tr>
<tr><td>mirroring galleryinfo</td><td>{{.Status.IsMirroringGalleryinfo}}</td></tr>
<tr><td>converting to info</td><td>{{.Status.IsConvertingToInfo}}</td></tr>
<tr><td>checking integrity</td><td>{{.Status.IsCheckingIntegrity}}</td></tr>
<tr><td>last checked at</td><td>{{.Status.LastCheckedAt}}</td></tr>
<tr><td>last mirrored at</td><td>{{.Status.LastMirroredAt}}</td></tr>
</table>
<p><a href="/api/status">status</a> | <a href="/debug">debug</a></p>
</body>
</html>
`))

func (s *apiServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Version string
		Status  mirror.Status
	}{
		Version: galmirror.Version,
		Status:  s.task.Status(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, data); err != nil {
		s.logger.Error("rendering dashboard", sglog.Error(err))
	}
}
