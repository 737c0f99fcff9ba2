package handlers

import (
	"net/http"
	"strings"
)

// UploadHandler serves files written by the local media store.
type UploadHandler struct {
	files http.Handler
}

func NewUploadHandler(dir string) *UploadHandler {
	return &UploadHandler{files: http.FileServer(http.Dir(dir))}
}

// Serve godoc
// GET /api/uploads/{name}
// Only flat file names are served; anything containing a separator is 404.
func (h *UploadHandler) Serve(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" || strings.ContainsAny(name, `/\`) || name == ".." {
		http.NotFound(w, r)
		return
	}

	r2 := r.Clone(r.Context())
	r2.URL.Path = "/" + name
	h.files.ServeHTTP(w, r2)
}
