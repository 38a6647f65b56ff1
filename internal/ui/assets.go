// Package ui serves the embedded activity dashboard. The page renders the
// current streams and stays live through /ws/activity.
package ui

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
)

//go:embed static
var staticFiles embed.FS

//go:embed templates/*.html
var templateFiles embed.FS

// UI serves the dashboard page and its static assets.
type UI struct {
	staticFS  fs.FS
	templates *template.Template
	version   string
}

// TemplateData is passed to the page template.
type TemplateData struct {
	Title   string
	Version string
}

// New parses the embedded templates.
func New(version string) (*UI, error) {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, err
	}

	templates, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &UI{
		staticFS:  staticFS,
		templates: templates,
		version:   version,
	}, nil
}

// RegisterRoutes mounts the dashboard at / and its assets under /static/.
func (u *UI) RegisterRoutes(r chi.Router) {
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(u.staticFS))))
	r.Get("/", u.serveIndex)
}

func (u *UI) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	data := TemplateData{
		Title:   "Now Playing",
		Version: u.version,
	}
	if err := u.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
