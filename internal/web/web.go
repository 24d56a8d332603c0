// Package web serves the order form and the admin page.
package web

import (
	"embed"
	"net/http"
)

//go:embed static/*.html
var static embed.FS

func RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", page("static/index.html"))
	mux.HandleFunc("GET /admin", page("static/admin.html"))
}

func page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := static.ReadFile(name)
		if err != nil {
			http.Error(w, "page not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(data)
	}
}
