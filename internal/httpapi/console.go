package httpapi

import (
	"embed"
	"html/template"
	"net/http"
)

//go:embed templates/*.html
var templatesFS embed.FS

type loginPage struct {
	Error string
}

func parsePages() *template.Template {
	return template.Must(template.ParseFS(templatesFS, "templates/*.html"))
}

func (a *API) renderPage(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("content-type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := a.pages.ExecuteTemplate(w, name, data); err != nil {
		a.log.Error("render page", "page", name, "err", err)
	}
}

func (a *API) handleConsole(w http.ResponseWriter, r *http.Request) {
	a.renderPage(w, http.StatusOK, "admin.html", nil)
}
