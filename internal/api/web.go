package api

import (
	_ "embed"
	"net/http"
)

//go:embed widget.html
var widgetHTML []byte

// handleWidget serves the bundled single-page chat client.
func handleWidget(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(widgetHTML)
}
