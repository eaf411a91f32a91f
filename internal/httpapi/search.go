package httpapi

import (
	"net/http"
)

// scriptSummary is the shape a search hit is rendered as: enough to locate
// and describe the script without shipping its code.
type scriptSummary struct {
	Org         string `json:"org"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
}

// handleSearch answers GET|POST /search?q=<query> with the latest version
// of every namespace matching q (spec §6, §4.1).
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query().Get("q")
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil && q == "" {
			q = r.FormValue("q")
		}
	}
	if q == "" {
		writeJSON(w, http.StatusOK, map[string]any{"query": "", "results": []scriptSummary{}})
		return
	}

	idx := s.searchIndex()
	namespaces := idx.Query(q)
	latest := s.Catalog.LatestAll()

	results := make([]scriptSummary, 0, len(namespaces))
	for _, ns := range namespaces {
		sc, ok := latest[ns]
		if !ok {
			continue
		}
		results = append(results, scriptSummary{
			Org:         sc.Org,
			Name:        sc.Name,
			Version:     sc.Version,
			Title:       sc.Metadata.Title,
			Description: sc.Metadata.Description,
			URL:         "/" + sc.Org + "/" + sc.Name + "/" + sc.Version,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"query": q, "results": results})
}
