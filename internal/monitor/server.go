// Package monitor exposes stored scans and alignment results to the
// visualization layer: JSON for the UI, rendered charts for quick debugging.
// It is a pure consumer of the analysis output; nothing feeds back.
package monitor

import (
	"net/http"

	"github.com/jvietorisz/BeamAlignment/internal/analysis"
	"github.com/jvietorisz/BeamAlignment/internal/httputil"
	"github.com/jvietorisz/BeamAlignment/internal/scan"
	"github.com/jvietorisz/BeamAlignment/internal/scandb"
)

// Server serves the read-only scan API.
type Server struct {
	db *scandb.DB
}

// NewServer creates a Server backed by db.
func NewServer(db *scandb.DB) *Server {
	return &Server{db: db}
}

// ServeMux returns the route table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/scans", s.handleListScans)
	mux.HandleFunc("/api/scan", s.handleScan)
	mux.HandleFunc("/api/scan/result", s.handleResult)
	mux.HandleFunc("/debug/surface", s.handleSurfaceChart)
	mux.HandleFunc("/", s.handleHome)
	return mux
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Beam Alignment Monitor\n"))
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	metas, err := s.db.ListScans()
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, metas)
}

// scanResponse is the read-only export of one scan: its configuration, the
// reconstructed power grid, and the stored result when one exists.
type scanResponse struct {
	Meta    scan.Config      `json:"config"`
	ScanID  string           `json:"scan_id"`
	Partial bool             `json:"partial"`
	Power   [][]float64      `json:"power"`
	Result  *analysis.Result `json:"result,omitempty"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	scanID := r.URL.Query().Get("scan_id")
	if scanID == "" {
		httputil.WriteJSONError(w, http.StatusBadRequest, "missing 'scan_id' parameter")
		return
	}
	rec, err := s.db.LoadScan(scanID)
	if err != nil {
		httputil.NotFound(w, "no such scan")
		return
	}

	resp := scanResponse{
		Meta:    rec.Config(),
		ScanID:  rec.ScanID(),
		Partial: rec.Partial(),
		Power:   analysis.NewSurface(rec).Power,
	}
	if res, err := s.db.LoadResult(scanID); err == nil {
		resp.Result = &res
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	scanID := r.URL.Query().Get("scan_id")
	if scanID == "" {
		httputil.WriteJSONError(w, http.StatusBadRequest, "missing 'scan_id' parameter")
		return
	}
	res, err := s.db.LoadResult(scanID)
	if err != nil {
		httputil.NotFound(w, "no result for scan")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
