// Package server exposes the printer pipeline over plain HTTP for the
// rendering front-end. Handlers are thin: decode the request, call into
// the manager or orchestrator, map the result to JSON.
package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kushan-developer/thermal-printer/internal/job"
	"github.com/kushan-developer/thermal-printer/internal/manager"
	"github.com/kushan-developer/thermal-printer/internal/model"
	"github.com/kushan-developer/thermal-printer/internal/profile"
	"github.com/kushan-developer/thermal-printer/internal/raster"
	"github.com/kushan-developer/thermal-printer/internal/registry"
	"github.com/kushan-developer/thermal-printer/internal/transport"
)

type Server struct {
	Manager    *manager.Manager
	Jobs       *job.Orchestrator
	Repository *registry.Repository
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /printers", s.handleGetPrinters)
	mux.HandleFunc("POST /printers/stop", s.handleStopScan)
	mux.HandleFunc("POST /printers/paper", s.handleSetPaper)
	mux.HandleFunc("POST /connect", s.handleConnect)
	mux.HandleFunc("POST /disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /print", s.handlePrint)
	mux.HandleFunc("POST /print/raw", s.handlePrintRaw)
	mux.HandleFunc("GET /radio", s.handleGetRadio)
	mux.HandleFunc("POST /radio/on", s.handleRadioOn)
	mux.HandleFunc("GET /jobs", s.handleGetJobs)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Couldn't write response", "err", err)
	}
}

func (s *Server) handleGetPrinters(w http.ResponseWriter, r *http.Request) {
	refresh := 5 * time.Second
	if raw := r.URL.Query().Get("refresh"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			http.Error(w, "invalid refresh duration", http.StatusBadRequest)
			return
		}
		refresh = d
	}

	var types []transport.Type
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			types = append(types, transport.Type(t))
		}
	}
	fineLocation := r.URL.Query().Get("fineLocation") == "true"

	printers, err := s.Manager.GetPrinters(r.Context(), refresh, types, fineLocation)
	if err != nil {
		if errors.Is(err, transport.ErrScanPermission) {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		slog.Error("Discovery scan failed", "err", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	s.rememberPrinters(printers)
	writeJSON(w, http.StatusOK, model.FromPrinters(printers))
}

func (s *Server) rememberPrinters(printers []manager.Printer) {
	if s.Repository == nil {
		return
	}
	now := time.Now()
	err := s.Repository.Transact(func(tx *sql.Tx) error {
		for _, p := range printers {
			if err := s.Repository.RememberPrinter(tx, p, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("Couldn't persist discovered printers", "err", err)
	}
}

func (s *Server) handleStopScan(w http.ResponseWriter, r *http.Request) {
	s.Manager.StopScan()
	w.WriteHeader(http.StatusNoContent)
}

type addressRequest struct {
	Address string `json:"address"`
	Paper   string `json:"paper,omitempty"`
}

func readAddress(w http.ResponseWriter, r *http.Request) (addressRequest, bool) {
	var req addressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		http.Error(w, "body must carry a printer address", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	req, ok := readAddress(w, r)
	if !ok {
		return
	}
	if err := s.Manager.Connect(r.Context(), req.Address); err != nil {
		if errors.Is(err, manager.ErrUnknownPrinter) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	req, ok := readAddress(w, r)
	if !ok {
		return
	}
	if err := s.Manager.Disconnect(r.Context(), req.Address); err != nil {
		if errors.Is(err, manager.ErrUnknownPrinter) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPaper(w http.ResponseWriter, r *http.Request) {
	req, ok := readAddress(w, r)
	if !ok {
		return
	}
	if err := s.Manager.SetPaper(req.Address, profile.PaperClass(req.Paper)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "address query parameter is required", http.StatusBadRequest)
		return
	}

	var request model.PrintingRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	img, err := raster.NewImage(request.Width, request.Height, request.Data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := s.Manager.Printer(address)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	prof, err := profile.Load(p.Paper)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	opts := job.Options{
		CustomWidth:     request.CustomWidth,
		ChunkSize:       request.ChunkSize,
		LongData:        request.LongData,
		CutAfterPrinted: request.CutAfterPrinted,
	}
	if caps, err := s.Manager.Capabilities(address); err == nil && caps.SupportsLargeSingleBlock {
		opts.SingleBlock = true
	}

	// The request carries an arbitrary-width bitmap; align it before
	// encoding if the renderer didn't.
	aligned, err := alignImage(img, prof, opts.CustomWidth)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := job.EncodeImage(aligned, prof, opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.Jobs.PrintRendered(r.Context(), address, data, opts)
	s.recordJob(address, len(data), opts.ChunkSize, err)
	if err != nil {
		if errors.Is(err, manager.ErrNotConnected) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// alignImage pads or rescales a raw request bitmap to a width the
// encoder accepts.
func alignImage(img *raster.Image, prof *profile.Profile, customWidth int) (*raster.Image, error) {
	width := img.Width
	if customWidth > 0 {
		width = customWidth
	}
	width = raster.AlignTo8(width)
	if width == img.Width {
		return img, nil
	}
	return raster.Render(raster.ToImage(img), prof, raster.RenderOptions{CustomWidth: width})
}

func (s *Server) handlePrintRaw(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "address query parameter is required", http.StatusBadRequest)
		return
	}
	if r.Header.Get("Content-Type") != "application/octet-stream" {
		http.Error(w, "Invalid content type", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}

	opts := manager.PrintOptions{LongData: true}
	if raw := r.URL.Query().Get("chunkSize"); raw != "" {
		if opts.ChunkSize, err = strconv.Atoi(raw); err != nil {
			http.Error(w, "invalid chunkSize", http.StatusBadRequest)
			return
		}
	}

	err = s.Manager.PrintData(r.Context(), address, body, opts)
	s.recordJob(address, len(body), opts.ChunkSize, err)
	if err != nil {
		if errors.Is(err, manager.ErrNotConnected) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) recordJob(address string, size int, chunkSize int, jobErr error) {
	if s.Repository == nil {
		return
	}

	caps, err := s.Manager.Capabilities(address)
	if err != nil {
		return
	}
	if chunkSize <= 0 {
		chunkSize = caps.DefaultChunkSize
	}
	chunks := 0
	if size > 0 {
		chunks = (size + chunkSize - 1) / chunkSize
	}

	status := "ok"
	if jobErr != nil {
		status = fmt.Sprintf("failed: %v", jobErr)
	}
	record := registry.JobRecord{
		Address:   address,
		Bytes:     size,
		Chunks:    chunks,
		Status:    status,
		CreatedAt: time.Now(),
	}
	err = s.Repository.Transact(func(tx *sql.Tx) error {
		return s.Repository.RecordJob(tx, &record)
	})
	if err != nil {
		slog.Error("Couldn't record job history", "err", err)
	}
}

func (s *Server) handleGetRadio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"on": s.Manager.IsBluetoothOn()})
}

func (s *Server) handleRadioOn(w http.ResponseWriter, r *http.Request) {
	s.Manager.TurnOnBluetooth()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGetJobs(w http.ResponseWriter, r *http.Request) {
	if s.Repository == nil {
		http.Error(w, "job history not available", http.StatusNotFound)
		return
	}
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "address query parameter is required", http.StatusBadRequest)
		return
	}

	jobs, err := s.Repository.ListJobs(address, 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]model.JobResponse, len(jobs))
	for i, j := range jobs {
		out[i] = model.FromJob(j)
	}
	writeJSON(w, http.StatusOK, out)
}
