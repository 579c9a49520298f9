package model

import (
	"time"

	"github.com/kushan-developer/thermal-printer/internal/manager"
	"github.com/kushan-developer/thermal-printer/internal/registry"
)

// PrintingRequest is the JSON body of a bitmap print call: a decoded
// grayscale bitmap, row major, one byte per pixel, base64 on the wire.
type PrintingRequest struct {
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Data            []byte `json:"data"`
	CustomWidth     int    `json:"customWidth,omitempty"`
	ChunkSize       int    `json:"chunkSize,omitempty"`
	LongData        bool   `json:"longData,omitempty"`
	CutAfterPrinted bool   `json:"cutAfterPrinted,omitempty"`
}

type PrinterResponse struct {
	Address        string `json:"address"`
	Name           string `json:"name"`
	ConnectionType string `json:"connectionType"`
	State          string `json:"state"`
	Paper          string `json:"paper"`
}

func FromPrinter(p manager.Printer) PrinterResponse {
	return PrinterResponse{
		Address:        p.Address,
		Name:           p.Name,
		ConnectionType: string(p.ConnectionType),
		State:          p.State.String(),
		Paper:          string(p.Paper),
	}
}

func FromPrinters(printers []manager.Printer) []PrinterResponse {
	out := make([]PrinterResponse, len(printers))
	for i, p := range printers {
		out[i] = FromPrinter(p)
	}
	return out
}

type JobResponse struct {
	Id        int    `json:"id"`
	Address   string `json:"address"`
	Bytes     int    `json:"bytes"`
	Chunks    int    `json:"chunks"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

func FromJob(j registry.JobRecord) JobResponse {
	return JobResponse{
		Id:        j.Id,
		Address:   j.Address,
		Bytes:     j.Bytes,
		Chunks:    j.Chunks,
		Status:    j.Status,
		CreatedAt: j.CreatedAt.UTC().Format(time.RFC3339),
	}
}
