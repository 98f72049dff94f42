package dashboard

import (
	"net/http"
	"runtime"
	"time"

	"github.com/fortiblox/guppy/pkg/programstore"
	"github.com/fortiblox/guppy/pkg/vm"
	"github.com/fortiblox/guppy/pkg/vm/bytecode"
)

// API response types

// StatusResponse is the response for GET /api/status.
type StatusResponse struct {
	Config        vm.Config `json:"config"`
	Totals        vm.Totals `json:"totals"`
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptimeSeconds"`
	Utilization   float64   `json:"utilization"`
	ProgramCount  uint64    `json:"programCount"`
	ProgramBytes  uint64    `json:"programBytes"`
	ArrayCount    uint64    `json:"arrayCount"`
	LastError     string    `json:"lastError,omitempty"`
}

// MetricsResponse is the response for GET /api/metrics.
type MetricsResponse struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heapAlloc"`
	HeapSys    uint64 `json:"heapSys"`
	NumGC      uint32 `json:"numGC"`
	GoVersion  string `json:"goVersion"`
	NumCPU     int    `json:"numCPU"`
}

// status gathers the overview shown on the home page and /api/status.
func (d *Dashboard) status() StatusResponse {
	uptime := time.Since(d.startTime)
	resp := StatusResponse{
		Config:        d.kernel.Config(),
		Totals:        d.kernel.Totals(),
		Uptime:        formatDuration(uptime),
		UptimeSeconds: uptime.Seconds(),
	}
	if uptime > 0 {
		resp.Utilization = float64(resp.Totals.Busy) / float64(uptime)
	}

	if ps, err := d.programs.Stats(); err == nil {
		resp.ProgramCount = ps.ProgramCount
		resp.ProgramBytes = ps.TotalBytes
	} else {
		resp.LastError = err.Error()
	}
	if n, err := d.arrays.ArraysCount(); err == nil {
		resp.ArrayCount = n
	} else {
		resp.LastError = err.Error()
	}
	return resp
}

func (d *Dashboard) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.status())
}

func (d *Dashboard) handleAPIPrograms(w http.ResponseWriter, r *http.Request) {
	infos, err := d.programs.List()
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if infos == nil {
		infos = []programstore.Info{}
	}
	writeJSON(w, infos)
}

func (d *Dashboard) handleAPIArrays(w http.ResponseWriter, r *http.Request) {
	infos, err := d.listArrays()
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, infos)
}

func (d *Dashboard) handleAPIMetrics(w http.ResponseWriter, r *http.Request) {
	m := getMemStats()
	writeJSON(w, MetricsResponse{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  m.HeapAlloc,
		HeapSys:    m.HeapSys,
		NumGC:      m.NumGC,
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
	})
}

func disassemble(code []byte) (string, error) {
	return bytecode.Disassemble(code)
}
