package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fortiblox/guppy/pkg/arraystore"
	"github.com/fortiblox/guppy/pkg/programstore"
	"github.com/fortiblox/guppy/pkg/vm"
	"github.com/fortiblox/guppy/pkg/vm/bytecode"
)

type fixture struct {
	dash     *Dashboard
	kernel   *vm.Kernel
	programs *programstore.Store
	arrays   *arraystore.BadgerDB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	kcfg := vm.DefaultConfig()
	kcfg.VectorWidth = 8
	kcfg.LanesPerGroup = 2
	kernel, err := vm.NewKernel(kcfg)
	if err != nil {
		t.Fatalf("NewKernel() failed: %v", err)
	}

	programs, err := programstore.Open(programstore.DefaultConfig(filepath.Join(t.TempDir(), "programs.db")))
	if err != nil {
		t.Fatalf("programstore.Open() failed: %v", err)
	}
	t.Cleanup(func() { programs.Close() })

	acfg := arraystore.DefaultBadgerDBConfig("")
	acfg.InMemory = true
	arrays, err := arraystore.NewBadgerDB(acfg)
	if err != nil {
		t.Fatalf("NewBadgerDB() failed: %v", err)
	}
	t.Cleanup(func() { arrays.Close() })

	dash, err := New(Config{}, kernel, programs, arrays)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return &fixture{dash: dash, kernel: kernel, programs: programs, arrays: arrays}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.dash.Handler().ServeHTTP(w, req)
	return w
}

func doubleProgram() []byte {
	return bytecode.NewBuilder().
		LoadVector(0, 0, bytecode.RegGroupEltStart, bytecode.RegVectorWidth).
		IAdd(0, 0).
		StoreVector(0, 0, bytecode.RegGroupEltStart, bytecode.RegVectorWidth).
		MustProgram()
}

func TestDashboardNew(t *testing.T) {
	f := newFixture(t)

	if f.dash.config.BindAddress != "127.0.0.1" {
		t.Errorf("Expected default bind address 127.0.0.1, got %s", f.dash.config.BindAddress)
	}
	if f.dash.config.Port != 8942 {
		t.Errorf("Expected default port 8942, got %d", f.dash.config.Port)
	}

	dash, err := New(Config{BindAddress: "0.0.0.0", Port: 9000}, f.kernel, f.programs, f.arrays)
	if err != nil {
		t.Fatalf("Failed to create dashboard with custom config: %v", err)
	}
	if dash.Address() != "0.0.0.0:9000" {
		t.Errorf("Address() = %s", dash.Address())
	}
}

func TestAPIStatusEndpoint(t *testing.T) {
	f := newFixture(t)

	if _, err := f.programs.Put("double", doubleProgram()); err != nil {
		t.Fatal(err)
	}
	data := make([]float32, 16)
	if _, err := f.arrays.SetArray("x", data); err != nil {
		t.Fatal(err)
	}
	if _, err := vm.Run(f.kernel.Config(), doubleProgram(), [][]float32{data}, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := f.kernel.Launch(context.Background(), doubleProgram(), [][]float32{data}, 2); err != nil {
		t.Fatal(err)
	}

	w := f.get(t, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Totals.Launches != 1 || resp.Totals.Groups != 2 {
		t.Errorf("totals = %+v", resp.Totals)
	}
	if resp.ProgramCount != 1 || resp.ArrayCount != 1 {
		t.Errorf("counts = %d programs, %d arrays", resp.ProgramCount, resp.ArrayCount)
	}
	if resp.Config.VectorWidth != 8 {
		t.Errorf("config width = %d", resp.Config.VectorWidth)
	}
}

func TestAPIListEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/api/programs")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty /api/programs = %s", w.Body.String())
	}

	f.programs.Put("double", doubleProgram())
	f.arrays.SetArray("b", []float32{1})
	f.arrays.SetArray("a", []float32{1, 2})

	var progs []programstore.Info
	if err := json.NewDecoder(f.get(t, "/api/programs").Body).Decode(&progs); err != nil {
		t.Fatal(err)
	}
	if len(progs) != 1 || progs[0].Name != "double" {
		t.Errorf("/api/programs = %+v", progs)
	}

	var arrays []arraystore.Info
	if err := json.NewDecoder(f.get(t, "/api/arrays").Body).Decode(&arrays); err != nil {
		t.Fatal(err)
	}
	if len(arrays) != 2 || arrays[0].Name != "a" || arrays[0].Len != 2 {
		t.Errorf("/api/arrays = %+v", arrays)
	}
}

func TestAPIMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	var resp MetricsResponse
	if err := json.NewDecoder(f.get(t, "/api/metrics").Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Goroutines == 0 || resp.GoVersion == "" {
		t.Errorf("metrics = %+v", resp)
	}
}

func TestPages(t *testing.T) {
	f := newFixture(t)
	id, err := f.programs.Put("double", doubleProgram())
	if err != nil {
		t.Fatal(err)
	}
	f.arrays.SetArray("x", []float32{1, 2, 3})

	tests := []struct {
		path     string
		status   int
		contains []string
	}{
		{"/", http.StatusOK, []string{"Kernel Configuration", "Launches"}},
		{"/programs", http.StatusOK, []string{"double", "/programs/" + id.String()}},
		{"/programs/double", http.StatusOK, []string{"Disassembly", "IAdd", id.String()}},
		{"/programs/" + id.String(), http.StatusOK, []string{"StoreVector"}},
		{"/programs/missing", http.StatusOK, []string{"Program not found"}},
		{"/arrays", http.StatusOK, []string{"x", "SHA3-256"}},
		{"/nope", http.StatusNotFound, nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := f.get(t, tt.path)
			if w.Code != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, w.Code)
			}
			body, _ := io.ReadAll(w.Body)
			for _, want := range tt.contains {
				if !strings.Contains(string(body), want) {
					t.Errorf("page %s missing %q", tt.path, want)
				}
			}
		})
	}
}

func TestProgramRedirect(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/programs/")
	if w.Code != http.StatusFound {
		t.Errorf("Expected redirect, got %d", w.Code)
	}
}

func TestTemplateHelpers(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{250 * time.Millisecond, "250ms"},
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m 30s"},
		{2 * time.Hour, "2h 0m"},
		{25 * time.Hour, "1d 1h"},
	}
	for _, tc := range tests {
		if result := formatDuration(tc.duration); result != tc.expected {
			t.Errorf("formatDuration(%v) = %s, expected %s", tc.duration, result, tc.expected)
		}
	}

	if formatNumber(1000) != "1.0K" {
		t.Errorf("Expected 1.0K, got %s", formatNumber(1000))
	}
	if formatNumber(uint64(1500000)) != "1.5M" {
		t.Errorf("Expected 1.5M, got %s", formatNumber(uint64(1500000)))
	}
	if formatBytes(1024) != "1.0 KB" {
		t.Errorf("Expected 1.0 KB, got %s", formatBytes(1024))
	}
	if formatBytes(uint64(1048576)) != "1.0 MB" {
		t.Errorf("Expected 1.0 MB, got %s", formatBytes(uint64(1048576)))
	}
	if formatTime(time.Time{}) != "N/A" {
		t.Error("formatTime(zero) should be N/A")
	}
	if truncated := truncateHash("abcdefghijklmnopqrstuvwxyz", 4); truncated != "abcd...wxyz" {
		t.Errorf("Expected abcd...wxyz, got %s", truncated)
	}
}
