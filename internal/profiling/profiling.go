// Package profiling captures CPU and heap profiles of a run and exposes
// pprof endpoints on the stats server.
package profiling

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	runtimepprof "runtime/pprof"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/logging"
)

// Config holds profiling configuration
type Config struct {
	CPUProfilePath string `yaml:"cpu_profile,omitempty"` // written when the run ends
	MemProfilePath string `yaml:"mem_profile,omitempty"` // heap profile written when the run ends
	HTTP           bool   `yaml:"http"`                  // mount /debug/pprof on the stats server
}

// Enabled reports whether any profile file is requested
func (c Config) Enabled() bool {
	return c.CPUProfilePath != "" || c.MemProfilePath != ""
}

// Profiler writes profile files for one run
type Profiler struct {
	config Config
	logger *logging.Logger

	mu      sync.Mutex
	cpuFile *os.File
}

// New creates a new profiler
func New(config Config, logger *logging.Logger) *Profiler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Profiler{config: config, logger: logger.WithComponent("profiling")}
}

// Start begins CPU profiling when a CPU profile path is configured
func (p *Profiler) Start() error {
	if p.config.CPUProfilePath == "" {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.Create(p.config.CPUProfilePath)
	if err != nil {
		return fmt.Errorf("failed to start CPU profiling: %w", err)
	}
	if err := runtimepprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to start CPU profiling: %w", err)
	}

	p.cpuFile = f
	p.logger.Info().Str("path", p.config.CPUProfilePath).Msg("CPU profiling started")
	return nil
}

// Stop finishes the CPU profile and writes the heap profile
func (p *Profiler) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cpuFile != nil {
		runtimepprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			return fmt.Errorf("failed to close CPU profile: %w", err)
		}
		p.cpuFile = nil
		p.logger.Info().Str("path", p.config.CPUProfilePath).Msg("CPU profile saved")
	}

	if p.config.MemProfilePath != "" {
		if err := p.writeMemProfile(); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}
	return nil
}

func (p *Profiler) writeMemProfile() error {
	f, err := os.Create(p.config.MemProfilePath)
	if err != nil {
		return err
	}
	defer f.Close()

	runtime.GC() // Get up-to-date statistics

	if err := runtimepprof.WriteHeapProfile(f); err != nil {
		return err
	}

	p.logger.Info().Str("path", p.config.MemProfilePath).Msg("Memory profile saved")
	return nil
}

// Register mounts the pprof handlers and a runtime statistics page on mux
func Register(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/debug/stats", statsHandler)
}

// statsHandler returns runtime statistics
func statsHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	fmt.Fprintf(w, "Goroutines: %d\n", runtime.NumGoroutine())
	fmt.Fprintf(w, "GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
	fmt.Fprintf(w, "Alloc: %d MB\n", m.Alloc/1024/1024)
	fmt.Fprintf(w, "Sys: %d MB\n", m.Sys/1024/1024)
	fmt.Fprintf(w, "HeapObjects: %d\n", m.HeapObjects)
	fmt.Fprintf(w, "NumGC: %d\n", m.NumGC)
	if m.NumGC > 0 {
		fmt.Fprintf(w, "LastGC: %s\n", time.Unix(0, int64(m.LastGC)).UTC().Format(time.RFC3339))
	}
}
