package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// targetState is the degradation the stress endpoints inject into the fake service.
type targetState struct {
	mu      sync.Mutex
	cpu     float64
	latency float64
	healthy bool
}

func (s *targetState) snapshot() (float64, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cpu, s.latency, s.healthy
}

func (s *targetState) set(cpu, latency float64, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cpu, s.latency, s.healthy = cpu, latency, healthy
}

func (s *targetState) reset() { s.set(0.05, 0.12, true) }

type vectorSample struct {
	Metric map[string]string `json:"metric"`
	Value  [2]any            `json:"value"`
}

func main() {
	state := &targetState{}
	state.reset()

	mux := http.NewServeMux()

	// Monitored service.
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if _, _, healthy := state.snapshot(); !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("degraded"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stress/cpu", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		_, latency, _ := state.snapshot()
		state.set(0.97, latency, false)
		writeJSON(w, map[string]string{"status": "cpu stressed"})
	})
	mux.HandleFunc("/stress/latency", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		cpu, _, _ := state.snapshot()
		state.set(cpu, 4.5, false)
		writeJSON(w, map[string]string{"status": "latency injected"})
	})
	mux.HandleFunc("/stress/reset", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		state.reset()
		writeJSON(w, map[string]string{"status": "reset"})
	})

	// Prometheus instant query API.
	mux.HandleFunc("/api/v1/query", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		query := r.Form.Get("query")
		cpu, latency, _ := state.snapshot()
		value := latency
		if strings.Contains(query, "cpu") {
			value = cpu
		}
		writeJSON(w, map[string]any{
			"status": "success",
			"data": map[string]any{
				"resultType": "vector",
				"result": []vectorSample{{
					Metric: map[string]string{"job": "sentinel-target-api"},
					Value:  [2]any{float64(time.Now().Unix()), formatFloat(value)},
				}},
			},
		})
	})

	// LM Studio chat endpoint.
	mux.HandleFunc("/api/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		cpu, _, _ := state.snapshot()
		diagnosis := map[string]string{
			"root_cause":       "Request latency exceeds the SLO while CPU is nominal; a worker is likely stuck.",
			"severity":         "high",
			"remediation_step": "docker restart sentinel-target-api",
		}
		if cpu >= 0.5 {
			diagnosis["root_cause"] = "CPU saturation from a runaway request loop."
			diagnosis["severity"] = "critical"
		}
		content, _ := json.Marshal(diagnosis)
		// The restart that follows heals the fake target.
		go func() {
			time.Sleep(2 * time.Second)
			state.reset()
		}()
		writeJSON(w, map[string]any{
			"output": []map[string]string{{"type": "message", "content": string(content)}},
		})
	})

	logger := log.New(log.Writer(), "target-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8000",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8000")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func formatFloat(v float64) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
