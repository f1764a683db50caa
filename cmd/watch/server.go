package watch

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"

	"github.com/LegacyCodeHQ/mpptrack/build"
	"github.com/LegacyCodeHQ/mpptrack/cmd/build/formatters"
)

// broker manages SSE client connections and broadcasts cycle payloads.
type broker struct {
	mu      sync.Mutex
	clients map[chan string]struct{}
	latest  string
}

func newBroker() *broker {
	return &broker{
		clients: make(map[chan string]struct{}),
	}
}

func (b *broker) subscribe() chan string {
	ch := make(chan string, 1)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	if b.latest != "" {
		ch <- b.latest
	}
	b.mu.Unlock()
	return ch
}

func (b *broker) unsubscribe(ch chan string) {
	b.mu.Lock()
	delete(b.clients, ch)
	close(ch)
	b.mu.Unlock()
}

// publish replaces the latest payload. Slow clients miss intermediate
// payloads but always receive the newest one they have room for.
func (b *broker) publish(payload string) {
	b.mu.Lock()
	b.latest = payload
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
	b.mu.Unlock()
}

// stager reports the stage of the running build cycle.
type stager interface {
	Stage() build.Stage
}

func newRouter(b *broker, tl *timeline, s stager) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(routeIndex, handleIndex).Methods(http.MethodGet)
	r.HandleFunc(routeReport, handleReport(tl)).Methods(http.MethodGet)
	r.HandleFunc(routeUnits, handleUnits(tl)).Methods(http.MethodGet)
	r.HandleFunc(routeStatus, handleStatus(tl, s)).Methods(http.MethodGet)
	r.HandleFunc(routeEvents, handleSSE(b)).Methods(http.MethodGet)
	return r
}

func newServer(b *broker, tl *timeline, s stager, port int) *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: newRouter(b, tl, s),
	}
}

func handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(indexHTML)); err != nil {
		http.Error(w, "failed to render page", http.StatusInternalServerError)
	}
}

func handleReport(tl *timeline) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		latest, ok := tl.latest()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		formatter, err := formatters.NewFormatter(formatters.FormatJSON)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		body, err := formatter.FormatReport(latest.Report)
		if err != nil {
			http.Error(w, "failed to render report", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}
}

func handleUnits(tl *timeline) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		latest, ok := tl.latest()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
		fmt.Fprint(w, latest.DOT)
	}
}

func handleStatus(tl *timeline, s stager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var latestID int64
		if latest, ok := tl.latest(); ok {
			latestID = latest.ID
		}
		fmt.Fprintf(w, "{\"stage\":%q,\"latestId\":%d}\n", s.Stage().String(), latestID)
	}
}

func handleSSE(b *broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ch := b.subscribe()
		defer b.unsubscribe(ch)

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-ch:
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: %s\n", sseEventCycles)
				for _, line := range strings.Split(payload, "\n") {
					fmt.Fprintf(w, "data: %s\n", line)
				}
				fmt.Fprintf(w, "\n")
				flusher.Flush()
			}
		}
	}
}
