// Package controlplane exposes the HTTP surface that receives the five
// call-lifecycle JSON notifications and forwards them to the lifecycle
// controller, grounded on the teacher's plain net/http.HandleFunc wiring
// in main.go (no router dependency pulled in for five fixed routes).
package controlplane

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/chuffdetect/callsentry/internal/events"
	"github.com/chuffdetect/callsentry/internal/lifecycle"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

const timeLayout = time.RFC3339

// Handler registers the CREATE/PROGRESS/ANSWER/DETECT/DESTROY routes
// against a mux, per spec.md §4.2.
type Handler struct {
	controller *lifecycle.Controller
	log        *xlog.Logger
}

// New constructs a Handler bound to the given lifecycle controller.
func New(controller *lifecycle.Controller, log *xlog.Logger) *Handler {
	return &Handler{controller: controller, log: log}
}

// Register attaches every route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/event/create", h.handleCreate)
	mux.HandleFunc("/event/progress", h.handleProgress)
	mux.HandleFunc("/event/answer", h.handleAnswer)
	mux.HandleFunc("/event/detect", h.handleDetect)
	mux.HandleFunc("/event/destroy", h.handleDestroy)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var event events.CreateEvent
	if !decode(w, r, &event) {
		return
	}
	h.controller.HandleCreate(event)
	writeOK(w)
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	var event events.ProgressEvent
	if !decode(w, r, &event) {
		return
	}
	if !h.controller.HandleProgress(event) {
		http.Error(w, "chan_id not found", http.StatusNotFound)
		return
	}
	writeOK(w)
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var event events.AnswerEvent
	if !decode(w, r, &event) {
		return
	}

	answerTime, err := time.Parse(timeLayout, event.EventTime)
	if err != nil {
		http.Error(w, "malformed event_time: "+err.Error(), http.StatusBadRequest)
		return
	}

	if !h.controller.HandleAnswer(event, answerTime) {
		http.Error(w, "chan_id not found", http.StatusNotFound)
		return
	}
	writeOK(w)
}

func (h *Handler) handleDetect(w http.ResponseWriter, r *http.Request) {
	var event events.DetectEvent
	if !decode(w, r, &event) {
		return
	}
	if !h.controller.HandleDetect(event) {
		http.Error(w, "chan_id not found", http.StatusNotFound)
		return
	}
	writeOK(w)
}

func (h *Handler) handleDestroy(w http.ResponseWriter, r *http.Request) {
	var event events.DestroyEvent
	if !decode(w, r, &event) {
		return
	}
	if !h.controller.HandleDestroy(event) {
		http.Error(w, "chan_id not found", http.StatusNotFound)
		return
	}
	writeOK(w)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "malformed event body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"ok":true}`))
}
