package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/miot-core/internal/device"
	"github.com/nerrad567/miot-core/internal/miot/engine"
)

// deviceView is a registry record merged with its live snapshot.
type deviceView struct {
	device.Record
	Availability string         `json:"availability"`
	Values       map[string]any `json:"values,omitempty"`
}

// stateView is the wire shape of a session snapshot.
type stateView struct {
	DID          string         `json:"did"`
	Availability string         `json:"availability"`
	Values       map[string]any `json:"values"`
	Time         time.Time      `json:"time"`
}

func snapshotView(snap engine.Snapshot) stateView {
	return stateView{
		DID:          snap.DID,
		Availability: snap.Availability.String(),
		Values:       snap.Values,
		Time:         snap.Time,
	}
}

// handleListDevices returns all managed devices with their live state.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	views := make([]deviceView, 0)

	if s.registry != nil {
		records, err := s.registry.List(r.Context())
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		for _, rec := range records {
			view := deviceView{Record: rec, Availability: "unknown"}
			if sess, err := s.sessions.Session(rec.DID); err == nil {
				snap := sess.Snapshot()
				view.Availability = snap.Availability.String()
				view.Values = snap.Values
			}
			views = append(views, view)
		}
	} else {
		// No registry: list from live sessions only.
		for _, snap := range s.sessions.Snapshots() {
			views = append(views, deviceView{
				Record:       device.Record{DID: snap.DID},
				Availability: snap.Availability.String(),
				Values:       snap.Values,
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handleGetDevice returns one device merged with its live state.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")

	view := deviceView{Record: device.Record{DID: did}, Availability: "unknown"}

	if s.registry != nil {
		rec, err := s.registry.Get(r.Context(), did)
		switch {
		case err == nil:
			view.Record = *rec
		case errors.Is(err, device.ErrNotFound):
			// Fall through: the session may still exist.
		default:
			writeInternalError(w, "failed to load device")
			return
		}
	}

	sess, err := s.sessions.Session(did)
	if err != nil {
		if view.Record.Model == "" {
			writeNotFound(w, "device not found")
			return
		}
	} else {
		snap := sess.Snapshot()
		view.Availability = snap.Availability.String()
		view.Values = snap.Values
	}

	writeJSON(w, http.StatusOK, view)
}

// handleGetDeviceState returns the live snapshot of one device.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")

	sess, err := s.sessions.Session(did)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, snapshotView(sess.Snapshot()))
}

// handleSetDeviceState writes one or more properties to a device.
//
// Request body: a JSON object of logical property names to values, e.g.
//
//	{"power": true, "speed": "High"}
func (s *Server) handleSetDeviceState(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")

	sess, err := s.sessions.Session(did)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(body) == 0 {
		writeBadRequest(w, "no properties in body")
		return
	}

	writes := make([]engine.Write, 0, len(body))
	for name, value := range body {
		writes = append(writes, engine.Write{Name: name, Value: value})
	}

	if err := sess.SetProperties(r.Context(), writes); err != nil {
		writeWriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshotView(sess.Snapshot()))
}

// actionRequest is the body of an action invocation.
type actionRequest struct {
	Args []any `json:"args"`
}

// handleInvokeAction invokes a device action by logical name.
func (s *Server) handleInvokeAction(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	name := chi.URLParam(r, "name")

	sess, err := s.sessions.Session(did)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}

	var body actionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}

	out, err := sess.CallAction(r.Context(), name, body.Args)
	if err != nil {
		writeWriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"did":    did,
		"action": name,
		"out":    out,
	})
}

// writeWriteError maps engine write/action errors to HTTP responses.
func writeWriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownName),
		errors.Is(err, engine.ErrNotWritable),
		errors.Is(err, engine.ErrNotAction),
		errors.Is(err, engine.ErrNotProperty),
		errors.Is(err, engine.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, engine.ErrDeviceOffline):
		writeError(w, http.StatusServiceUnavailable, ErrCodeDeviceOffline, err.Error())
	case errors.Is(err, engine.ErrSessionClosed):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, ErrCodeDeviceRejected, err.Error())
	}
}
