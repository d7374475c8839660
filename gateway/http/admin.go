package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/c360/thingbridge/descriptor"
	"github.com/c360/thingbridge/errors"
)

// RegisterThingRequest is the body of a things-collection POST.
type RegisterThingRequest struct {
	// ID names the Thing; one is generated when absent.
	ID string `json:"id"`
	// Address is the broker address the Thing serves on.
	Address string `json:"address"`
	// Resources are the Thing's addressable members.
	Resources []*descriptor.Resource `json:"resources"`
}

// handleThings serves the things collection: GET lists registered Things,
// POST registers one, creating its backing connection.
func (g *Gateway) handleThings(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Request-ID", getOrGenerateRequestID(r))
	if !g.authorize(w, r) {
		return
	}
	if g.registrar == nil {
		g.writeError(w, http.StatusNotFound, "thing administration not enabled")
		return
	}

	switch r.Method {
	case http.MethodGet:
		g.writeJSON(w, http.StatusOK, map[string]any{"things": g.registrar.Things()})

	case http.MethodPost:
		g.registerThing(w, r)

	case http.MethodOptions:
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		g.writeError(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s not allowed", r.Method))
	}
}

func (g *Gateway) registerThing(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := g.readBody(r)
	if err != nil {
		g.writeError(w, http.StatusInternalServerError, errors.Sanitize(err))
		return
	}

	var req RegisterThingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		g.writeError(w, http.StatusInternalServerError, "malformed registration body")
		return
	}
	if req.Address == "" {
		g.writeError(w, http.StatusInternalServerError, "registration requires an address")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	for _, res := range req.Resources {
		res.ThingID = req.ID
		if err := res.Validate(); err != nil {
			g.writeError(w, http.StatusInternalServerError, errors.Sanitize(err))
			return
		}
	}

	if _, err := g.registrar.Register(r.Context(), req.ID, req.Address); err != nil {
		g.logger.Error("thing registration failed", "thing", req.ID, "error", err)
		g.writeError(w, http.StatusInternalServerError, errors.Sanitize(err))
		return
	}

	if err := g.table.ReplaceThing(req.ID, req.Resources); err != nil {
		// The connection exists but the routes do not: undo the binding.
		_ = g.registrar.Unregister(r.Context(), req.ID)
		g.writeError(w, http.StatusInternalServerError, errors.Sanitize(err))
		return
	}

	g.logger.Info("thing registered over HTTP", "thing", req.ID,
		"address", req.Address, "resources", len(req.Resources))
	g.writeJSON(w, http.StatusCreated, map[string]any{"id": req.ID})
}

// handleThingItem serves one registered Thing: GET lists its routes,
// DELETE unregisters it.
func (g *Gateway) handleThingItem(w http.ResponseWriter, r *http.Request) {
	idx := strings.Index(r.URL.Path, "/things/")
	thingID := strings.TrimSuffix(r.URL.Path[idx+len("/things/"):], "/")

	// Deeper paths under /things/ are member routes, not administration.
	if strings.Contains(thingID, "/") {
		g.handleResource(w, r)
		return
	}

	w.Header().Set("X-Request-ID", getOrGenerateRequestID(r))
	if !g.authorize(w, r) {
		return
	}
	if g.registrar == nil {
		g.writeError(w, http.StatusNotFound, "thing administration not enabled")
		return
	}
	if thingID == "" {
		g.writeError(w, http.StatusNotFound, "thing not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		paths := g.table.Paths(thingID)
		if len(paths) == 0 {
			g.writeError(w, http.StatusNotFound, "thing not found")
			return
		}
		g.writeJSON(w, http.StatusOK, map[string]any{"id": thingID, "paths": paths})

	case http.MethodDelete:
		if err := g.registrar.Unregister(r.Context(), thingID); err != nil {
			g.writeError(w, statusFor(err), errors.Sanitize(err))
			return
		}
		g.table.RemoveThing(thingID)
		g.logger.Info("thing unregistered over HTTP", "thing", thingID)
		w.WriteHeader(http.StatusNoContent)

	case http.MethodOptions:
		w.Header().Set("Allow", "GET, DELETE, OPTIONS")
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, DELETE, OPTIONS")
		g.writeError(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s not allowed", r.Method))
	}
}

// handleStop triggers bridge shutdown. Same origin rules as every other
// route; the reply is written before the trigger fires.
func (g *Gateway) handleStop(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Request-ID", getOrGenerateRequestID(r))
	if !g.authorize(w, r) {
		return
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		g.writeError(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	if g.stop == nil {
		g.writeError(w, http.StatusNotFound, "stop endpoint not enabled")
		return
	}

	g.logger.Info("shutdown requested over HTTP")
	w.WriteHeader(http.StatusNoContent)
	go g.stop()
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	_, _ = w.Write(data)
}
