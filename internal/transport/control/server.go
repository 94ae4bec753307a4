// Package control is a world's local HTTP surface: status queries plus spawn, move and
// portal entry for agents. Requests are HMAC-signed when a secret is configured and
// restricted to loopback otherwise.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"riftclaw.ai/internal/passport"
	"riftclaw.ai/internal/portal"
	"riftclaw.ai/internal/sim/world"
)

const maxBody = 64 * 1024

// World is what the control surface needs from the simulation.
type World interface {
	Status(ctx context.Context) (world.Status, error)
	Agent(ctx context.Context, agentID string) (world.AgentView, error)
	SpawnAgent(ctx context.Context, spec world.SpawnSpec) (world.AgentView, error)
	MoveAgent(ctx context.Context, agentID string, pos passport.Position) ([]string, error)
	EnterPortal(ctx context.Context, agentID, portalID string) (passport.Passport, error)
}

type Server struct {
	w      World
	log    *log.Logger
	secret []byte
	replay *replayGuard
	now    func() time.Time
}

// NewServer serves w. An empty secret restricts every endpoint to loopback clients.
func NewServer(w World, secret []byte, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		w:      w,
		log:    logger,
		secret: secret,
		replay: newReplayGuard(2 * SkewWindow),
		now:    time.Now,
	}
}

type SpawnRequest struct {
	Name      string                   `json:"name"`
	Position  *passport.Position       `json:"position,omitempty"`
	Inventory []passport.InventoryItem `json:"inventory,omitempty"`
}

type MoveRequest struct {
	AgentID  string            `json:"agent_id"`
	Position passport.Position `json:"position"`
}

type EnterRequest struct {
	AgentID  string `json:"agent_id"`
	PortalID string `json:"portal_id"`
}

type MoveResponse struct {
	Triggered []string `json:"triggered"`
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/status", s.guard(http.MethodGet, func(r *http.Request, _ []byte) (any, error) {
		return s.w.Status(r.Context())
	}))
	mux.HandleFunc("/v1/agent", s.guard(http.MethodGet, func(r *http.Request, _ []byte) (any, error) {
		return s.w.Agent(r.Context(), r.URL.Query().Get("id"))
	}))
	mux.HandleFunc("/v1/spawn", s.guard(http.MethodPost, func(r *http.Request, body []byte) (any, error) {
		var req SpawnRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, errBadRequest
		}
		return s.w.SpawnAgent(r.Context(), world.SpawnSpec{Name: req.Name, Pos: req.Position, Inventory: req.Inventory})
	}))
	mux.HandleFunc("/v1/move", s.guard(http.MethodPost, func(r *http.Request, body []byte) (any, error) {
		var req MoveRequest
		if err := json.Unmarshal(body, &req); err != nil || req.AgentID == "" {
			return nil, errBadRequest
		}
		triggered, err := s.w.MoveAgent(r.Context(), req.AgentID, req.Position)
		if err != nil {
			return nil, err
		}
		return MoveResponse{Triggered: triggered}, nil
	}))
	mux.HandleFunc("/v1/enter", s.guard(http.MethodPost, func(r *http.Request, body []byte) (any, error) {
		var req EnterRequest
		if err := json.Unmarshal(body, &req); err != nil || req.AgentID == "" || req.PortalID == "" {
			return nil, errBadRequest
		}
		return s.w.EnterPortal(r.Context(), req.AgentID, req.PortalID)
	}))
	return mux
}

var errBadRequest = errors.New("bad request")

type handlerFunc func(r *http.Request, body []byte) (any, error)

// guard checks the method, authenticates, reads the body and renders the result.
func (s *Server) guard(method string, fn handlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		if err != nil || len(body) > maxBody {
			http.Error(rw, "body too large", http.StatusRequestEntityTooLarge)
			return
		}

		if len(s.secret) == 0 {
			if err := requireLoopback(r); err != nil {
				http.Error(rw, err.Error(), http.StatusForbidden)
				return
			}
		} else {
			vr := verifyHMAC(r, body, s.secret, s.now())
			if vr.HTTPStatus != 0 {
				http.Error(rw, vr.Message, vr.HTTPStatus)
				return
			}
			if !s.replay.allow(vr.Caller, vr.Signature) {
				http.Error(rw, "replayed request", http.StatusUnauthorized)
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		v, err := fn(r.WithContext(ctx), body)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(statusFor(err))
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(v)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, world.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, portal.ErrCoolingDown):
		return http.StatusTooManyRequests
	case errors.Is(err, portal.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusConflict
	}
}
