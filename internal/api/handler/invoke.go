package handler

import (
	"net"
	"net/http"

	"github.com/edvin/conduit/internal/api/request"
	"github.com/edvin/conduit/internal/api/response"
	"github.com/edvin/conduit/internal/model"
	"github.com/edvin/conduit/internal/router"
)

// Invoke is the broker's primary entry point. The router runs the full
// admission pipeline itself, including key validation, so this route sits
// outside the Auth middleware.
type Invoke struct {
	router *router.Router
}

func NewInvoke(r *router.Router) *Invoke {
	return &Invoke{router: r}
}

func (h *Invoke) Invoke(w http.ResponseWriter, r *http.Request) {
	var req request.Invoke
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := h.router.Route(r.Context(),
		router.Request{
			Service: req.Service,
			Action:  req.Action,
			Params:  req.Params,
		},
		router.CallContext{
			APIKeySecret: r.Header.Get("X-API-Key"),
			ClientIP:     clientIP(r),
			UserAgent:    r.UserAgent(),
			Environment:  model.Environment(req.Environment),
		})

	response.WriteJSON(w, resp.HTTPStatus, resp)
}

// clientIP strips the port from RemoteAddr; the RealIP middleware has
// already resolved proxy headers.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
