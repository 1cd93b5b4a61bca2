package handlers

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"drivegate/internal/resolver"
	"drivegate/pkg/types"
)

// GatewayHandler answers GET / and GET /{path} by resolving the referenced
// entity and replying with a redirect, JSON, a description or a listing.
type GatewayHandler struct {
	resolver *resolver.Resolver
	browser  *BrowserHandler
}

func NewGatewayHandler(res *resolver.Resolver) *GatewayHandler {
	return &GatewayHandler{
		resolver: res,
		browser:  NewBrowserHandler(),
	}
}

func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		sendError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	q, err := resolver.ParseQuery(r.URL.Query(), r.URL.Path)
	if err != nil {
		h.fail(w, q, err)
		return
	}

	ctx := r.Context()
	origin := resolver.Origin(r)

	switch q.Method {
	case resolver.MethodAttr:
		entity, err := h.resolver.Attr(ctx, q, origin)
		if err != nil {
			h.fail(w, q, err)
			return
		}
		sendJSON(w, http.StatusOK, entity.Attributes())

	case resolver.MethodList:
		children, err := h.resolver.List(ctx, q, origin)
		if err != nil {
			h.fail(w, q, err)
			return
		}
		attrs := make([]types.Attributes, 0, len(children))
		for _, child := range children {
			attrs = append(attrs, child.Attributes())
		}
		sendJSON(w, http.StatusOK, attrs)

	case resolver.MethodDesc:
		desc, err := h.resolver.Desc(ctx, q)
		if err != nil {
			h.fail(w, q, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(desc))

	default:
		res, err := h.resolver.Open(ctx, q, origin, r.Header)
		if err != nil {
			h.fail(w, q, err)
			return
		}
		if res.Listing == nil {
			http.Redirect(w, r, res.Redirect, http.StatusFound)
			return
		}
		h.browser.Render(w, res.Listing)
	}
}

func (h *GatewayHandler) fail(w http.ResponseWriter, q resolver.Query, err error) {
	status, detail := statusFor(err)

	entry := log.WithFields(log.Fields{
		"method":   q.Method,
		"pickcode": q.Pickcode,
		"path":     q.Path,
	})
	if q.HasID {
		entry = entry.WithField("id", q.ID)
	}
	if status >= http.StatusInternalServerError {
		entry.Warnf("Dispatch failed: %v", err)
	} else {
		entry.Debugf("Dispatch rejected: %v", err)
	}

	sendError(w, status, detail)
}
