package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterDashboardRoutes 注册仪表盘 API
func (r *Router) RegisterDashboardRoutes(d *DashboardHandler) {
	r.Handle("/api/v1/session", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		d.GetSession(w, req)
	})

	r.Handle("/api/v1/session/identity", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			d.SignIn(w, req)
		case http.MethodDelete:
			d.SignOut(w, req)
		default:
			methodNotAllowed(w)
		}
	})

	r.Handle("/api/v1/session/refresh", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		d.Refresh(w, req)
	})

	r.Handle("/api/v1/devices", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		d.ListDevices(w, req)
	})

	// devices/{id}/window, devices/{id}/latest
	r.Handle("/api/v1/devices/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		rest := strings.TrimPrefix(req.URL.Path, "/api/v1/devices/")
		parts := strings.Split(rest, "/")
		if len(parts) != 2 || parts[0] == "" {
			writeJSON(w, http.StatusNotFound, Fail("not found"))
			return
		}
		switch parts[1] {
		case "window":
			d.GetWindow(w, req, parts[0])
		case "latest":
			d.GetLatest(w, req, parts[0])
		default:
			writeJSON(w, http.StatusNotFound, Fail("not found"))
		}
	})

	r.Handle("/api/v1/alerts/active", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		d.GetActiveAlert(w, req)
	})

	r.Handle("/api/v1/alerts/acknowledge", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		d.AcknowledgeAlert(w, req)
	})

	r.Handle("/api/v1/alerts/recent", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		d.RecentAlerts(w, req)
	})

	r.Handle("/api/v1/readings", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			d.CreateReading(w, req)
		case http.MethodPatch:
			d.UpdateReading(w, req)
		case http.MethodDelete:
			d.DeleteReading(w, req)
		default:
			methodNotAllowed(w)
		}
	})

	r.Handle("/api/v1/elderly", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPatch {
			methodNotAllowed(w)
			return
		}
		d.UpdateElderly(w, req)
	})

	r.Handle("/api/v1/assignment", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		d.UpdateAssignment(w, req)
	})

	r.Handle("/api/v1/export.xlsx", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		d.ExportActivity(w, req)
	})
}

// RegisterHubRoutes 注册 WebSocket 推送
func (r *Router) RegisterHubRoutes(h *Hub) {
	r.Handle("/api/v1/ws", h.ServeWS)
}
