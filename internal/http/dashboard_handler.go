package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/evaluator"
	"github.com/swn4894/elderly-dashboard/internal/gateway"
	"github.com/swn4894/elderly-dashboard/internal/models"
	"github.com/swn4894/elderly-dashboard/internal/session"
	"github.com/swn4894/elderly-dashboard/internal/subscription"
)

// DashboardSession 处理器依赖的会话操作（*session.Session 实现）
type DashboardSession interface {
	State() string
	Identity() string
	Assignment() *models.Assignment
	Devices() []string
	WindowSize() int
	Window(deviceID string) []models.Reading
	Latest(deviceID string) (models.Reading, bool)
	LiveStatus() map[string]subscription.Status
	ActiveAlert() *models.AlertState
	Acknowledge(ctx context.Context) (*models.AlertState, error)
	RecentAlerts(limit int) []models.AlertEvent
	Thresholds() evaluator.Thresholds

	Start(ctx context.Context, username string) error
	Stop(ctx context.Context)
	Refresh(ctx context.Context) (bool, error)

	CreateReading(ctx context.Context, r models.Reading) (*models.Reading, error)
	UpdateReading(ctx context.Context, patch models.ReadingPatch) (*models.Reading, error)
	DeleteReading(ctx context.Context, key models.ReadingKey) (*models.Reading, error)
	UpdateElderly(ctx context.Context, update models.ElderlyUpdate) (*models.Elderly, error)
	UpdateAssignment(ctx context.Context, deviceIDs []string) (*models.Assignment, error)
}

// AlertHistory 告警日志查询（repository.AlertEventsRepository 实现）
type AlertHistory interface {
	ListRecentAlertEvents(ctx context.Context, deviceIDs []string, limit int) ([]models.AlertEvent, error)
}

// DashboardHandler 仪表盘 API
type DashboardHandler struct {
	session DashboardSession
	history AlertHistory // 可为 nil
	logger  *zap.Logger
	now     func() time.Time
}

func NewDashboardHandler(s DashboardSession, history AlertHistory, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		session: s,
		history: history,
		logger:  logger,
		now:     time.Now,
	}
}

// SessionView 会话概览
type SessionView struct {
	State      string                         `json:"state"`
	Identity   string                         `json:"identity"`
	Assignment *models.Assignment             `json:"assignment"`
	LiveStatus map[string]subscription.Status `json:"live_status"`
}

// DeviceView 单个设备概览
type DeviceView struct {
	DeviceID   string              `json:"device_id"`
	Latest     *models.Reading     `json:"latest"`
	Class      string              `json:"class,omitempty"`
	WindowSize int                 `json:"window_size"`
	LiveStatus subscription.Status `json:"live_status"`
}

func (d *DashboardHandler) sessionView() SessionView {
	return SessionView{
		State:      d.session.State(),
		Identity:   d.session.Identity(),
		Assignment: d.session.Assignment(),
		LiveStatus: d.session.LiveStatus(),
	}
}

// GET /api/v1/session
func (d *DashboardHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(d.sessionView()))
}

// POST /api/v1/session/identity {username}
func (d *DashboardHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if body.Username == "" {
		writeJSON(w, http.StatusBadRequest, Fail("username is required"))
		return
	}
	if err := d.session.Start(r.Context(), body.Username); err != nil {
		d.writeError(w, "start session", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(d.sessionView()))
}

// DELETE /api/v1/session/identity
func (d *DashboardHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	d.session.Stop(r.Context())
	writeJSON(w, http.StatusOK, Ok(d.sessionView()))
}

// POST /api/v1/session/refresh
func (d *DashboardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	changed, err := d.session.Refresh(r.Context())
	if err != nil {
		d.writeError(w, "refresh session", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"changed": changed,
		"session": d.sessionView(),
	}))
}

// GET /api/v1/devices
func (d *DashboardHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	statuses := d.session.LiveStatus()
	ids := d.session.Devices()
	sort.Strings(ids)

	thresholds := d.session.Thresholds()
	items := make([]DeviceView, 0, len(ids))
	unavailable := 0
	for _, id := range ids {
		v := DeviceView{
			DeviceID:   id,
			WindowSize: len(d.session.Window(id)),
			LiveStatus: statuses[id],
		}
		if v.LiveStatus == "" {
			v.LiveStatus = subscription.StatusClosed
		}
		if v.LiveStatus == subscription.StatusUnavailable {
			unavailable++
		}
		if latest, ok := d.session.Latest(id); ok {
			v.Latest = &latest
			v.Class = string(thresholds.Classify(latest.HeartRate))
		}
		items = append(items, v)
	}

	if unavailable > 0 {
		writeJSON(w, http.StatusOK, Warn(fmt.Sprintf("live updates unavailable for %d device(s)", unavailable), items))
		return
	}
	writeJSON(w, http.StatusOK, Ok(items))
}

func (d *DashboardHandler) monitored(deviceID string) bool {
	for _, id := range d.session.Devices() {
		if id == deviceID {
			return true
		}
	}
	return false
}

// GET /api/v1/devices/{id}/window
func (d *DashboardHandler) GetWindow(w http.ResponseWriter, r *http.Request, deviceID string) {
	if !d.monitored(deviceID) {
		writeJSON(w, http.StatusNotFound, Fail("device not monitored"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"device_id": deviceID,
		"capacity":  d.session.WindowSize(),
		"items":     nonNil(d.session.Window(deviceID)),
	}))
}

// GET /api/v1/devices/{id}/latest
func (d *DashboardHandler) GetLatest(w http.ResponseWriter, r *http.Request, deviceID string) {
	if !d.monitored(deviceID) {
		writeJSON(w, http.StatusNotFound, Fail("device not monitored"))
		return
	}
	latest, ok := d.session.Latest(deviceID)
	if !ok {
		writeJSON(w, http.StatusOK, Ok[any](nil))
		return
	}
	writeJSON(w, http.StatusOK, Ok(latest))
}

// GET /api/v1/alerts/active
func (d *DashboardHandler) GetActiveAlert(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(d.session.ActiveAlert()))
}

// POST /api/v1/alerts/acknowledge
func (d *DashboardHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	state, err := d.session.Acknowledge(r.Context())
	if err != nil {
		d.writeError(w, "acknowledge alert", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(state))
}

// GET /api/v1/alerts/recent?limit=&source=journal
func (d *DashboardHandler) RecentAlerts(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	if r.URL.Query().Get("source") == "journal" {
		if d.history == nil {
			writeJSON(w, http.StatusNotFound, Fail("alert journal not enabled"))
			return
		}
		events, err := d.history.ListRecentAlertEvents(r.Context(), d.session.Devices(), limit)
		if err != nil {
			d.writeError(w, "list alert journal", err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(nonNil(events)))
		return
	}
	writeJSON(w, http.StatusOK, Ok(nonNil(d.session.RecentAlerts(limit))))
}

// POST /api/v1/readings
func (d *DashboardHandler) CreateReading(w http.ResponseWriter, r *http.Request) {
	var reading models.Reading
	if err := readBodyJSON(r, maxBodyBytes, &reading); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	created, err := d.session.CreateReading(r.Context(), reading)
	if err != nil {
		d.writeError(w, "create reading", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(created))
}

// PATCH /api/v1/readings
func (d *DashboardHandler) UpdateReading(w http.ResponseWriter, r *http.Request) {
	var patch models.ReadingPatch
	if err := readBodyJSON(r, maxBodyBytes, &patch); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	updated, err := d.session.UpdateReading(r.Context(), patch)
	if err != nil {
		d.writeError(w, "update reading", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(updated))
}

// DELETE /api/v1/readings?deviceId=&timestamp=
func (d *DashboardHandler) DeleteReading(w http.ResponseWriter, r *http.Request) {
	key := models.ReadingKey{
		DeviceID:  r.URL.Query().Get("deviceId"),
		Timestamp: r.URL.Query().Get("timestamp"),
	}
	if key.DeviceID == "" || key.Timestamp == "" {
		writeJSON(w, http.StatusBadRequest, Fail("deviceId and timestamp are required"))
		return
	}
	deleted, err := d.session.DeleteReading(r.Context(), key)
	if err != nil {
		d.writeError(w, "delete reading", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(deleted))
}

// PATCH /api/v1/elderly
func (d *DashboardHandler) UpdateElderly(w http.ResponseWriter, r *http.Request) {
	var update models.ElderlyUpdate
	if err := readBodyJSON(r, maxBodyBytes, &update); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	elderly, err := d.session.UpdateElderly(r.Context(), update)
	if err != nil {
		d.writeError(w, "update elderly", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(elderly))
}

// PUT /api/v1/assignment {deviceIds}
func (d *DashboardHandler) UpdateAssignment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeviceIDs []string `json:"deviceIds"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	assignment, err := d.session.UpdateAssignment(r.Context(), body.DeviceIDs)
	if err != nil {
		d.writeError(w, "update assignment", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(assignment))
}

// GET /api/v1/export.xlsx
func (d *DashboardHandler) ExportActivity(w http.ResponseWriter, r *http.Request) {
	ids := d.session.Devices()
	sort.Strings(ids)
	windows := make(map[string][]models.Reading, len(ids))
	for _, id := range ids {
		windows[id] = d.session.Window(id)
	}

	data, err := GenerateActivityWorkbook(ids, windows, d.session.RecentAlerts(0))
	if err != nil {
		d.logger.Error("Failed to generate activity workbook", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}

	filename := fmt.Sprintf("activity_%s.xlsx", d.now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// writeError 按错误类型映射 HTTP 状态码
func (d *DashboardHandler) writeError(w http.ResponseWriter, op string, err error) {
	var validation *models.ValidationError
	var status int
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, Fail(validation.Error()))
		return
	case errors.Is(err, session.ErrNotStarted):
		status = http.StatusConflict
	case errors.Is(err, evaluator.ErrNoActiveAlert):
		status = http.StatusNotFound
	case errors.Is(err, gateway.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, gateway.ErrTransport), errors.Is(err, gateway.ErrGraphQL):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		d.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
	}
	writeJSON(w, status, Fail(err.Error()))
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
