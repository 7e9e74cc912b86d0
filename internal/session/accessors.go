package session

import (
	"context"

	"github.com/swn4894/elderly-dashboard/internal/evaluator"
	"github.com/swn4894/elderly-dashboard/internal/models"
	"github.com/swn4894/elderly-dashboard/internal/subscription"
	"github.com/swn4894/elderly-dashboard/internal/window"
)

// State 当前会话状态
func (s *Session) State() string {
	return s.machine.Current()
}

// Identity 当前登录的看护人用户名
func (s *Session) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Assignment 当前设备分配（副本），未登录返回 nil
func (s *Session) Assignment() *models.Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.assignment == nil {
		return nil
	}
	a := *s.assignment
	a.DeviceIDs = append([]string(nil), s.assignment.DeviceIDs...)
	return &a
}

// Devices 当前监控的设备
func (s *Session) Devices() []string {
	return s.store.Devices()
}

// Window 设备窗口（按时间降序）
func (s *Session) Window(deviceID string) []models.Reading {
	return s.store.Window(deviceID)
}

// Latest 设备最新读数
func (s *Session) Latest(deviceID string) (models.Reading, bool) {
	return s.store.Latest(deviceID)
}

// WindowSize 窗口容量
func (s *Session) WindowSize() int {
	return s.store.Capacity()
}

// OnWindowChanged 订阅窗口变化，deviceID 为空表示全部设备
func (s *Session) OnWindowChanged(deviceID string, fn window.Observer) (cancel func()) {
	return s.store.OnWindowChanged(deviceID, fn)
}

// ActiveAlert 当前待确认告警
func (s *Session) ActiveAlert() *models.AlertState {
	return s.eval.ActiveAlert()
}

// Acknowledge 确认当前告警
func (s *Session) Acknowledge(ctx context.Context) (*models.AlertState, error) {
	return s.eval.Acknowledge(ctx)
}

// RecentAlerts 最近告警事件
func (s *Session) RecentAlerts(limit int) []models.AlertEvent {
	return s.eval.RecentEvents(limit)
}

// OnAlert 订阅告警事件
func (s *Session) OnAlert(fn evaluator.Listener) (cancel func()) {
	return s.eval.OnAlert(fn)
}

// LiveStatus 每个设备的实时推送状态
func (s *Session) LiveStatus() map[string]subscription.Status {
	return s.subs.Statuses()
}

// SetStatusListener 订阅推送状态变化
func (s *Session) SetStatusListener(fn subscription.StatusListener) {
	s.subs.SetStatusListener(fn)
}

// Thresholds 当前心率阈值
func (s *Session) Thresholds() evaluator.Thresholds {
	return s.eval.Thresholds()
}
