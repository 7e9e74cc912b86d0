package session

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// 会话状态
const (
	StateIdle      = "idle"
	StateLoading   = "loading"
	StateLive      = "live"
	StateLiveEmpty = "live_empty" // 已登录但没有分配设备
)

// 会话事件
const (
	EventStart       = "start"
	EventReassign    = "reassign"
	EventLoaded      = "loaded"
	EventLoadedEmpty = "loaded_empty"
	EventStop        = "stop"
)

func newMachine(logger *zap.Logger) *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventStart, Src: []string{StateIdle}, Dst: StateLoading},
			{Name: EventReassign, Src: []string{StateLive, StateLiveEmpty}, Dst: StateLoading},
			{Name: EventLoaded, Src: []string{StateLoading}, Dst: StateLive},
			{Name: EventLoadedEmpty, Src: []string{StateLoading}, Dst: StateLiveEmpty},
			{Name: EventStop, Src: []string{StateLoading, StateLive, StateLiveEmpty}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Info("Session state changed",
					zap.String("event", e.Event),
					zap.String("from", e.Src),
					zap.String("to", e.Dst),
				)
			},
		},
	)
}
