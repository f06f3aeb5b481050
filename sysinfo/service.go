package sysinfo

import (
	"github.com/teranos/loom/actor"
	"github.com/teranos/loom/logger"
)

// Service is a stock actor service answering telemetry requests. A request
// with header "sysinfo" gets the JSON snapshot back as text; anything else is
// ignored.
type Service struct {
	actor.Base
	collector *Collector
}

// NewService creates the telemetry service handler.
func NewService() *Service {
	return &Service{}
}

func (s *Service) Init(ctx *actor.Context) error {
	if err := s.Base.Init(ctx); err != nil {
		return err
	}
	collector, err := NewCollector()
	if err != nil {
		return err
	}
	s.collector = collector
	return nil
}

func (s *Service) HandleMessage(msg *actor.Message) {
	if msg.Header != "sysinfo" || !msg.IsRequest() {
		return
	}
	info, err := s.collector.Snapshot()
	if err != nil {
		s.Ctx.Logger().Warnw("telemetry snapshot failed", logger.FieldError, err)
		s.Ctx.MakeResponse(msg.Sender, "error", err.Error(), msg.ResponseID, actor.TypeError)
		return
	}
	s.Ctx.MakeResponse(msg.Sender, "", info.JSON(), msg.ResponseID, actor.TypeText)
}
