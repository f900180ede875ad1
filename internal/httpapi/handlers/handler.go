package handlers

import (
	"github.com/suPer8Hu/support-triage/internal/classify"
	"github.com/suPer8Hu/support-triage/internal/support"
	"go.uber.org/zap"
)

type Handler struct {
	Svc        *support.Service
	Classifier *classify.Engine
	Log        *zap.Logger
}

func NewHandler(svc *support.Service, engine *classify.Engine, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Svc: svc, Classifier: engine, Log: log}
}
