package support

import (
	"context"
	"fmt"
	"strings"

	"github.com/suPer8Hu/support-triage/internal/task"
	"go.uber.org/zap"
)

type Service struct {
	repo  *Repo
	queue task.Enqueuer
	log   *zap.Logger
}

func NewService(repo *Repo, queue task.Enqueuer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, queue: queue, log: log}
}

type SubmitInput struct {
	CustomerName string
	Email        string
	Subject      string
	Description  string
}

// Submit persists a pending request and then queues it for processing. The
// row always exists before the task is published.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Request, error) {
	req := &Request{
		CustomerName:     strings.TrimSpace(in.CustomerName),
		Email:            strings.TrimSpace(in.Email),
		Subject:          strings.TrimSpace(in.Subject),
		Description:      strings.TrimSpace(in.Description),
		ProcessingStatus: StatusPending,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if err := s.queue.Enqueue(ctx, task.ProcessRequest, req.ID); err != nil {
		s.log.Error("enqueue process task failed",
			zap.Uint64("request_id", req.ID), zap.Error(err))
		return req, fmt.Errorf("enqueue request %d: %w", req.ID, err)
	}

	s.log.Info("support request queued", zap.Uint64("request_id", req.ID))
	return req, nil
}

func (s *Service) Get(ctx context.Context, id uint64) (*Request, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, status Status, skip, limit int) ([]Request, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.repo.List(ctx, status, skip, limit)
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.repo.Stats(ctx)
}
