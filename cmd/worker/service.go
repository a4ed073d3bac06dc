package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/safmarket/saf-backend/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type consumer interface {
	Run(context.Context) error
}

type ServiceParams struct {
	Logger   *logger.Logger
	Pingers  map[string]pinger
	Consumer consumer
}

// Service checks the worker's dependencies and then runs the notification
// consumer until the context ends.
type Service struct {
	logg     *logger.Logger
	pingers  map[string]pinger
	consumer consumer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("notification consumer is required")
	}
	return &Service{
		logg:     params.Logger,
		pingers:  params.Pingers,
		consumer: params.Consumer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	names := make([]string, 0, len(s.pingers))
	for name := range s.pingers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.pingers[name].Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	err := s.consumer.Run(ctx)
	switch {
	case err == nil:
		return ctx.Err()
	case errors.Is(err, context.Canceled):
		s.logg.Info(ctx, "worker context canceled")
		return err
	default:
		s.logg.Error(ctx, "consumer stopped unexpectedly", err)
		return err
	}
}
