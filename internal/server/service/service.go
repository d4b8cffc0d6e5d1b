// Package service wires storage, resolver, audit log, change monitor
// and alerting together and owns their lifecycle.
package service

import (
	"context"
	"fmt"
	"time"

	"tierconf/internal/server/audit"
	"tierconf/internal/server/config"
	"tierconf/internal/server/monitor"
	"tierconf/internal/server/notify"
	"tierconf/internal/server/resolver"
	"tierconf/internal/server/storage"

	"go.uber.org/zap"
)

// Service represents the server service
type Service struct {
	config   *config.Config
	store    storage.Storage
	resolver *resolver.Resolver
	audit    *audit.Log
	monitor  *monitor.Monitor
	notifier *notify.Manager
	logger   *zap.Logger
}

// NewService creates new service instance. The resolver starts bare so
// the audit log and change monitor can resolve their own settings
// through it before recording and notification are attached.
func NewService(cfg *config.Config, store storage.Storage, logger *zap.Logger) (*Service, error) {
	res, err := resolver.New(&cfg.Resolver, store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize resolver: %w", err)
	}

	notifier, err := notify.NewManager(&cfg.Notify, logger)
	if err != nil {
		res.Close()
		return nil, fmt.Errorf("failed to initialize notifier: %w", err)
	}

	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	auditLog := audit.New(bootCtx, &cfg.Audit, store, res, logger)
	res.AttachAudit(auditLog)

	mon := monitor.New(bootCtx, &cfg.Monitor, res, notifier, logger)
	if mon != nil {
		res.AttachNotifier(mon)
	}

	res.OnReload(auditLog.ReloadSettings)
	if mon != nil {
		res.OnReload(mon.ReloadCriticalKeys)
	}

	return &Service{
		config:   cfg,
		store:    store,
		resolver: res,
		audit:    auditLog,
		monitor:  mon,
		notifier: notifier,
		logger:   logger,
	}, nil
}

// Stop stops the service and cleans up resources
func (s *Service) Stop() error {
	if s.monitor != nil {
		s.monitor.Stop()
	}
	s.audit.Stop()
	s.resolver.Close()
	if s.notifier != nil {
		if err := s.notifier.Stop(); err != nil {
			s.logger.Error("Failed to stop notifier", zap.Error(err))
		}
	}
	return s.store.Close()
}

// HealthStatus health check
type HealthStatus struct {
	Healthy   bool           `json:"healthy"`
	Timestamp time.Time      `json:"timestamp"`
	Details   []HealthDetail `json:"details,omitempty"`
}

// HealthDetail represents a health detail
type HealthDetail struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// HealthCheck performs a health check
func (s *Service) HealthCheck(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Healthy:   true,
		Timestamp: time.Now(),
	}

	if err := s.store.Ping(ctx); err != nil {
		status.Healthy = false
		status.Details = append(status.Details, HealthDetail{
			Component: "storage",
			Status:    "unhealthy",
			Error:     err.Error(),
		})
	}

	if s.notifier != nil {
		if err := s.notifier.Health(ctx); err != nil {
			// Degraded alerting does not take the service down.
			status.Details = append(status.Details, HealthDetail{
				Component: "notifier",
				Status:    "degraded",
				Error:     err.Error(),
			})
		}
	}

	return status
}
