package service

import (
	"go.uber.org/zap"

	"soc-monitor/internal/client"
	"soc-monitor/internal/config"
	"soc-monitor/internal/notifier"
	"soc-monitor/internal/repository/scylla"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	cfg         *config.Config
	eventRepo   scylla.EventRepository
	historyRepo scylla.HistoryRepository
	profileRepo scylla.ProfileRepository
	alertRepo   scylla.AlertRepository
	sink        notifier.Notifier
	producer    *client.KafkaProducer
	esClient    *client.ESClient
	clickhouse  *client.ClickHouseClient
	logger      *zap.Logger

	riskService  *RiskService
	alertService *AlertService
	statsService *StatsService
}

func NewServiceFactory(
	cfg *config.Config,
	eventRepo scylla.EventRepository,
	historyRepo scylla.HistoryRepository,
	profileRepo scylla.ProfileRepository,
	alertRepo scylla.AlertRepository,
	sink notifier.Notifier,
	producer *client.KafkaProducer,
	esClient *client.ESClient,
	clickhouse *client.ClickHouseClient,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		cfg:         cfg,
		eventRepo:   eventRepo,
		historyRepo: historyRepo,
		profileRepo: profileRepo,
		alertRepo:   alertRepo,
		sink:        sink,
		producer:    producer,
		esClient:    esClient,
		clickhouse:  clickhouse,
		logger:      logger,
	}
}

// AlertService returns the alert dispatcher instance (singleton)
func (f *ServiceFactory) AlertService() *AlertService {
	if f.alertService == nil {
		var publisher AlertPublisher
		if f.producer != nil {
			publisher = f.producer
		}
		var indexer AlertIndexer
		if f.esClient != nil {
			indexer = f.esClient
		}
		f.alertService = NewAlertService(f.alertRepo, f.sink, publisher, indexer, f.logger)
	}
	return f.alertService
}

// StatsService returns the analytics service instance (singleton)
func (f *ServiceFactory) StatsService() *StatsService {
	if f.statsService == nil {
		f.statsService = NewStatsService(f.clickhouse, f.alertRepo, f.logger)
	}
	return f.statsService
}

// RiskService returns the evaluation engine instance (singleton)
func (f *ServiceFactory) RiskService() *RiskService {
	if f.riskService == nil {
		var recorder EvaluationRecorder
		if f.clickhouse != nil {
			recorder = f.StatsService()
		}
		f.riskService = NewRiskService(
			f.eventRepo,
			f.historyRepo,
			f.profileRepo,
			f.AlertService(),
			recorder,
			f.cfg.Risk,
			f.logger,
		)
	}
	return f.riskService
}
