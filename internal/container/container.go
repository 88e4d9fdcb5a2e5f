// Package container wires configuration, the database, repositories and
// application services together for the command binaries.
package container

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"gokpi/adapters/postgres"
	"gokpi/app"
	"gokpi/internal/config"
	"gokpi/ports"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config

	// Infrastructure
	DB *sqlx.DB

	// Repositories (data access layer)
	FieldRepo   ports.FieldRepository
	KPIRepo     ports.KPIRepository
	EntryRepo   ports.EntryRepository
	InsightRepo ports.InsightRepository

	Clock ports.Clock

	// Application services
	Calculation *app.CalculationService
	Resolver    *app.FieldResolverService
	KPIs        *app.KPIService
	Recalc      *app.RecalcService
	Statistics  *app.StatisticsService
	Insights    *app.InsightService
	Import      *app.ImportService
}

// New creates a new dependency injection container
func New(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return &Container{
		Config: cfg,
		Clock:  ports.SystemClock{},
	}, nil
}

// InitWithDatabase initializes components that require database access
func (c *Container) InitWithDatabase(db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("database connection test failed: %w", err)
	}

	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	c.DB = db

	c.initRepositories()
	c.initServices()
	return nil
}

func (c *Container) initRepositories() {
	c.FieldRepo = postgres.NewFieldRepository(c.DB)
	c.KPIRepo = postgres.NewKPIRepository(c.DB)
	c.EntryRepo = postgres.NewEntryRepository(c.DB)
	c.InsightRepo = postgres.NewInsightRepository(c.DB)
}

func (c *Container) initServices() {
	c.Calculation = app.NewCalculationService()
	c.Resolver = app.NewFieldResolverService(c.FieldRepo, c.KPIRepo, c.Clock)
	c.KPIs = app.NewKPIService(c.KPIRepo, c.Resolver, c.Calculation, c.Clock)

	c.Recalc = app.NewRecalcService(c.KPIRepo, c.FieldRepo, c.EntryRepo, c.Calculation, c.Clock)
	c.Recalc.SetParallelism(c.Config.Recalc.Parallelism)

	c.Statistics = app.NewStatisticsService(c.KPIRepo, c.EntryRepo, c.Clock)
	c.Insights = app.NewInsightService(c.KPIRepo, c.EntryRepo, c.InsightRepo, c.Statistics, c.Clock, insightThresholds(c.Config))
	c.Import = app.NewImportService(c.FieldRepo, c.EntryRepo, c.Resolver, c.Recalc, c.Clock)
}

func insightThresholds(cfg *config.Config) app.InsightThresholds {
	return app.InsightThresholds{
		DeviationRatio:          cfg.Insights.DeviationRatio,
		HighDeviationPct:        cfg.Insights.HighDeviationPct,
		ConsecutiveTrendEntries: cfg.Insights.ConsecutiveTrendEntries,
		AnomalyStdDevs:          cfg.Insights.AnomalyStdDevs,
		StaleDays:               cfg.Insights.StaleDays,
		Freshness:               cfg.Insights.Freshness,
	}
}

// Close releases held resources
func (c *Container) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
