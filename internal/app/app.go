package app

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/tutor_backoffice/internal/clock"
	"github.com/Freeeeeet/tutor_backoffice/internal/config"
	"github.com/Freeeeeet/tutor_backoffice/internal/notify"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository/base"
	"github.com/Freeeeeet/tutor_backoffice/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// App собирает зависимости бэкофиса: пул, репозитории, сервисы и
// оркестратор фоновых проходов
type App struct {
	pool         *pgxpool.Pool
	logger       *zap.Logger
	orchestrator *Orchestrator

	Slots    *service.SlotService
	Lessons  *service.LessonService
	Groups   *service.GroupService
	Packages *service.PackageService
	Calendar *service.CalendarService
}

// New подключается к базе, применяет миграции и собирает сервисы
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	pool, err := pgxpool.New(ctx, cfg.GetDBDSN())
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	migrator, err := NewMigrator(pool, cfg.MigrationsPath, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	defer migrator.Close()

	if err := migrator.Run(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	db := base.NewDB(pool)
	clk := clock.System{}

	slotRepo := repository.NewSlotRepository(pool)
	lessonRepo := repository.NewLessonRepository(pool)
	groupRepo := repository.NewGroupLessonRepository(pool)
	regRepo := repository.NewRegistrationRepository(pool)
	packageRepo := repository.NewPackageRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	notificationRepo := repository.NewNotificationRepository(pool)

	emitter := notify.Multi{
		notify.NewLogEmitter(logger),
		notify.NewStoreEmitter(notificationRepo),
	}

	packages := service.NewPackageService(db, packageRepo, userRepo, clk, logger)
	slots := service.NewSlotService(db, slotRepo, lessonRepo, userRepo, emitter, clk, logger)
	lessons := service.NewLessonService(db, slotRepo, lessonRepo, userRepo, packages, emitter, clk, logger)
	groups := service.NewGroupService(db, groupRepo, regRepo, userRepo, emitter, clk, logger)
	calendar := service.NewCalendarService(slotRepo, lessonRepo, groupRepo, regRepo, userRepo, logger)

	orchestrator := NewOrchestrator(
		lessons, groups, packages,
		emitter, clk, logger,
		cfg.SweepInterval, cfg.ReminderLead, cfg.LowCreditThreshold,
	)

	return &App{
		pool:         pool,
		logger:       logger,
		orchestrator: orchestrator,
		Slots:        slots,
		Lessons:      lessons,
		Groups:       groups,
		Packages:     packages,
		Calendar:     calendar,
	}, nil
}

// Start запускает фоновые задачи
func (a *App) Start(ctx context.Context) {
	a.orchestrator.Start(ctx)
}

// Stop останавливает фоновые задачи и закрывает пул
func (a *App) Stop() {
	a.orchestrator.Stop()
	a.pool.Close()
	a.logger.Info("Application stopped")
}
