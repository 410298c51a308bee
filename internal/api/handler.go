package api

import (
	"log/slog"

	"github.com/politicai/orderetl/internal/mq"
	"github.com/politicai/orderetl/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runRepo      *repo.RunRepo
	outcomeRepo  *repo.OutcomeRepo
	scheduleRepo *repo.ScheduleRepo
	publisher    *mq.Publisher
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	RunRepo      *repo.RunRepo
	OutcomeRepo  *repo.OutcomeRepo
	ScheduleRepo *repo.ScheduleRepo
	Publisher    *mq.Publisher
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		runRepo:      cfg.RunRepo,
		outcomeRepo:  cfg.OutcomeRepo,
		scheduleRepo: cfg.ScheduleRepo,
		publisher:    cfg.Publisher,
		logger:       cfg.Logger,
	}
}
