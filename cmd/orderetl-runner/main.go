// orderetl-runner — выполняет прогоны ETL.
//
// Runner:
//   - Получает триггеры прогонов из RabbitMQ (плюс опрос БД как подстраховка)
//   - Запрашивает список указов у fetch-функции
//   - Обрабатывает каждый указ параллельно с ретраями
//   - Сохраняет переходы состояний и исходы в Postgres
//   - Архивирует завершённые прогоны в объектное хранилище
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/politicai/orderetl/internal/archive"
	"github.com/politicai/orderetl/internal/invoke"
	"github.com/politicai/orderetl/internal/mq"
	"github.com/politicai/orderetl/internal/repo"
	"github.com/politicai/orderetl/internal/runner"
	"github.com/politicai/orderetl/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting orderetl-runner")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	runRepo := repo.NewRunRepo(pool)
	outcomeRepo := repo.NewOutcomeRepo(pool)

	// RabbitMQ
	var publisher *mq.Publisher
	var mqConn *mq.Connection

	mqConn, err = mq.NewConnection(mq.URL(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Архив завершённых прогонов (опционально)
	var archiver *archive.Archiver
	archiver, err = archive.New(ctx, archive.ConfigFromEnv(), logger)
	if err != nil {
		logger.Warn("archive storage not available, runs will not be archived", "error", err)
		archiver = nil
	}

	// HTTP-функции fetch и process
	fetchURL := os.Getenv("FETCHER_URL")
	if fetchURL == "" {
		fetchURL = "http://localhost:9090/fetch-orders"
	}
	processURL := os.Getenv("PROCESSOR_URL")
	if processURL == "" {
		processURL = "http://localhost:9090/process-order"
	}

	// Создаём runner
	run := runner.New(runner.Config{}, runner.Deps{
		Runs:      runRepo,
		Outcomes:  outcomeRepo,
		Fetcher:   invoke.NewHTTPFetcher(fetchURL, invoke.FetchTimeout),
		Processor: invoke.NewHTTPProcessor(processURL, invoke.ProcessTimeout),
		Conn:      mqConn,
		Publisher: publisher,
		Archiver:  archiver,
		Logger:    logger,
	})

	run.Start(ctx)

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8083"
	if v := os.Getenv("RUNNER_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем runner, дожидаемся активных прогонов
	run.Stop()
	logger.Info("orderetl-runner stopped")
}
