// Package api реализует HTTP API сервиса.
//
// Маршруты:
//   - /api/v1/runs       — запуск и инспекция ETL-прогонов
//   - /api/v1/schedules  — управление расписаниями
//
// Структура:
//   - handler.go          — Handler с зависимостями
//   - routes.go           — регистрация маршрутов
//   - run_handler.go      — обработчики runs
//   - schedule_handler.go — обработчики schedules
//   - dto.go              — request/response модели
//   - response.go         — helpers для JSON ответов
//   - middleware.go       — Recovery, Logging
package api
