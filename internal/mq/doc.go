// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений
//
// Типы сообщений:
//   - run.trigger    — создан прогон, runner должен его выполнить
//   - run.completed  — прогон дошёл до терминального статуса
//
// Exchanges:
//   - orderetl.runs — события прогонов
//   - orderetl.dlq  — dead letter queue
package mq
