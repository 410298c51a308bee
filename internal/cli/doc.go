// Package cli реализует инструмент командной строки orderetl.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с orderetl API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для запуска прогонов ETL, просмотра исходов
// обработки указов и управления расписаниями.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для orderetl API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	runs, err := client.ListRuns(cli.ListRunsOpts{})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: orderetl run list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - run: trigger, list, show, outcomes, cancel
//   - schedule: list, create, show, delete, enable, disable
//
// Каждая группа создаётся через фабричную функцию (NewRunCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
