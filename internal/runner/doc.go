// Package runner — сервис выполнения ETL-прогонов.
//
// Runner получает прогоны двумя путями:
//   - событие run.trigger из RabbitMQ (основной путь)
//   - опрос БД на PENDING прогоны (подстраховка: переживает потерю
//     сообщения и работу без брокера)
//
// Для каждого прогона runner запускает движок, персистит переходы
// состояний и исходы указов, а по достижении терминального статуса
// архивирует запись прогона в object storage и публикует run.completed.
//
// Отмена кооперативная: оператор ставит CANCELLED в БД (через API),
// runner замечает это на ближайшем переходе состояния и сворачивает
// прогон.
package runner
