// Package engine реализует машину состояний ETL-прогона указов.
//
// Машина фиксированная, с одним входом и двумя терминалами:
//
//	FetchOrders -> ParseResponse -> CheckForOrders
//	    CheckForOrders -> NoOrdersToProcess (ключа orders нет) -> Completed
//	    CheckForOrders -> ProcessOrders (fan-out по указам)     -> Completed
//	любая непоправимая ошибка шага                              -> Failed
//
// Правила выполнения:
//   - FetchOrders и каждый указ внутри ProcessOrders выполняются с
//     политикой ретраев: 3 попытки, пауза 2s, экспонента 2.0.
//   - Провал одного указа изолирован: он фиксируется в его OrderOutcome
//     и не влияет ни на прогон, ни на соседние указы.
//   - Одновременно обрабатывается не больше 10 указов.
//   - Результаты fan-out собираются строго в порядке входного списка.
//   - Контекст прогона растёт монотонно; терминальный статус
//     выставляется ровно один раз.
//
// Движок не знает, как устроены сборщик и обработчик: он вызывает их
// через интерфейсы пакета invoke. Персистентность тоже снаружи —
// через Recorder, которому движок отдаёт каждый переход и каждый исход.
package engine
