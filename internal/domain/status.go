package domain

// RunStatus — статус выполнения ETL-прогона.
type RunStatus string

const (
	// RunPending — прогон создан и ждёт подхвата runner'ом.
	RunPending RunStatus = "PENDING"

	// RunRunning — прогон выполняется.
	RunRunning RunStatus = "RUNNING"

	// RunSucceeded — прогон завершился успешно.
	RunSucceeded RunStatus = "SUCCEEDED"

	// RunFailed — один из шагов ETL провалился.
	RunFailed RunStatus = "FAILED"

	// RunCancelled — прогон отменён оператором.
	RunCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
// Финальный статус выставляется ровно один раз и больше не меняется.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	}
	return false
}

// IsValid проверяет, что статус известен.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunPending, RunRunning, RunSucceeded, RunFailed, RunCancelled:
		return true
	}
	return false
}

// OutcomeStatus — статус обработки одного указа внутри fan-out.
type OutcomeStatus string

const (
	// OutcomeOK — указ обработан успешно.
	OutcomeOK OutcomeStatus = "OK"

	// OutcomeError — обработка указа провалилась после всех ретраев.
	// Ошибка изолирована: она не роняет ни прогон, ни соседние указы.
	OutcomeError OutcomeStatus = "ERROR"
)

// State — имя состояния машины прогона.
type State string

const (
	// StateFetchOrders — вызов сборщика списка указов.
	StateFetchOrders State = "FetchOrders"

	// StateParseResponse — разбор ответа сборщика.
	StateParseResponse State = "ParseResponse"

	// StateCheckForOrders — ветвление по наличию ключа orders.
	StateCheckForOrders State = "CheckForOrders"

	// StateNoOrders — терминальная ветка успеха: указов нет.
	StateNoOrders State = "NoOrdersToProcess"

	// StateProcessOrders — fan-out обработки указов.
	StateProcessOrders State = "ProcessOrders"

	// StateCompleted — прогон завершён успешно.
	StateCompleted State = "Completed"

	// StateFailed — прогон завершён с ошибкой.
	StateFailed State = "Failed"
)
