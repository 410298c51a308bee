package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// OrderRecord — один указ из списка сборщика.
// Данные указа непрозрачны для движка: он передаёт их обработчику как есть.
type OrderRecord struct {
	// OrderID — идентификатор указа, например "NYORDER147_28".
	OrderID string `json:"order_id"`

	// Data — произвольные поля указа (order_num, title, signed_date,
	// pdf_url, src, governor и т.д.).
	Data map[string]any `json:"order_data"`
}

// FetchResult — разобранный ответ сборщика указов.
type FetchResult struct {
	// BucketName — bucket, в который сборщик положил сырьё.
	BucketName string `json:"bucket_name"`

	// CompiledFileName — имя собранного файла со списком указов.
	CompiledFileName string `json:"compiled_file_name"`

	// Orders — список указов в детерминированном порядке.
	Orders []OrderRecord `json:"orders"`

	// HasOrders — присутствовал ли ключ orders в ответе.
	// Ветвление идёт по присутствию ключа, а не по длине списка:
	// пустой список указов — это успешный прогон с пустым fan-out.
	HasOrders bool `json:"has_orders"`
}

// UnmarshalJSON разбирает обе формы ключа orders, которые отдаёт сборщик:
// объект, где ключ — order_id, а значение — поля указа (основная форма),
// и массив записей {order_id, order_data}. Объектная форма нормализуется
// в срез, отсортированный по order_id.
func (f *FetchResult) UnmarshalJSON(data []byte) error {
	var wire struct {
		BucketName       string          `json:"bucket_name"`
		CompiledFileName string          `json:"compiled_file_name"`
		Orders           json.RawMessage `json:"orders"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	f.BucketName = wire.BucketName
	f.CompiledFileName = wire.CompiledFileName
	f.Orders = nil
	f.HasOrders = len(wire.Orders) > 0 && string(wire.Orders) != "null"
	if !f.HasOrders {
		return nil
	}

	switch wire.Orders[0] {
	case '{':
		var byID map[string]map[string]any
		if err := json.Unmarshal(wire.Orders, &byID); err != nil {
			return fmt.Errorf("orders object: %w", err)
		}
		f.Orders = make([]OrderRecord, 0, len(byID))
		for id, fields := range byID {
			f.Orders = append(f.Orders, OrderRecord{OrderID: id, Data: fields})
		}
		sort.Slice(f.Orders, func(i, j int) bool {
			return f.Orders[i].OrderID < f.Orders[j].OrderID
		})
	case '[':
		if err := json.Unmarshal(wire.Orders, &f.Orders); err != nil {
			return fmt.Errorf("orders array: %w", err)
		}
	default:
		return fmt.Errorf("orders: unexpected JSON value %q", wire.Orders[0])
	}
	return nil
}

// OrderOutcome — итог обработки одного указа.
// На каждый OrderRecord всегда ровно один OrderOutcome,
// и в агрегате они идут в порядке входного списка.
type OrderOutcome struct {
	// OrderID — идентификатор обработанного указа.
	OrderID string `json:"order_id"`

	// Index — позиция указа во входном списке.
	Index int `json:"index"`

	// Status — OK либо ERROR.
	Status OutcomeStatus `json:"status"`

	// Output — вывод обработчика при успехе.
	Output map[string]any `json:"output,omitempty"`

	// ErrorKind — класс ошибки при провале (например "ItemError").
	ErrorKind string `json:"error_kind,omitempty"`

	// Error — причина провала.
	Error string `json:"error,omitempty"`

	// Attempts — сколько попыток было сделано.
	Attempts int `json:"attempts"`

	// StartedAt — начало обработки указа.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — конец обработки указа.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// AsMap возвращает исход в форме для контекста прогона.
func (o *OrderOutcome) AsMap() map[string]any {
	m := map[string]any{
		"order_id": o.OrderID,
		"status":   string(o.Status),
	}
	if o.Output != nil {
		m["output"] = o.Output
	}
	if o.Status == OutcomeError {
		m["error"] = map[string]any{
			"kind":  o.ErrorKind,
			"cause": o.Error,
		}
	}
	return m
}
