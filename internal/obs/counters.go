package obs

import (
	"context"
	"sync"
)

// Счётчики живут в контексте запроса, а не в глобальном состоянии процесса:
// параллельные запросы не видят чужих значений, тесты не требуют сброса.

type countersKey struct{}

// RequestCounters - потокобезопасные счётчики одного запроса
type RequestCounters struct {
	mu     sync.Mutex
	counts map[string]int
}

// WithCounters кладёт новый набор счётчиков в контекст запроса
func WithCounters(ctx context.Context) context.Context {
	return context.WithValue(ctx, countersKey{}, &RequestCounters{counts: make(map[string]int)})
}

// Count инкрементирует счётчик name, если контекст несёт набор счётчиков.
// Вне запроса (фоновые свипы без WithCounters) вызов безвреден.
func Count(ctx context.Context, name string) {
	rc, ok := ctx.Value(countersKey{}).(*RequestCounters)
	if !ok {
		return
	}
	rc.mu.Lock()
	rc.counts[name]++
	rc.mu.Unlock()
}

// Counters возвращает снимок счётчиков запроса
func Counters(ctx context.Context) map[string]int {
	rc, ok := ctx.Value(countersKey{}).(*RequestCounters)
	if !ok {
		return nil
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	snapshot := make(map[string]int, len(rc.counts))
	for k, v := range rc.counts {
		snapshot[k] = v
	}
	return snapshot
}
