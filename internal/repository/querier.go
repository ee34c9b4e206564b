package repository

import "github.com/mkhasanov/tutorbook/internal/repository/base"

// Querier - алиас base.Querier, чтобы сервисный слой не зависел
// от пакета base напрямую
type Querier = base.Querier
