package bot

import "sync"

// PendingOp отложенная админская операция, ожидающая следующего сообщения.
type PendingOp int

const (
	// OpNone нет отложенной операции.
	OpNone PendingOp = iota
	// OpAddUser ожидается telegram id для ручной выдачи доступа.
	OpAddUser
	// OpExtend ожидаются telegram id и число дней для продления.
	OpExtend
)

// Sessions хранит отложенные операции администраторов. Состояние живет
// только в памяти процесса: после перезапуска отложенных операций нет,
// админ просто повторяет команду.
type Sessions struct {
	mu  sync.Mutex
	ops map[int64]PendingOp
}

// NewSessions создает пустое хранилище отложенных операций.
func NewSessions() *Sessions {
	return &Sessions{ops: make(map[int64]PendingOp)}
}

// Arm запоминает отложенную операцию администратора, заменяя предыдущую.
func (s *Sessions) Arm(adminID int64, op PendingOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[adminID] = op
}

// Take возвращает отложенную операцию администратора и сбрасывает ее.
func (s *Sessions) Take(adminID int64) PendingOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[adminID]
	if !ok {
		return OpNone
	}
	delete(s.ops, adminID)
	return op
}
