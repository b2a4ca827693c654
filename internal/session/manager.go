package session

import (
	"sync"
	"time"

	"signbridge/internal/logger"
	"signbridge/pkg/model"
)

// Session 一次抓取调用持有的浏览器会话
type Session struct {
	ID        model.SessionID
	Owned     bool
	Endpoint  string
	StartedAt time.Time

	once     sync.Once
	teardown func()
}

// Teardown 只执行一次
func (s *Session) Teardown() {
	s.once.Do(func() {
		if s.teardown != nil {
			s.teardown()
		}
	})
}

// Manager 活动会话登记表
type Manager struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]*Session
	log      logger.Logger
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[model.SessionID]*Session),
		log:      l,
	}
}

// Create 创建并登记会话，teardown 在 Release 或 CloseAll 时执行
func (m *Manager) Create(id model.SessionID, owned bool, endpoint string, teardown func()) *Session {
	s := &Session{ID: id, Owned: owned, Endpoint: endpoint, StartedAt: time.Now(), teardown: teardown}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.log.Debug("登记抓取会话", "sessionID", string(id), "owned", owned)
	return s
}

// Release 注销并清理会话
func (m *Manager) Release(id model.SessionID) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Teardown()
		m.log.Debug("释放抓取会话", "sessionID", string(id))
	}
}

// List 返回所有活动会话
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	return list
}

// CloseAll 清理所有残留会话
func (m *Manager) CloseAll() int {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[model.SessionID]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Teardown()
	}
	if len(all) > 0 {
		m.log.Info("清理残留抓取会话", "count", len(all))
	}
	return len(all)
}
