package biz

import (
	"context"
	"sync"
	"time"

	"avalanche/internal/conf"

	"github.com/yola1107/kratos/v2/log"
)

// SceneRepo 会话检查点与盐值的持久层（redis实现见data层）
type SceneRepo interface {
	SaveCheckpoint(ctx context.Context, playerID int64, cp *RecoveryCheckpoint) error
	LoadCheckpoint(ctx context.Context, playerID int64) (*RecoveryCheckpoint, error)
	DeleteCheckpoint(ctx context.Context, playerID int64) error
	SessionSalt(ctx context.Context, playerID int64) (string, error)
}

// DesyncHandler 失步回调：由传输层注册，负责把恢复数据推给客户端
type DesyncHandler func(sess *GameSession, method string)

// SessionManager 维护全部在线会话。每个会话的入站消息由其BetLock
// 串行处理；跨会话工作（队列清理、失步扫描）由独立周期任务驱动，
// 与请求路径使用同一把会话锁。
type SessionManager struct {
	cfg    *conf.Session
	scenes SceneRepo
	log    *log.Helper

	mu       sync.RWMutex
	sessions map[int64]*GameSession

	hooksMu  sync.Mutex
	hooks    []func()
	onDesync DesyncHandler

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSessionManager(c *conf.Game, scenes SceneRepo, logger log.Logger) (*SessionManager, func(), error) {
	cfg := c.Session
	if cfg == nil {
		cfg = &conf.Session{}
	}
	m := &SessionManager{
		cfg:      cfg,
		scenes:   scenes,
		log:      log.NewHelper(logger),
		sessions: make(map[int64]*GameSession),
		done:     make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.sweepLoop(ctx)
	return m, func() { m.Stop() }, nil
}

func (m *SessionManager) Stop() {
	m.cancel()
	<-m.done
}

func (m *SessionManager) Config() *conf.Session { return m.cfg }

// SetDesyncHandler 注册失步推送回调
func (m *SessionManager) SetDesyncHandler(h DesyncHandler) {
	m.hooksMu.Lock()
	m.onDesync = h
	m.hooksMu.Unlock()
}

// AddSweepHook 挂载额外的周期清扫任务（如限频桶清理）
func (m *SessionManager) AddSweepHook(fn func()) {
	m.hooksMu.Lock()
	m.hooks = append(m.hooks, fn)
	m.hooksMu.Unlock()
}

// Get 查找会话
func (m *SessionManager) Get(playerID int64) (*GameSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[playerID]
	return s, ok
}

// GetOrCreate 首次连接/鉴权时建立会话；宽限期内重连会从
// 持久化检查点复原游戏模式状态。
func (m *SessionManager) GetOrCreate(ctx context.Context, playerID int64) *GameSession {
	m.mu.RLock()
	if s, ok := m.sessions[playerID]; ok {
		m.mu.RUnlock()
		s.Touch()
		return s
	}
	m.mu.RUnlock()

	salt := ""
	if m.scenes != nil {
		var err error
		if salt, err = m.scenes.SessionSalt(ctx, playerID); err != nil {
			m.log.WithContext(ctx).Errorf("session salt: player=%d err=%v", playerID, err)
		}
	}

	m.mu.Lock()
	if s, ok := m.sessions[playerID]; ok {
		m.mu.Unlock()
		return s
	}
	s := NewGameSession(playerID, salt)
	m.sessions[playerID] = s
	m.mu.Unlock()

	if m.scenes != nil {
		if cp, err := m.scenes.LoadCheckpoint(ctx, playerID); err == nil && cp != nil {
			grace := time.Duration(m.cfg.ReconnectGraceMs) * time.Millisecond
			if grace <= 0 || time.Since(cp.TakenAt) <= grace {
				s.RestoreFromCheckpoint(cp)
			} else {
				_ = m.scenes.DeleteCheckpoint(ctx, playerID)
			}
		}
	}
	return s
}

// Remove 断线超时后拆除会话并释放资源
func (m *SessionManager) Remove(playerID int64) {
	m.mu.Lock()
	s, ok := m.sessions[playerID]
	delete(m.sessions, playerID)
	m.mu.Unlock()
	if ok {
		s.AbandonCascade()
	}
}

func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *SessionManager) snapshot() []*GameSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*GameSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *SessionManager) sweepLoop(ctx context.Context) {
	defer close(m.done)
	interval := time.Duration(m.cfg.SweepIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunSweep(ctx)
		}
	}
}

// RunSweep 一次完整清扫周期：处理校验队列、探测失步并发起恢复、
// 回收空闲会话，最后执行挂载的附加任务。
func (m *SessionManager) RunSweep(ctx context.Context) {
	timeout := time.Duration(m.cfg.ValidationTimeoutMs) * time.Millisecond
	idle := time.Duration(m.cfg.IdleTimeoutMs) * time.Millisecond
	recoveryTimeout := time.Duration(m.cfg.RecoveryTimeoutMs) * time.Millisecond
	if recoveryTimeout <= 0 {
		recoveryTimeout = 10 * time.Second
	}

	for _, s := range m.snapshot() {
		sum := s.ProcessPendingValidations(timeout)
		if sum.Failed > 0 {
			m.log.Warnf("validations failed: player=%d failed=%d", s.PlayerID, sum.Failed)
		}

		if s.DetectDesynchronization(m.cfg.FailedValidations, m.cfg.MaxSyncFailures) {
			m.log.Warnf("session desynchronized: player=%d spin=%s", s.PlayerID, s.CurrentSpinID())
			m.recover(ctx, s)
		}

		// 恢复指令发出后客户端始终无响应：判本次恢复失败，
		// 按严重程度升级重发，尝试耗尽则置为需整载的终态
		if s.RecoveryStalled(recoveryTimeout) {
			m.log.Warnf("recovery stalled: player=%d spin=%s", s.PlayerID, s.CurrentSpinID())
			if err := s.CompleteRecovery(false, m.cfg.MaxRecoveryAttempts); err != nil {
				m.log.Errorf("recovery exhausted: player=%d err=%v", s.PlayerID, err)
			} else {
				m.recover(ctx, s)
			}
		}

		if idle > 0 && time.Since(s.IdleSince()) > idle && !s.CascadeInProgress() {
			m.Remove(s.PlayerID)
		}
	}

	m.hooksMu.Lock()
	hooks := make([]func(), len(m.hooks))
	copy(hooks, m.hooks)
	m.hooksMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// recover 发起一次恢复：快照检查点→持久化→交由传输层重发。
// 恢复方式按严重程度递增，受最大尝试数约束。
func (m *SessionManager) recover(ctx context.Context, s *GameSession) {
	method := s.NextRecoveryMethod()
	cp, err := s.InitiateRecovery(method, m.cfg.MaxRecoveryAttempts)
	if err != nil {
		m.log.Errorf("recovery exhausted: player=%d err=%v", s.PlayerID, err)
		return
	}
	if m.scenes != nil {
		if err := m.scenes.SaveCheckpoint(ctx, s.PlayerID, cp); err != nil {
			m.log.Errorf("save checkpoint: player=%d err=%v", s.PlayerID, err)
		}
	}
	m.hooksMu.Lock()
	h := m.onDesync
	m.hooksMu.Unlock()
	if h != nil {
		h(s, method)
	}
}
