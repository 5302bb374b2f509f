package biz

import (
	"time"

	"avalanche/internal/game/xxl"
)

// 校验项状态
const (
	ValidationPending    = "pending"
	ValidationValidating = "validating"
	ValidationValidated  = "validated"
	ValidationFailed     = "failed"
)

// StepValidation 一条待比对的step校验（客户端提交 vs 服务端记录）
type StepValidation struct {
	StepNumber  int64
	ClientGrid  xxl.Grid
	ClientCount int64
	Status      string
	Retries     int
	EnqueuedAt  time.Time
}

// GridValidation 一条待比对的网格哈希校验
type GridValidation struct {
	StepNumber int64
	ClientHash string
	Status     string
	Retries    int
	EnqueuedAt time.Time
}

// SyncSummary 单个处理周期的结果汇总
type SyncSummary struct {
	Processed int
	Passed    int
	Failed    int
	Purged    int
}

// AddStepValidation 入队step校验；队列有界，溢出时逐出最旧一条。
func (s *GameSession) AddStepValidation(stepNumber int64, clientGrid xxl.Grid, clusterCount int64, maxQueue int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := &StepValidation{
		StepNumber:  stepNumber,
		ClientGrid:  clientGrid,
		ClientCount: clusterCount,
		Status:      ValidationPending,
		EnqueuedAt:  time.Now(),
	}
	if maxQueue > 0 && len(s.stepQueue) >= maxQueue {
		s.stepQueue = s.stepQueue[1:]
	}
	s.stepQueue = append(s.stepQueue, item)
}

// AddGridValidation 入队网格哈希校验；队列有界，溢出时逐出最旧一条。
func (s *GameSession) AddGridValidation(stepNumber int64, clientHash string, maxQueue int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := &GridValidation{
		StepNumber: stepNumber,
		ClientHash: clientHash,
		Status:     ValidationPending,
		EnqueuedAt: time.Now(),
	}
	if maxQueue > 0 && len(s.gridQueue) >= maxQueue {
		s.gridQueue = s.gridQueue[1:]
	}
	s.gridQueue = append(s.gridQueue, item)
}

// ProcessPendingValidations 每个周期对两个队列各走一遍。
// step校验要求step编号、消除后网格、簇数量三者完全一致；
// 网格校验要求加盐哈希一致。任何失败累加会话失步计数。
// 超过校验超时的队列项无条件清除。本方法不做任何财务决策。
func (s *GameSession) ProcessPendingValidations(timeout time.Duration) SyncSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum SyncSummary
	now := time.Now()

	keepSteps := s.stepQueue[:0]
	for _, item := range s.stepQueue {
		if timeout > 0 && now.Sub(item.EnqueuedAt) > timeout {
			sum.Purged++
			continue
		}
		if item.Status != ValidationPending {
			keepSteps = append(keepSteps, item)
			continue
		}
		item.Status = ValidationValidating
		sum.Processed++
		if s.validateStepLocked(item) {
			item.Status = ValidationValidated
			sum.Passed++
		} else {
			item.Status = ValidationFailed
			item.Retries++
			s.syncFailures++
			sum.Failed++
		}
		keepSteps = append(keepSteps, item)
	}
	s.stepQueue = keepSteps

	keepGrids := s.gridQueue[:0]
	for _, item := range s.gridQueue {
		if timeout > 0 && now.Sub(item.EnqueuedAt) > timeout {
			sum.Purged++
			continue
		}
		if item.Status != ValidationPending {
			keepGrids = append(keepGrids, item)
			continue
		}
		item.Status = ValidationValidating
		sum.Processed++
		if s.validateGridLocked(item) {
			item.Status = ValidationValidated
			sum.Passed++
		} else {
			item.Status = ValidationFailed
			item.Retries++
			s.syncFailures++
			sum.Failed++
		}
		keepGrids = append(keepGrids, item)
	}
	s.gridQueue = keepGrids

	return sum
}

// spinForValidationLocked 校验比对的服务端记录：在途spin优先，
// 序列刚收尾时退回归档件（末步确认随包提交的校验此时才被处理）。
func (s *GameSession) spinForValidationLocked() *xxl.SpinResult {
	if s.spin != nil {
		return s.spin
	}
	return s.lastSpin
}

// validateStepLocked step编号、消除后网格、簇数量全部精确匹配才通过
func (s *GameSession) validateStepLocked(item *StepValidation) bool {
	spin := s.spinForValidationLocked()
	if spin == nil {
		return false
	}
	if item.StepNumber < 0 || item.StepNumber >= int64(len(spin.CascadeSteps)) {
		return false
	}
	server := spin.CascadeSteps[item.StepNumber]
	if server.StepNumber != item.StepNumber {
		return false
	}
	if item.ClientGrid != server.GridAfter {
		return false
	}
	return item.ClientCount == int64(len(server.Clusters))
}

// validateGridLocked 提交网格的加盐哈希与服务端该step记录的网格哈希比对
func (s *GameSession) validateGridLocked(item *GridValidation) bool {
	spin := s.spinForValidationLocked()
	if spin == nil {
		return false
	}
	var server *xxl.Grid
	switch {
	case item.StepNumber == 0:
		server = &spin.InitialGrid
	case item.StepNumber > 0 && item.StepNumber <= int64(len(spin.CascadeSteps)):
		server = &spin.CascadeSteps[item.StepNumber-1].GridAfter
	default:
		return false
	}
	return xxl.GridHash(server, s.salt) == item.ClientHash
}

// SyncFailures 累计失步计数
func (s *GameSession) SyncFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncFailures
}

// QueueDepth 两个校验队列当前深度
func (s *GameSession) QueueDepth() (steps, grids int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stepQueue), len(s.gridQueue)
}
