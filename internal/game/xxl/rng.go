package xxl

import (
	"crypto/rand"
	"encoding/binary"
	mathRand "math/rand"
	"time"

	"go.uber.org/zap"
)

// ========== 随机数生成器 ==========

// NewSeed 生成一次spin的审计种子（密码学强随机，失败回退时间种子）
func NewSeed() int64 {
	var seed int64
	if err := binary.Read(rand.Reader, binary.BigEndian, &seed); err != nil {
		zap.L().Error("NewSeed", zap.Error(err))
		return time.Now().UnixNano()
	}
	return seed
}

// roller 确定性随机源
type roller = *mathRand.Rand

// newRoller 由种子构造确定性随机源，同一种子序列完全可复现
func newRoller(seed int64) roller {
	return mathRand.New(mathRand.NewSource(seed))
}
