// Package conf holds the bootstrap configuration scanned from configs/.
package conf

import "avalanche/internal/game/xxl"

type Bootstrap struct {
	Server *Server `json:"server"`
	Data   *Data   `json:"data"`
	Game   *Game   `json:"game"`
}

type Server struct {
	Http      *ServerItem `json:"http"`
	Websocket *Websocket  `json:"websocket"`
}

type ServerItem struct {
	Network   string `json:"network"`
	Addr      string `json:"addr"`
	TimeoutMs int64  `json:"timeoutMs"`
}

type Websocket struct {
	Path string `json:"path"` // 挂载在HTTP服务上的升级路径
}

type Data struct {
	Database *Database `json:"database"`
	Redis    *Redis    `json:"redis"`
	Rabbitmq *Rabbitmq `json:"rabbitmq"`
}

type Database struct {
	Driver string `json:"driver"`
	Source string `json:"source"`
}

type Redis struct {
	Addr string `json:"addr"`
}

type Rabbitmq struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Vhost    string `json:"vhost"`
	Exchange string `json:"exchange"` // 审计交换机
}

type Game struct {
	Site      string          `json:"site"` // redis键前缀（站点隔离）
	Engine    *xxl.GameConfig `json:"engine"`
	AntiCheat *AntiCheat      `json:"antiCheat"`
	Session   *Session        `json:"session"`
}

// AntiCheat 反作弊闸门配置
type AntiCheat struct {
	DemoMaxBet     string `json:"demoMaxBet"`     // 演示账户单注上限
	RealMaxBet     string `json:"realMaxBet"`     // 真实账户单注上限
	MaxMultiplier  int64  `json:"maxMultiplier"`  // 申报倍数上限
	SpinsPerMinute int    `json:"spinsPerMinute"` // 每分钟请求上限
	SpinsPerHour   int    `json:"spinsPerHour"`   // 每小时请求上限
	CooldownMs     int64  `json:"cooldownMs"`     // 两次请求最小间隔
}

// Session 会话同步配置
type Session struct {
	ValidationQueueSize int   `json:"validationQueueSize"` // 校验队列上限（超出逐出最旧）
	ValidationTimeoutMs int64 `json:"validationTimeoutMs"` // 校验项过期时间
	CascadeBufferMs     int64 `json:"cascadeBufferMs"`     // 消除序列超时缓冲
	MaxRecoveryAttempts int   `json:"maxRecoveryAttempts"` // 恢复尝试上限
	RecoveryTimeoutMs   int64 `json:"recoveryTimeoutMs"`   // 单次恢复等待客户端响应的上限
	MaxSyncFailures     int   `json:"maxSyncFailures"`     // 强制全量重同步前的失败上限
	FailedValidations   int   `json:"failedValidations"`   // 触发失步的校验失败阈值
	ReconnectGraceMs    int64 `json:"reconnectGraceMs"`    // 断线重连宽限期
	IdleTimeoutMs       int64 `json:"idleTimeoutMs"`       // 会话空闲回收时间
	SweepIntervalMs     int64 `json:"sweepIntervalMs"`     // 周期清扫间隔
}
