package xxl

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Grid 符号网格类型（7行×7列）
type Grid = [_rowCount][_colCount]int64

// Position 网格坐标
type Position struct {
	Row int64 `json:"r"`
	Col int64 `json:"c"`
}

// ClusterInfo 单个消除簇
type ClusterInfo struct {
	Symbol     int64           `json:"symbol"`     // 符号ID
	Positions  []Position      `json:"positions"`  // 成员坐标
	Count      int64           `json:"count"`      // 符号数量
	Multiplier int64           `json:"multiplier"` // 应用的累积倍数
	Win        decimal.Decimal `json:"win"`        // 本簇奖金
}

// ColumnDrop 单列掉落信息（新补入符号自上而下）
type ColumnDrop struct {
	Col     int64   `json:"col"`
	Symbols []int64 `json:"symbols"`
}

// CascadeStep 单轮消除（消除→下落→补入）
type CascadeStep struct {
	StepNumber int64           `json:"stepNumber"` // 0起始，严格递增
	GridBefore Grid            `json:"gridBefore"` // 消除前网格
	GridAfter  Grid            `json:"gridAfter"`  // 补入后网格
	Clusters   []ClusterInfo   `json:"clusters"`   // 本轮所有消除簇
	Drops      []ColumnDrop    `json:"drops"`      // 每列掉落模式
	Multiplier int64           `json:"multiplier"` // 本轮累积倍数
	StepWin    decimal.Decimal `json:"stepWin"`    // 本轮奖金合计
	DurationMs int64           `json:"durationMs"` // 客户端播放时长提示
}

// SpinResult 单次spin的完整结算结果（生成后不可变）
type SpinResult struct {
	SpinID           string          `json:"spinId"`   // 全局唯一，幂等键
	PlayerID         int64           `json:"playerId"` // 玩家ID
	BetAmount        decimal.Decimal `json:"betAmount"`
	InitialGrid      Grid            `json:"initialGrid"`
	FinalGrid        Grid            `json:"finalGrid"`
	CascadeSteps     []*CascadeStep  `json:"cascadeSteps"`
	TotalWin         decimal.Decimal `json:"totalWin"`
	BaseWin          decimal.Decimal `json:"baseWin"` // 首轮奖金
	RngSeed          int64           `json:"rngSeed"`
	ScatterCount     int64           `json:"scatterCount"`
	FreeSpinsAwarded int64           `json:"freeSpinsAwarded"`
	IsFreeSpin       bool            `json:"isFreeSpin"`
	EndMultiplier    int64           `json:"endMultiplier"` // spin结束时的累积倍数
	WinClipped       bool            `json:"winClipped"`    // 奖金是否触达上限被截断
}

// ModeFlags 请求模式标志
type ModeFlags struct {
	FreeSpinsActive bool  // 处于免费游戏
	AccumMultiplier int64 // 免费游戏延续的累积倍数（0表示从头开始）
	BonusMode       bool  // 购买的奖励模式
}

// cluster 内部BFS结果
type cluster struct {
	symbol int64
	cells  []Position
}

// GridFromRows 边界校验：行列形状必须与网格完全一致
func GridFromRows(rows [][]int64) (Grid, error) {
	var g Grid
	if int64(len(rows)) != _rowCount {
		return g, fmt.Errorf("grid rows %d, expect %d", len(rows), _rowCount)
	}
	for r, row := range rows {
		if int64(len(row)) != _colCount {
			return g, fmt.Errorf("grid row %d cols %d, expect %d", r, len(row), _colCount)
		}
		for c, v := range row {
			g[r][c] = v
		}
	}
	return g, nil
}

// GridRows 网格转二维切片（出站载荷用）
func GridRows(g *Grid) [][]int64 {
	rows := make([][]int64, _rowCount)
	for r := int64(0); r < _rowCount; r++ {
		row := make([]int64, _colCount)
		copy(row, g[r][:])
		rows[r] = row
	}
	return rows
}
