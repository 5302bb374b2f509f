package xxl

// GameConfig 游戏配置（权重、赔付、上限均为可调参数，非协议不变量）
type GameConfig struct {
	MinClusterSize int64     `json:"minClusterSize"` // 最小成簇数量
	SymbolWeights  []int64   `json:"symbolWeights"`  // 普通符号权重（索引0对应符号1）
	ScatterWeight  int64     `json:"scatterWeight"`  // 夺宝符号权重
	PayTable       [][]int64 `json:"payTable"`       // [符号][档位] 基础倍率
	PayTiers       []int64   `json:"payTiers"`       // 档位下限（簇大小），升序
	FreeSpinAwards []int64   `json:"freeSpinAwards"` // 夺宝数量→免费次数（索引0对应触发下限）
	ScatterTrigger int64     `json:"scatterTrigger"` // 触发免费的夺宝最低数量
	Ladder         []int64   `json:"ladder"`         // 连消倍数阶梯
	MaxMultiplier  int64     `json:"maxMultiplier"`  // 累积倍数上限
	MaxWinXBet     int64     `json:"maxWinXBet"`     // 最大奖金（下注倍数）
	StepDurationMs int64     `json:"stepDurationMs"` // 单轮播放时长提示
}

// defaultGameConfig 默认调参（RTP基准约96.2%）
func defaultGameConfig() *GameConfig {
	return &GameConfig{
		MinClusterSize: 5,
		SymbolWeights:  []int64{200, 180, 160, 140, 100, 70, 40, 20},
		ScatterWeight:  8,
		// 档位：5-7 / 8-9 / 10-11 / 12-14 / 15+
		PayTiers: []int64{5, 8, 10, 12, 15},
		PayTable: [][]int64{
			{1, 2, 5, 15, 50},     // 樱桃
			{1, 3, 6, 20, 60},     // 柠檬
			{2, 4, 8, 25, 80},     // 西瓜
			{2, 5, 10, 30, 100},   // 葡萄
			{3, 8, 15, 50, 150},   // 铃铛
			{5, 12, 25, 80, 250},  // 皇冠
			{8, 20, 40, 120, 400}, // 钻石
			{10, 30, 60, 200, 0},  // 七（15+与12档合并到上限）
		},
		ScatterTrigger: 3,
		FreeSpinAwards: []int64{8, 12, 15, 20, 25}, // 3/4/5/6/7个夺宝
		Ladder:         []int64{1, 2, 3, 5, 8, 10},
		MaxMultiplier:  10,
		MaxWinXBet:     10000,
		StepDurationMs: 1200,
	}
}

// normalize 修正缺省与非法配置项
func (c *GameConfig) normalize() {
	def := defaultGameConfig()
	if c.MinClusterSize <= 1 {
		c.MinClusterSize = def.MinClusterSize
	}
	if len(c.SymbolWeights) != _symbolCount {
		c.SymbolWeights = def.SymbolWeights
	}
	if c.ScatterWeight <= 0 {
		c.ScatterWeight = def.ScatterWeight
	}
	if len(c.PayTiers) == 0 || len(c.PayTable) != _symbolCount {
		c.PayTiers = def.PayTiers
		c.PayTable = def.PayTable
	}
	if c.ScatterTrigger <= 0 {
		c.ScatterTrigger = def.ScatterTrigger
	}
	if len(c.FreeSpinAwards) == 0 {
		c.FreeSpinAwards = def.FreeSpinAwards
	}
	if len(c.Ladder) == 0 {
		c.Ladder = def.Ladder
	}
	if c.MaxMultiplier <= 0 {
		c.MaxMultiplier = def.MaxMultiplier
	}
	if c.MaxWinXBet <= 0 {
		c.MaxWinXBet = def.MaxWinXBet
	}
	if c.StepDurationMs <= 0 {
		c.StepDurationMs = def.StepDurationMs
	}
}

// tierIndex 簇大小对应的赔付档位，-1表示未达最低档
func (c *GameConfig) tierIndex(size int64) int {
	idx := -1
	for i, th := range c.PayTiers {
		if size >= th {
			idx = i
		}
	}
	return idx
}

// payoutMultiplier 符号在指定簇大小下的基础倍率
func (c *GameConfig) payoutMultiplier(symbol, size int64) int64 {
	if symbol < 1 || symbol > _symbolCount {
		return 0
	}
	idx := c.tierIndex(size)
	if idx < 0 {
		return 0
	}
	table := c.PayTable[symbol-1]
	if idx >= len(table) {
		idx = len(table) - 1
	}
	m := table[idx]
	if m == 0 && idx > 0 {
		// 高档位未配置时退回上一档
		m = table[idx-1]
	}
	return m
}

// ladderMultiplier 连消阶梯倍数（超出阶梯取末档，封顶MaxMultiplier）
func (c *GameConfig) ladderMultiplier(step int64) int64 {
	var m int64
	if int(step) < len(c.Ladder) {
		m = c.Ladder[step]
	} else {
		m = c.Ladder[len(c.Ladder)-1]
	}
	if m > c.MaxMultiplier {
		m = c.MaxMultiplier
	}
	if m < 1 {
		m = 1
	}
	return m
}

// freeSpinAward 夺宝数量对应的免费次数
func (c *GameConfig) freeSpinAward(scatters int64) int64 {
	if scatters < c.ScatterTrigger {
		return 0
	}
	idx := scatters - c.ScatterTrigger
	if int(idx) >= len(c.FreeSpinAwards) {
		idx = int64(len(c.FreeSpinAwards)) - 1
	}
	return c.FreeSpinAwards[idx]
}
