package xxl

import (
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInvalidBet    = errors.New("invalid bet amount")
	ErrCascadeBudget = errors.New("cascade step budget exceeded")
)

// Simulator 旋转模拟器。纯计算，不做任何IO，结果完全由种子决定。
type Simulator struct {
	cfg *GameConfig
	log *zap.Logger
}

func NewSimulator(cfg *GameConfig, logger *zap.Logger) *Simulator {
	if cfg == nil {
		cfg = defaultGameConfig()
	}
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{cfg: cfg, log: logger}
}

func (s *Simulator) Config() *GameConfig { return s.cfg }

// Simulate 执行一次完整spin：铺盘→找簇→消除→下落→补入，循环至无簇。
// 相同 (bet, seed, flags) 必然产生相同结果。
func (s *Simulator) Simulate(bet decimal.Decimal, seed int64, flags ModeFlags) (*SpinResult, error) {
	if bet.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidBet
	}

	r := newRoller(seed)

	var grid Grid
	s.fillGrid(&grid, r)

	result := &SpinResult{
		BetAmount:   bet,
		InitialGrid: grid,
		RngSeed:     seed,
		IsFreeSpin:  flags.FreeSpinsActive,
		TotalWin:    decimal.Zero,
		BaseWin:     decimal.Zero,
	}

	carry := int64(1)
	if flags.FreeSpinsActive && flags.AccumMultiplier > 1 {
		carry = flags.AccumMultiplier
		if carry > s.cfg.MaxMultiplier {
			carry = s.cfg.MaxMultiplier
		}
	}

	endMultiplier := carry
	for stepNo := int64(0); ; stepNo++ {
		if stepNo >= _maxCascadeSteps {
			s.log.Error("simulate: cascade budget exceeded",
				zap.Int64("seed", seed), zap.Int64("step", stepNo))
			return nil, ErrCascadeBudget
		}

		clusters := s.findClusters(&grid)
		if len(clusters) == 0 {
			break
		}

		mult := s.stepMultiplier(stepNo, carry)
		endMultiplier = mult

		step := &CascadeStep{
			StepNumber: stepNo,
			GridBefore: grid,
			Multiplier: mult,
			StepWin:    decimal.Zero,
			DurationMs: s.cfg.StepDurationMs,
		}

		for _, cl := range clusters {
			base := s.cfg.payoutMultiplier(cl.symbol, int64(len(cl.cells)))
			win := bet.Mul(decimal.NewFromInt(base * mult))
			step.Clusters = append(step.Clusters, ClusterInfo{
				Symbol:     cl.symbol,
				Positions:  cl.cells,
				Count:      int64(len(cl.cells)),
				Multiplier: mult,
				Win:        win,
			})
			step.StepWin = step.StepWin.Add(win)
			for _, p := range cl.cells {
				grid[p.Row][p.Col] = _blank
			}
		}

		step.Drops = s.dropAndRefill(&grid, r)
		step.GridAfter = grid

		result.TotalWin = result.TotalWin.Add(step.StepWin)
		if stepNo == 0 {
			result.BaseWin = step.StepWin
		}
		result.CascadeSteps = append(result.CascadeSteps, step)
	}

	result.FinalGrid = grid
	result.EndMultiplier = endMultiplier

	// 奖金封顶：截断并记录，绝不静默丢弃
	maxWin := bet.Mul(decimal.NewFromInt(s.cfg.MaxWinXBet))
	if result.TotalWin.GreaterThan(maxWin) {
		s.log.Warn("simulate: total win clipped",
			zap.Int64("seed", seed),
			zap.String("totalWin", result.TotalWin.String()),
			zap.String("maxWin", maxWin.String()))
		result.TotalWin = maxWin
		result.WinClipped = true
	}

	result.ScatterCount = countScatters(&grid)
	result.FreeSpinsAwarded = s.cfg.freeSpinAward(result.ScatterCount)

	return result, nil
}

// stepMultiplier 本轮应用的累积倍数：连消阶梯与免费延续倍数取大，封顶
func (s *Simulator) stepMultiplier(stepNo, carry int64) int64 {
	m := s.cfg.ladderMultiplier(stepNo)
	if carry > m {
		m = carry
	}
	if m > s.cfg.MaxMultiplier {
		m = s.cfg.MaxMultiplier
	}
	return m
}

// fillGrid 按权重铺满整盘
func (s *Simulator) fillGrid(grid *Grid, r roller) {
	for row := int64(0); row < _rowCount; row++ {
		for col := int64(0); col < _colCount; col++ {
			grid[row][col] = s.drawSymbol(r)
		}
	}
}

// drawSymbol 按权重抽取单个符号（含夺宝）
func (s *Simulator) drawSymbol(r roller) int64 {
	total := s.cfg.ScatterWeight
	for _, w := range s.cfg.SymbolWeights {
		total += w
	}
	n := r.Int63n(total)
	for i, w := range s.cfg.SymbolWeights {
		if n < w {
			return int64(i) + 1
		}
		n -= w
	}
	return _scatter
}

// dropAndRefill 存量符号下落后补入新符号，返回每列掉落模式
func (s *Simulator) dropAndRefill(grid *Grid, r roller) []ColumnDrop {
	drops := make([]ColumnDrop, 0, _colCount)
	for col := int64(0); col < _colCount; col++ {
		stack := make([]int64, 0, _rowCount)
		for row := int64(0); row < _rowCount; row++ {
			if grid[row][col] != _blank {
				stack = append(stack, grid[row][col])
			}
		}
		missing := _rowCount - int64(len(stack))
		if missing == 0 {
			continue
		}
		fresh := make([]int64, missing)
		for i := range fresh {
			fresh[i] = s.drawSymbol(r)
		}
		// 新符号占据顶部，存量符号保持相对次序沉底
		for row := int64(0); row < missing; row++ {
			grid[row][col] = fresh[row]
		}
		for i, sym := range stack {
			grid[missing+int64(i)][col] = sym
		}
		drops = append(drops, ColumnDrop{Col: col, Symbols: fresh})
	}
	return drops
}

// findClusters BFS查找所有达标的同符号连通簇（4方向），行列升序保证确定性
func (s *Simulator) findClusters(grid *Grid) []cluster {
	var visited [_rowCount][_colCount]bool
	var clusters []cluster
	dirs := [4][2]int64{{0, 1}, {1, 0}, {0, -1}, {-1, 0}}

	for row := int64(0); row < _rowCount; row++ {
		for col := int64(0); col < _colCount; col++ {
			if visited[row][col] {
				continue
			}
			sym := grid[row][col]
			if sym == _blank || sym == _scatter {
				continue
			}
			var cells []Position
			queue := []Position{{Row: row, Col: col}}
			visited[row][col] = true
			for len(queue) > 0 {
				cur := queue[0]
				queue = queue[1:]
				cells = append(cells, cur)
				for _, d := range dirs {
					nr, nc := cur.Row+d[0], cur.Col+d[1]
					if nr < 0 || nr >= _rowCount || nc < 0 || nc >= _colCount {
						continue
					}
					if visited[nr][nc] || grid[nr][nc] != sym {
						continue
					}
					visited[nr][nc] = true
					queue = append(queue, Position{Row: nr, Col: nc})
				}
			}
			if int64(len(cells)) >= s.cfg.MinClusterSize {
				clusters = append(clusters, cluster{symbol: sym, cells: cells})
			}
		}
	}
	return clusters
}

// countScatters 统计盘面夺宝符号数量
func countScatters(grid *Grid) int64 {
	var cnt int64
	for row := int64(0); row < _rowCount; row++ {
		for col := int64(0); col < _colCount; col++ {
			if grid[row][col] == _scatter {
				cnt++
			}
		}
	}
	return cnt
}
