package xxl

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
)

// ValidateGameResult 自校验：从初始网格重放全部消除轮，
// 任何奖金、网格转移或簇与重算不符即判定非法。防篡改与自检共用此入口。
func (s *Simulator) ValidateGameResult(res *SpinResult) error {
	if res == nil {
		return fmt.Errorf("nil result")
	}
	if res.BetAmount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("non-positive bet: %s", res.BetAmount)
	}

	grid := res.InitialGrid
	totalWin := decimal.Zero

	for i, step := range res.CascadeSteps {
		if step.StepNumber != int64(i) {
			return fmt.Errorf("step %d: number %d out of sequence", i, step.StepNumber)
		}
		if step.GridBefore != grid {
			return fmt.Errorf("step %d: gridBefore mismatch", i)
		}

		recomputed := s.findClusters(&grid)
		if len(recomputed) != len(step.Clusters) {
			return fmt.Errorf("step %d: cluster count %d, recomputed %d",
				i, len(step.Clusters), len(recomputed))
		}
		want := make(map[string]cluster, len(recomputed))
		for _, cl := range recomputed {
			want[clusterKey(cl.symbol, cl.cells)] = cl
		}

		stepWin := decimal.Zero
		for _, ci := range step.Clusters {
			if ci.Multiplier != step.Multiplier {
				return fmt.Errorf("step %d: cluster multiplier %d != step %d",
					i, ci.Multiplier, step.Multiplier)
			}
			if ci.Count != int64(len(ci.Positions)) {
				return fmt.Errorf("step %d: cluster count %d != positions %d",
					i, ci.Count, len(ci.Positions))
			}
			key := clusterKey(ci.Symbol, ci.Positions)
			if _, ok := want[key]; !ok {
				return fmt.Errorf("step %d: cluster of symbol %d not in recomputation", i, ci.Symbol)
			}
			delete(want, key)

			base := s.cfg.payoutMultiplier(ci.Symbol, ci.Count)
			win := res.BetAmount.Mul(decimal.NewFromInt(base * step.Multiplier))
			if !ci.Win.Equal(win) {
				return fmt.Errorf("step %d: cluster win %s, recomputed %s", i, ci.Win, win)
			}
			stepWin = stepWin.Add(win)
			for _, p := range ci.Positions {
				grid[p.Row][p.Col] = _blank
			}
		}
		if !step.StepWin.Equal(stepWin) {
			return fmt.Errorf("step %d: stepWin %s, recomputed %s", i, step.StepWin, stepWin)
		}
		totalWin = totalWin.Add(stepWin)

		if err := replayDrop(&grid, step); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if grid != step.GridAfter {
			return fmt.Errorf("step %d: gridAfter mismatch", i)
		}
	}

	if grid != res.FinalGrid {
		return fmt.Errorf("finalGrid mismatch")
	}

	maxWin := res.BetAmount.Mul(decimal.NewFromInt(s.cfg.MaxWinXBet))
	if totalWin.GreaterThan(maxWin) {
		if !res.WinClipped || !res.TotalWin.Equal(maxWin) {
			return fmt.Errorf("totalWin not clipped: %s > %s", totalWin, maxWin)
		}
	} else if !res.TotalWin.Equal(totalWin) {
		return fmt.Errorf("totalWin %s, recomputed %s", res.TotalWin, totalWin)
	}

	if sc := countScatters(&grid); sc != res.ScatterCount {
		return fmt.Errorf("scatterCount %d, recomputed %d", res.ScatterCount, sc)
	}
	if award := s.cfg.freeSpinAward(res.ScatterCount); award != res.FreeSpinsAwarded {
		return fmt.Errorf("freeSpinsAwarded %d, recomputed %d", res.FreeSpinsAwarded, award)
	}
	return nil
}

// replayDrop 按记录的掉落模式重放下落与补入
func replayDrop(grid *Grid, step *CascadeStep) error {
	dropByCol := make(map[int64][]int64, len(step.Drops))
	for _, d := range step.Drops {
		dropByCol[d.Col] = d.Symbols
	}
	for col := int64(0); col < _colCount; col++ {
		stack := make([]int64, 0, _rowCount)
		for row := int64(0); row < _rowCount; row++ {
			if grid[row][col] != _blank {
				stack = append(stack, grid[row][col])
			}
		}
		missing := _rowCount - int64(len(stack))
		fresh := dropByCol[col]
		if int64(len(fresh)) != missing {
			return fmt.Errorf("col %d: drop size %d, expect %d", col, len(fresh), missing)
		}
		for row := int64(0); row < missing; row++ {
			grid[row][col] = fresh[row]
		}
		for i, sym := range stack {
			grid[missing+int64(i)][col] = sym
		}
	}
	return nil
}

// clusterKey 簇的规范签名（符号+升序坐标）
func clusterKey(symbol int64, cells []Position) string {
	sorted := make([]Position, len(cells))
	copy(sorted, cells)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Row != sorted[j].Row {
			return sorted[i].Row < sorted[j].Row
		}
		return sorted[i].Col < sorted[j].Col
	})
	key := strconv.FormatInt(symbol, 10)
	for _, p := range sorted {
		key += fmt.Sprintf(":%d,%d", p.Row, p.Col)
	}
	return key
}

// GridHash 加盐网格哈希，用于客户端网格校验比对
func GridHash(grid *Grid, salt string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	var buf [8]byte
	for row := int64(0); row < _rowCount; row++ {
		for col := int64(0); col < _colCount; col++ {
			v := grid[row][col]
			for i := 0; i < 8; i++ {
				buf[i] = byte(v >> (8 * i))
			}
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
