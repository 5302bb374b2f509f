package xxl

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var testLogger *zap.Logger

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeCaller = zapcore.FullCallerEncoder
	testLogger, _ = cfg.Build()
}

const (
	rtpTestRounds    int64 = 1e5
	progressInterval int64 = 2e4
)

// rtpStats RTP统计数据结构
type rtpStats struct {
	// 基础模式统计
	baseRounds  int64
	baseWin     float64
	baseWinTime int64
	totalBet    float64

	// 免费模式统计
	freeRounds    int64
	freeWin       float64
	freeWinRounds int64

	// 触发统计
	freeTime int64

	// 总统计
	totalWin float64

	// 消除轮数分布
	stepCounts [12]int64
	// 截断次数
	clipped int64
}

func TestRtp(t *testing.T) {
	sim := NewSimulator(nil, testLogger)
	stats := &rtpStats{}
	start := time.Now()
	buf := &strings.Builder{}
	bet := decimal.NewFromInt(1)

	var freeSpinsLeft int64
	var carryMultiplier int64
	var roundWin float64

	for stats.baseRounds < rtpTestRounds {
		isFree := freeSpinsLeft > 0
		flags := ModeFlags{}
		if isFree {
			freeSpinsLeft--
			flags.FreeSpinsActive = true
			flags.AccumMultiplier = carryMultiplier
		}

		res, err := sim.Simulate(bet, NewSeed(), flags)
		if err != nil {
			t.Fatal(err)
		}

		win, _ := res.TotalWin.Float64()
		stats.totalWin += win
		roundWin += win
		if n := len(res.CascadeSteps); n < len(stats.stepCounts) {
			stats.stepCounts[n]++
		} else {
			stats.stepCounts[len(stats.stepCounts)-1]++
		}
		if res.WinClipped {
			stats.clipped++
		}

		if isFree {
			stats.freeWin += win
			carryMultiplier = res.EndMultiplier
			freeSpinsLeft += res.FreeSpinsAwarded
			if freeSpinsLeft <= 0 {
				stats.freeRounds++
				if roundWin > 0 {
					stats.freeWinRounds++
				}
				carryMultiplier = 0
				roundWin = 0
			}
		} else {
			stats.baseWin += win
			stats.baseRounds++
			stats.totalBet += 1
			if win > 0 {
				stats.baseWinTime++
			}
			if res.FreeSpinsAwarded > 0 {
				stats.freeTime++
				freeSpinsLeft = res.FreeSpinsAwarded
				carryMultiplier = res.EndMultiplier
			} else {
				roundWin = 0
			}

			if stats.baseRounds%progressInterval == 0 {
				printProgress(buf, stats, start)
				fmt.Print(buf.String())
			}
		}
	}

	printSummary(buf, stats, start)
	fmt.Print(buf.String())

	totalRTP := safeDivide(stats.totalWin, stats.totalBet) * 100
	if totalRTP <= 0 || totalRTP > 200 {
		t.Fatalf("RTP out of sane range: %.2f%%", totalRTP)
	}
}

func printProgress(buf *strings.Builder, stats *rtpStats, start time.Time) {
	if stats.baseRounds == 0 || stats.totalBet == 0 {
		return
	}
	buf.Reset()
	fprintf(buf, "\rRuntime=%d baseRtp=%.4f%% baseWinRate=%.4f%% freeRtp=%.4f%% freeTriggerRate=%.4f%% Rtp=%.4f%% elapsed=%v\n",
		stats.baseRounds,
		safeDivide(stats.baseWin, stats.totalBet)*100,
		safeDivide(float64(stats.baseWinTime), float64(stats.baseRounds))*100,
		safeDivide(stats.freeWin, stats.totalBet)*100,
		safeDivide(float64(stats.freeTime), float64(stats.baseRounds))*100,
		safeDivide(stats.totalWin, stats.totalBet)*100,
		time.Since(start).Round(time.Second),
	)
}

func printSummary(buf *strings.Builder, stats *rtpStats, start time.Time) {
	if stats.baseRounds == 0 || stats.totalBet == 0 {
		buf.WriteString("No data collected for RTP run.\n")
		return
	}

	w := func(format string, args ...interface{}) { fprintf(buf, format, args...) }
	elapsed := time.Since(start)
	speed := safeDivide(float64(stats.baseRounds), elapsed.Seconds())
	w("\n运行局数: %d，用时: %v，速度: %.0f 局/秒\n", stats.baseRounds, elapsed.Round(time.Second), speed)

	w("\n[总计]\n")
	w("总回报率(RTP): %.2f%%\n", safeDivide(stats.totalWin, stats.totalBet)*100)
	w("赢分截断次数: %d\n", stats.clipped)

	w("\n[基础模式统计]\n")
	w("基础模式总游戏局数: %d\n", stats.baseRounds)
	w("基础模式总投注: %.2f\n", stats.totalBet)
	w("基础模式总奖金: %.2f\n", stats.baseWin)
	w("基础模式RTP: %.2f%%\n", safeDivide(stats.baseWin, stats.totalBet)*100)
	w("基础模式中奖率: %.2f%%\n", safeDivide(float64(stats.baseWinTime), float64(stats.baseRounds))*100)
	w("基础模式免费局触发次数: %d\n", stats.freeTime)
	w("基础模式触发免费局比例: %.4f%%\n", safeDivide(float64(stats.freeTime), float64(stats.baseRounds))*100)

	w("\n[免费模式统计]\n")
	w("免费模式总游戏局数: %d\n", stats.freeRounds)
	w("免费模式总奖金: %.2f\n", stats.freeWin)
	w("免费模式RTP: %.2f%%\n", safeDivide(stats.freeWin, stats.totalBet)*100)
	if stats.freeRounds > 0 {
		w("免费模式中奖率: %.2f%%\n", safeDivide(float64(stats.freeWinRounds), float64(stats.freeRounds))*100)
	}

	w("\n[消除轮数分布]\n")
	for i, c := range stats.stepCounts {
		if c == 0 {
			continue
		}
		label := fmt.Sprintf("%d", i)
		if i == len(stats.stepCounts)-1 {
			label = fmt.Sprintf("%d+", i)
		}
		w("  轮数 %s: %d\n", label, c)
	}
}

func fprintf(buf *strings.Builder, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(buf, format, args...)
}

func safeDivide(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}
