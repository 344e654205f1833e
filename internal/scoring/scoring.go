// Package scoring 预测打分：每局 0..50 分，整场 0..100 分，结果保留三位小数。
package scoring

import (
	"math"
	"math/big"
	"strconv"

	"StrikeRate/internal/model"
)

const (
	// RunWeight 跑分部分满分（单局 50 分的 80%）
	RunWeight = 40.0
	// WicketWeight 出局部分满分（单局 50 分的 20%）
	WicketWeight = 10.0
	// WicketPenalty 每差一个出局扣的分
	WicketPenalty = 2.0

	MaxInningsScore = RunWeight + WicketWeight
	MaxMatchScore   = 2 * MaxInningsScore
)

// Innings 单局跑分与出局数
type Innings struct {
	Runs    int
	Wickets int
}

// InningsScore 单局得分。实际跑分为 0 时除数取 1；跑分误差封顶为除数，保证跑分项不低于 0
func InningsScore(predicted, actual Innings) float64 {
	divisor := float64(actual.Runs)
	if actual.Runs == 0 {
		divisor = 1
	}
	runErr := math.Min(math.Abs(float64(predicted.Runs-actual.Runs)), divisor)
	runScore := math.Max(0, RunWeight*(1-runErr/divisor))
	wicketScore := math.Max(0, WicketWeight-WicketPenalty*math.Abs(float64(predicted.Wickets-actual.Wickets)))
	return Round3(runScore + wicketScore)
}

// MatchScore 整场得分 = 两局得分之和（两局各自先取三位小数）
func MatchScore(predicted, actual model.FinalScore) float64 {
	first := InningsScore(
		Innings{Runs: predicted.Team1Score, Wickets: predicted.Team1Wickets},
		Innings{Runs: actual.Team1Score, Wickets: actual.Team1Wickets},
	)
	second := InningsScore(
		Innings{Runs: predicted.Team2Score, Wickets: predicted.Team2Wickets},
		Innings{Runs: actual.Team2Score, Wickets: actual.Team2Wickets},
	)
	return Round3(first + second)
}

var (
	thousand = big.NewInt(1000)
	half     = big.NewFloat(0.5)
)

// Round3 保留三位小数：按 x 的精确二进制值做四舍五入（恰好一半时取较大者），
// 再取最接近的 float64。与 Number.prototype.toFixed(3) 后再解析的结果一致。
func Round3(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	neg := x < 0
	if neg {
		x = -x
	}
	scaled := new(big.Float).SetPrec(256).SetFloat64(x)
	scaled.Mul(scaled, new(big.Float).SetPrec(256).SetInt(thousand))
	n, _ := scaled.Int(nil)
	rem := new(big.Float).SetPrec(256).Sub(scaled, new(big.Float).SetPrec(256).SetInt(n))
	if rem.Cmp(half) >= 0 {
		n.Add(n, big.NewInt(1))
	}
	v, err := strconv.ParseFloat(new(big.Rat).SetFrac(n, thousand).FloatString(3), 64)
	if err != nil {
		return math.Round(x*1000) / 1000
	}
	if neg && v != 0 {
		return -v
	}
	return v
}
