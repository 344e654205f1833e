package auth

import (
	"fmt"
	"strings"
)

// Action 需要签名的动作
type Action string

const (
	ActionSignIn           Action = "SIGN_IN"
	ActionCreateMatch      Action = "CREATE_MATCH"
	ActionCreateMarket     Action = "CREATE_MARKET"
	ActionLockMatch        Action = "LOCK_MATCH"
	ActionCompleteMatch    Action = "COMPLETE_MATCH"
	ActionCreatePrediction Action = "CREATE_PREDICTION"
	ActionClaimPrize       Action = "CLAIM_PRIZE"
)

// privilegedActions 仅管理员钱包可执行
var privilegedActions = map[Action]bool{
	ActionCreateMatch:   true,
	ActionCreateMarket:  true,
	ActionLockMatch:     true,
	ActionCompleteMatch: true,
}

// IsPrivileged 是否为管理员动作
func IsPrivileged(a Action) bool { return privilegedActions[a] }

// Params 构造签名消息所需的动作参数，按动作取用其中部分字段。
// Amount 由服务端根据库内数据填写，不接受客户端传入。
type Params struct {
	Timestamp    string `json:"timestamp,omitempty"`
	Team1        string `json:"team1,omitempty"`
	Team2        string `json:"team2,omitempty"`
	MatchType    string `json:"matchType,omitempty"`
	Stadium      string `json:"stadium,omitempty"`
	MatchTime    string `json:"matchTime,omitempty"`
	MatchID      string `json:"matchId,omitempty"`
	MarketID     string `json:"marketId,omitempty"`
	MarketType   string `json:"marketType,omitempty"`
	PredictionID string `json:"predictionId,omitempty"`
	Team1Score   int    `json:"team1Score,omitempty"`
	Team1Wickets int    `json:"team1Wickets,omitempty"`
	Team2Score   int    `json:"team2Score,omitempty"`
	Team2Wickets int    `json:"team2Wickets,omitempty"`
	Amount       string `json:"-"`
}

// BuildMessage 由动作、参数与 nonce 确定性地生成待签名文本
func BuildMessage(action Action, p Params, nonce int64) string {
	var lines []string
	switch action {
	case ActionSignIn:
		lines = []string{
			"Strikerate Sign In",
			"Timestamp: " + p.Timestamp,
		}
	case ActionCreateMatch:
		lines = []string{
			"Create Match",
			fmt.Sprintf("Teams: %s vs %s", p.Team1, p.Team2),
			"Match Type: " + p.MatchType,
			"Stadium: " + p.Stadium,
			"Match Time: " + p.MatchTime,
		}
	case ActionCreateMarket:
		lines = []string{
			"Create Market",
			"Match ID: " + p.MatchID,
			"Market Type: " + p.MarketType,
		}
	case ActionLockMatch:
		lines = []string{
			"Lock Match",
			"Match ID: " + p.MatchID,
		}
	case ActionCompleteMatch:
		lines = []string{
			"Complete Match",
			"Match ID: " + p.MatchID,
			fmt.Sprintf("Score: %d/%d vs %d/%d", p.Team1Score, p.Team1Wickets, p.Team2Score, p.Team2Wickets),
		}
	case ActionCreatePrediction:
		lines = []string{
			"Create Prediction",
			"Match ID: " + p.MatchID,
			fmt.Sprintf("Team1: %d-%d vs", p.Team1Score, p.Team1Wickets),
			fmt.Sprintf("Team2: %d-%d", p.Team2Score, p.Team2Wickets),
		}
	case ActionClaimPrize:
		lines = []string{
			"Claim Prize",
			"Match ID: " + p.MatchID,
			"Prediction ID: " + p.PredictionID,
			fmt.Sprintf("Amount: %s USDC", p.Amount),
		}
	default:
		return fmt.Sprintf("%s (nonce: %d)", action, nonce)
	}
	lines = append(lines, fmt.Sprintf("Nonce: %d", nonce))
	return strings.Join(lines, "\n")
}
