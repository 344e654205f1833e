package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchStatus 比赛生命周期状态：UPCOMING → LOCKED → COMPLETED
type MatchStatus string

const (
	MatchStatusUpcoming  MatchStatus = "UPCOMING"
	MatchStatusLocked    MatchStatus = "LOCKED"
	MatchStatusCompleted MatchStatus = "COMPLETED"
)

// MatchType 赛制
type MatchType string

const (
	MatchTypeT20 MatchType = "T20"
	MatchTypeODI MatchType = "ODI"
)

// MatchSportCricket 目前只支持板球
const MatchSportCricket = "CRICKET"

// MarketType 市场类型，决定使用哪个打分函数
type MarketType string

const MarketTypeScore MarketType = "SCORE"

// MaxWickets 单局最多 10 个出局
const MaxWickets = 10

// FinalScore 两局的跑分与出局数，既用于比赛结果也用于预测内容
type FinalScore struct {
	Team1Score   int `json:"team1Score"`
	Team1Wickets int `json:"team1Wickets"`
	Team2Score   int `json:"team2Score"`
	Team2Wickets int `json:"team2Wickets"`
}

// Valid 跑分非负、出局数在 0..10
func (f FinalScore) Valid() bool {
	return f.Team1Score >= 0 && f.Team2Score >= 0 &&
		f.Team1Wickets >= 0 && f.Team1Wickets <= MaxWickets &&
		f.Team2Wickets >= 0 && f.Team2Wickets <= MaxWickets
}

// Match 对应 matches 表
// 结果四个字段仅在 COMPLETED 后非空
type Match struct {
	ID               string          `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	Team1            string          `gorm:"column:team1;type:varchar(128);not null" json:"team1"`
	Team2            string          `gorm:"column:team2;type:varchar(128);not null" json:"team2"`
	MatchType        MatchType       `gorm:"column:match_type;type:varchar(16);not null" json:"matchType"`
	MatchSport       string          `gorm:"column:match_sport;type:varchar(16);not null" json:"matchSport"`
	MatchTime        time.Time       `gorm:"column:match_time;not null" json:"matchTime"`
	Stadium          string          `gorm:"column:stadium;type:varchar(256)" json:"stadium"`
	Status           MatchStatus     `gorm:"column:status;type:varchar(16);index;not null" json:"status"`
	TotalPool        decimal.Decimal `gorm:"column:total_pool;type:numeric(18,6);not null;default:0" json:"totalPool"`
	TotalPredictions int64           `gorm:"column:total_predictions;not null;default:0" json:"totalPredictions"`
	Team1Score       *int            `gorm:"column:team1_score" json:"-"`
	Team1Wickets     *int            `gorm:"column:team1_wickets" json:"-"`
	Team2Score       *int            `gorm:"column:team2_score" json:"-"`
	Team2Wickets     *int            `gorm:"column:team2_wickets" json:"-"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Match) TableName() string { return "matches" }

// FinalScore 返回已落库的比赛结果，未完赛时为 nil
func (m *Match) FinalScore() *FinalScore {
	if m.Team1Score == nil || m.Team1Wickets == nil || m.Team2Score == nil || m.Team2Wickets == nil {
		return nil
	}
	return &FinalScore{
		Team1Score:   *m.Team1Score,
		Team1Wickets: *m.Team1Wickets,
		Team2Score:   *m.Team2Score,
		Team2Wickets: *m.Team2Wickets,
	}
}

// Market 对应 markets 表，每个市场独立奖池、独立结算
type Market struct {
	ID               string          `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	MatchID          string          `gorm:"column:match_id;type:varchar(64);index;not null" json:"matchId"`
	MarketType       MarketType      `gorm:"column:market_type;type:varchar(32);not null" json:"marketType"`
	MatchSport       string          `gorm:"column:match_sport;type:varchar(16);not null" json:"matchSport"`
	TotalPool        decimal.Decimal `gorm:"column:total_pool;type:numeric(18,6);not null;default:0" json:"totalPool"`
	TotalPredictions int64           `gorm:"column:total_predictions;not null;default:0" json:"totalPredictions"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Market) TableName() string { return "markets" }
