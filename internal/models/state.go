package models

import "time"

// EpisodeState 定义了一个回合需要持久化的所有关键数据
type EpisodeState struct {
	EpisodeID      string          `json:"episode_id"`        // 回合的唯一标识符
	Symbol         string          `json:"symbol"`            // 交易对, e.g., "XBTUSD"
	Version        int             `json:"version"`           // 状态模型的版本号，用于未来迁移
	Params         EpisodeParams   `json:"params"`            // 回合开始时的参数 (生命周期内不变)
	Steps          []StepRecord    `json:"steps"`             // 每一步的记录 (随交易活动增长)
	Summary        *EpisodeSummary `json:"summary,omitempty"` // 回合结束后的汇总
	LastUpdateTime time.Time       `json:"last_update_time"`  // 状态最后更新的时间戳
}

// EpisodeParams 存储回合创建时的配置，是【不可变】的
type EpisodeParams struct {
	Policy      string    `json:"policy"`
	Initial     Portfolio `json:"initial"`
	Goal        Goal      `json:"goal"`
	Target      float64   `json:"target"`
	Duration    int       `json:"duration"`
	StartTimeNs int64     `json:"start_time_ns"`
}

// StepRecord 记录一步的动作、成交和奖励
type StepRecord struct {
	Step          int         `json:"step"`
	TimestampNs   int64       `json:"timestamp_ns"`
	Action        Action      `json:"action"`
	Status        TradeStatus `json:"status"`
	Quantity      float64     `json:"quantity"`
	AvgPrice      float64     `json:"avg_price"`
	Fee           float64     `json:"fee"`
	Portfolio     Portfolio   `json:"portfolio"`
	Midpoint      float64     `json:"midpoint"`
	PnLPercentage float64     `json:"pnl_percentage"`
	Reward        float64     `json:"reward"`
	SumRewards    float64     `json:"sum_rewards"`
}

// EpisodeSummary 是回合结束时的结果
type EpisodeSummary struct {
	Performance  Performance `json:"performance"`
	FinalReward  float64     `json:"final_reward"`
	SumRewards   float64     `json:"sum_rewards"`
	Steps        int         `json:"steps"`
	EndTimeNs    int64       `json:"end_time_ns"`
	StoppedEarly bool        `json:"stopped_early"` // 目标提前达成
}
