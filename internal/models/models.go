package models

// Config 结构体定义了模拟器的所有配置参数
type Config struct {
	DataPaths []string `json:"data_paths" yaml:"data_paths"` // 长格式订单簿数据文件, 按顺序拼接
	Symbol    string   `json:"symbol" yaml:"symbol"`         // 交易对, e.g., "XBTUSD"
	DBPath    string   `json:"db_path" yaml:"db_path"`       // Badger 数据库目录, 为空则不持久化

	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Fees       FeeConfig        `json:"fees" yaml:"fees"`
	Indicators IndicatorConfig  `json:"indicators" yaml:"indicators"`
	Reward     RewardConfig     `json:"reward" yaml:"reward"`
	Recorder   RecorderConfig   `json:"recorder" yaml:"recorder"`
	LogConfig  LogConfig        `json:"log" yaml:"log"`
}

// SimulationConfig 定义了一个回合 (episode) 的初始条件和目标
type SimulationConfig struct {
	InitialCash    float64 `json:"initial_cash" yaml:"initial_cash"`         // 初始现金 (USD)
	InitialBase    float64 `json:"initial_base" yaml:"initial_base"`         // 初始基础资产数量 (BTC)
	Goal           Goal    `json:"goal" yaml:"goal"`                         // 清算目标: cash 或 base
	Target         float64 `json:"target" yaml:"target"`                     // 清算阈值, 0.1 表示清算到初始值的 10% 以下
	Duration       int     `json:"duration" yaml:"duration"`                 // 回合时长 (秒 / 步数)
	StartIndex     int     `json:"start_index" yaml:"start_index"`           // 起始快照序号, 至少为 1 以便有前一个快照
	BuyAmountUSD   float64 `json:"buy_amount_usd" yaml:"buy_amount_usd"`     // 每次买入动作花费的 USD
	SellAmountBase float64 `json:"sell_amount_base" yaml:"sell_amount_base"` // 每次卖出动作卖出的基础资产
	UseFeatures    bool    `json:"use_features" yaml:"use_features"`         // RL 观测是否包含完整指标和深度特征
	DepthLevels    int     `json:"depth_levels" yaml:"depth_levels"`         // RL 深度特征的档位数
	ShowBook       bool    `json:"show_book" yaml:"show_book"`               // 模拟时是否打印订单簿
}

// FeeConfig 定义了手续费表
type FeeConfig struct {
	MakerBps  float64 `json:"maker_bps" yaml:"maker_bps"`     // 挂单费率 (基点)
	TakerBps  float64 `json:"taker_bps" yaml:"taker_bps"`     // 吃单费率 (基点)
	MinFeeUSD float64 `json:"min_fee_usd" yaml:"min_fee_usd"` // 每笔订单的最低手续费 (USD 等值)
}

// IndicatorConfig 定义了指标引擎的参数
type IndicatorConfig struct {
	Levels           int     `json:"levels" yaml:"levels"`                       // 多档位指标使用的档位数
	TopThreshold     float64 `json:"top_threshold" yaml:"top_threshold"`         // 盘口不平衡阈值
	MultiThreshold   float64 `json:"multi_threshold" yaml:"multi_threshold"`     // 多档位不平衡阈值
	OFIThreshold     float64 `json:"ofi_threshold" yaml:"ofi_threshold"`         // 订单流不平衡阈值
	SlippageQuantity float64 `json:"slippage_quantity" yaml:"slippage_quantity"` // 滑点估算的下单数量 (BTC)
}

// RewardConfig 定义了奖励函数的权重。惩罚项的非对称结构固定, 具体数值可调。
type RewardConfig struct {
	PnLWeightStep      float64 `json:"pnl_weight_step" yaml:"pnl_weight_step"`
	PnLWeightFinal     float64 `json:"pnl_weight_final" yaml:"pnl_weight_final"`
	StepLightPenalty   float64 `json:"step_light_penalty" yaml:"step_light_penalty"`
	StepHeavyPenalty   float64 `json:"step_heavy_penalty" yaml:"step_heavy_penalty"`
	FinalLightPenalty  float64 `json:"final_light_penalty" yaml:"final_light_penalty"`
	FinalHeavyPenalty  float64 `json:"final_heavy_penalty" yaml:"final_heavy_penalty"`
	NotAchievedPenalty float64 `json:"not_achieved_penalty" yaml:"not_achieved_penalty"`
}

// RecorderConfig 定义了深度数据录制器的参数
type RecorderConfig struct {
	Symbol       string `json:"symbol" yaml:"symbol"`               // 币安交易对, e.g., "BTCUSDT"
	IntervalMs   int    `json:"interval_ms" yaml:"interval_ms"`     // 采样间隔 (毫秒)
	Count        int    `json:"count" yaml:"count"`                 // 采样次数
	Output       string `json:"output" yaml:"output"`               // 输出的长格式 CSV 路径
	RequestBurst int    `json:"request_burst" yaml:"request_burst"` // 限流器突发容量
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" yaml:"output"`           // 输出模式: "console", "file", "both"
	File       string `json:"file" yaml:"file"`               // 日志文件路径
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress" yaml:"compress"`       // 是否压缩旧日志文件
}
