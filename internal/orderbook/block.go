package orderbook

import "github.com/Giafferri/neo-rl-exec/internal/models"

// Quote 是某一侧某一档的原始报价, 用于构造一个时间戳的行块
type Quote struct {
	Distance       float64 // 到中间价的有符号距离
	Notional       float64 // USD
	CancelNotional float64
	LimitNotional  float64
	MarketNotional float64
}

// Block 为一个时间戳生成 40 行: 先 bids 的 20 档, 再 asks 的 20 档, 均按 level 升序。
// 不足 20 档时用零数量的行补齐, 多出的档位被截断。size 由 notional / price 推导。
func Block(ts int64, midpoint float64, bids, asks []Quote) []models.LevelRecord {
	rows := make([]models.LevelRecord, 0, blockSize)
	rows = appendSide(rows, ts, midpoint, models.Bid, bids)
	rows = appendSide(rows, ts, midpoint, models.Ask, asks)
	return rows
}

func appendSide(rows []models.LevelRecord, ts int64, midpoint float64, side models.Side, quotes []Quote) []models.LevelRecord {
	for lvl := 0; lvl < models.LevelsPerSide; lvl++ {
		r := models.LevelRecord{
			TimestampNs: ts,
			Side:        side,
			Level:       lvl,
			MidpointUSD: midpoint,
		}
		if lvl < len(quotes) {
			q := quotes[lvl]
			r.DistanceToMid = q.Distance
			r.NotionalUSD = q.Notional
			r.CancelNotionalUSD = q.CancelNotional
			r.LimitNotionalUSD = q.LimitNotional
			r.MarketNotionalUSD = q.MarketNotional
			if price := r.Price(); price > 0 {
				r.SizeBTC = r.NotionalUSD / price
			}
		}
		rows = append(rows, r)
	}
	return rows
}
