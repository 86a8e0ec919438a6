package orderbook

import (
	"errors"
	"fmt"
	"time"

	"github.com/Giafferri/neo-rl-exec/internal/models"
)

var (
	// ErrTimestampNotFound is returned when a lookup names a timestamp the
	// series does not contain.
	ErrTimestampNotFound = errors.New("timestamp not found")
	// ErrMalformedSeries is returned when rows violate the long-format layout.
	ErrMalformedSeries = errors.New("malformed series")
)

// blockSize 是一个时间戳最多占用的行数 (每侧 20 档)
const blockSize = 2 * models.LevelsPerSide

// Series 是只读的长格式订单簿序列。构造之后不再修改, 可以被多个 goroutine 并发读取。
type Series struct {
	rows       []models.LevelRecord
	index      map[int64]int // 时间戳 -> 第一行的位置
	timestamps []int64
}

// NewSeries 校验行的布局并建立时间戳索引。
// 时间戳必须单调不减, side 必须合法, level 必须在 0..19 之间, 且同一 (ts, side, level) 不能重复。
// 除最后一个时间戳外, 每个时间戳必须正好有 40 行; 最后一个可以被截断。
func NewSeries(rows []models.LevelRecord) (*Series, error) {
	s := &Series{
		rows:  rows,
		index: make(map[int64]int),
	}

	var seen [2][models.LevelsPerSide]bool
	blockStart := 0
	for i, r := range rows {
		if i == 0 || r.TimestampNs != rows[i-1].TimestampNs {
			if i > 0 && r.TimestampNs < rows[i-1].TimestampNs {
				return nil, fmt.Errorf("%w: row %d: timestamp %d before %d", ErrMalformedSeries, i, r.TimestampNs, rows[i-1].TimestampNs)
			}
			if n := i - blockStart; i > 0 && n != blockSize {
				return nil, fmt.Errorf("%w: timestamp %d has %d rows, want %d", ErrMalformedSeries, rows[i-1].TimestampNs, n, blockSize)
			}
			blockStart = i
			s.index[r.TimestampNs] = i
			s.timestamps = append(s.timestamps, r.TimestampNs)
			seen = [2][models.LevelsPerSide]bool{}
		}

		var sideIdx int
		switch r.Side {
		case models.Bid:
			sideIdx = 0
		case models.Ask:
			sideIdx = 1
		default:
			return nil, fmt.Errorf("%w: row %d: invalid side %q", ErrMalformedSeries, i, r.Side)
		}
		if r.Level < 0 || r.Level >= models.LevelsPerSide {
			return nil, fmt.Errorf("%w: row %d: level %d out of range", ErrMalformedSeries, i, r.Level)
		}
		if seen[sideIdx][r.Level] {
			return nil, fmt.Errorf("%w: row %d: duplicate %s level %d at %d", ErrMalformedSeries, i, r.Side, r.Level, r.TimestampNs)
		}
		seen[sideIdx][r.Level] = true
	}
	return s, nil
}

// Len 返回序列中不同时间戳的数量
func (s *Series) Len() int {
	return len(s.timestamps)
}

// Timestamps 返回所有时间戳 (升序) 的副本
func (s *Series) Timestamps() []int64 {
	out := make([]int64, len(s.timestamps))
	copy(out, s.timestamps)
	return out
}

// TimestampAt 返回第 i 个时间戳
func (s *Series) TimestampAt(i int) (int64, bool) {
	if i < 0 || i >= len(s.timestamps) {
		return 0, false
	}
	return s.timestamps[i], true
}

// Has reports whether ts is present in the series.
func (s *Series) Has(ts int64) bool {
	_, ok := s.index[ts]
	return ok
}

// Rows returns the underlying rows. Callers must not modify them.
func (s *Series) Rows() []models.LevelRecord {
	return s.rows
}

// GetSnapshot 重建 ts 时刻的双边订单簿。
//
// 每次调用都从底层行重新切片, 不做缓存。从 ts 的第一行开始扫描相同时间戳的连续行 (最多 40 行),
// 按 side 分组并按 level 排序: bids 为 level 0..19 (最优在前), asks 为 level 19..0 (最优在后)。
// 序列末尾不完整的块会被截断而不是报错。
func (s *Series) GetSnapshot(ts int64) (*models.Snapshot, error) {
	start, ok := s.index[ts]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTimestampNotFound, ts)
	}

	var bids, asks [models.LevelsPerSide]*models.LevelRecord
	end := start + blockSize
	if end > len(s.rows) {
		end = len(s.rows)
	}
	for i := start; i < end && s.rows[i].TimestampNs == ts; i++ {
		r := &s.rows[i]
		if r.Side == models.Bid {
			bids[r.Level] = r
		} else {
			asks[r.Level] = r
		}
	}

	snap := &models.Snapshot{
		TimestampNs: ts,
		Bids:        make([]models.LevelRecord, 0, models.LevelsPerSide),
		Asks:        make([]models.LevelRecord, 0, models.LevelsPerSide),
	}
	for lvl := 0; lvl < models.LevelsPerSide; lvl++ {
		if bids[lvl] != nil {
			snap.Bids = append(snap.Bids, *bids[lvl])
		}
	}
	for lvl := models.LevelsPerSide - 1; lvl >= 0; lvl-- {
		if asks[lvl] != nil {
			snap.Asks = append(snap.Asks, *asks[lvl])
		}
	}
	return snap, nil
}

// Previous 返回 ts - lag 时刻的快照; 该时刻不在序列中时返回 nil。
func (s *Series) Previous(ts int64, lag time.Duration) *models.Snapshot {
	snap, err := s.GetSnapshot(ts - lag.Nanoseconds())
	if err != nil {
		return nil
	}
	return snap
}
