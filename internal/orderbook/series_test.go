package orderbook

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Giafferri/neo-rl-exec/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sec = int64(time.Second)

// ladder 生成 n 档对称报价, 第 i 档距离为 (i+1) bps, 名义价值递增
func ladder(n int, sign float64) []Quote {
	out := make([]Quote, n)
	for i := range out {
		out[i] = Quote{Distance: sign * float64(i+1) * 1e-4, Notional: float64(1000 * (i + 1))}
	}
	return out
}

func testRows(timestamps ...int64) []models.LevelRecord {
	var rows []models.LevelRecord
	for _, ts := range timestamps {
		rows = append(rows, Block(ts, 10000, ladder(20, -1), ladder(20, 1))...)
	}
	return rows
}

func TestGetSnapshotPaddingInvariant(t *testing.T) {
	// 只有 3 档有效报价, 其余补零
	rows := Block(sec, 10000, ladder(3, -1), ladder(3, 1))
	s, err := NewSeries(rows)
	require.NoError(t, err)

	snap, err := s.GetSnapshot(sec)
	require.NoError(t, err)
	assert.Len(t, snap.Bids, models.LevelsPerSide)
	assert.Len(t, snap.Asks, models.LevelsPerSide)

	assert.Equal(t, 0.0, snap.Bids[19].SizeBTC)
	assert.Equal(t, 0.0, snap.Asks[0].SizeBTC)
}

func TestGetSnapshotPinnedBestIndices(t *testing.T) {
	s, err := NewSeries(testRows(sec))
	require.NoError(t, err)
	snap, err := s.GetSnapshot(sec)
	require.NoError(t, err)

	// bids: 最优在索引 0; asks: 最优在最后一个索引
	assert.Equal(t, 0, snap.Bids[0].Level)
	assert.InDelta(t, -1e-4, snap.Bids[0].DistanceToMid, 1e-12)
	assert.Equal(t, 19, snap.Bids[19].Level)

	assert.Equal(t, 0, snap.Asks[len(snap.Asks)-1].Level)
	assert.InDelta(t, 1e-4, snap.Asks[len(snap.Asks)-1].DistanceToMid, 1e-12)
	assert.Equal(t, 19, snap.Asks[0].Level)

	top, ok := snap.TopAsk()
	require.True(t, ok)
	assert.Equal(t, 0, top.Level)
	best := snap.BestAsks()
	assert.Equal(t, 0, best[0].Level)
	assert.Equal(t, 19, best[19].Level)
}

func TestGetSnapshotIgnoresRowOrderWithinBlock(t *testing.T) {
	// 同一时间戳内 asks 在前、bids 在后, 结果相同
	rows := Block(sec, 10000, ladder(20, -1), ladder(20, 1))
	swapped := append(append([]models.LevelRecord{}, rows[20:]...), rows[:20]...)

	a, err := NewSeries(rows)
	require.NoError(t, err)
	b, err := NewSeries(swapped)
	require.NoError(t, err)

	sa, err := a.GetSnapshot(sec)
	require.NoError(t, err)
	sb, err := b.GetSnapshot(sec)
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
}

func TestGetSnapshotPriceRoundTrip(t *testing.T) {
	s, err := NewSeries(testRows(sec, 2*sec))
	require.NoError(t, err)

	for _, ts := range s.Timestamps() {
		snap, err := s.GetSnapshot(ts)
		require.NoError(t, err)
		for _, lvl := range append(snap.Bids, snap.Asks...) {
			price := lvl.Price()
			assert.InDelta(t, 10000*(1+lvl.DistanceToMid), price, 1e-9)
			if lvl.SizeBTC > 0 {
				assert.InDelta(t, lvl.NotionalUSD, lvl.SizeBTC*price, 1e-6)
			}
		}
	}
}

func TestGetSnapshotNotFound(t *testing.T) {
	s, err := NewSeries(testRows(sec))
	require.NoError(t, err)

	_, err = s.GetSnapshot(5 * sec)
	assert.ErrorIs(t, err, ErrTimestampNotFound)
	assert.Nil(t, s.Previous(sec, time.Second))
}

func TestGetSnapshotTruncatesPartialTrailingBlock(t *testing.T) {
	rows := testRows(sec, 2*sec)
	rows = rows[:len(rows)-25] // 第二个时间戳只剩 15 行 bids
	s, err := NewSeries(rows)
	require.NoError(t, err)

	snap, err := s.GetSnapshot(2 * sec)
	require.NoError(t, err)
	assert.Len(t, snap.Bids, 15)
	assert.Empty(t, snap.Asks)
}

func TestPrevious(t *testing.T) {
	s, err := NewSeries(testRows(sec, 2*sec, 4*sec))
	require.NoError(t, err)

	prev := s.Previous(2*sec, time.Second)
	require.NotNil(t, prev)
	assert.Equal(t, sec, prev.TimestampNs)

	// 3s 不存在
	assert.Nil(t, s.Previous(4*sec, time.Second))
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Has(4*sec))
	ts, ok := s.TimestampAt(1)
	assert.True(t, ok)
	assert.Equal(t, 2*sec, ts)
	_, ok = s.TimestampAt(3)
	assert.False(t, ok)
}

func TestNewSeriesMalformed(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(rows []models.LevelRecord) []models.LevelRecord
	}{
		{"decreasing timestamp", func(rows []models.LevelRecord) []models.LevelRecord {
			return append(rows, testRows(0)...)
		}},
		{"invalid side", func(rows []models.LevelRecord) []models.LevelRecord {
			rows[3].Side = "MID"
			return rows
		}},
		{"level out of range", func(rows []models.LevelRecord) []models.LevelRecord {
			rows[5].Level = 20
			return rows
		}},
		{"duplicate level", func(rows []models.LevelRecord) []models.LevelRecord {
			rows[1].Level = 0
			return rows
		}},
		{"short block before the last", func(rows []models.LevelRecord) []models.LevelRecord {
			return append(rows[:25], testRows(2*sec)...)
		}},
		{"short block in the middle", func(rows []models.LevelRecord) []models.LevelRecord {
			return append(append(rows, testRows(2*sec)[:39]...), testRows(3*sec)...)
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSeries(tc.mutate(testRows(sec)))
			assert.ErrorIs(t, err, ErrMalformedSeries)
		})
	}
}

func TestCSVRoundTripAndLoadSeries(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "part1.csv")
	second := filepath.Join(dir, "part2.csv")

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, testRows(sec, 2*sec)))
	require.NoError(t, os.WriteFile(first, buf.Bytes(), 0o644))
	buf.Reset()
	require.NoError(t, WriteCSV(&buf, testRows(3*sec)))
	require.NoError(t, os.WriteFile(second, buf.Bytes(), 0o644))

	s, err := LoadSeries(context.Background(), first, second)
	require.NoError(t, err)
	assert.Equal(t, []int64{sec, 2 * sec, 3 * sec}, s.Timestamps())

	want, err := NewSeries(testRows(sec, 2*sec, 3*sec))
	require.NoError(t, err)
	got, err := s.GetSnapshot(3 * sec)
	require.NoError(t, err)
	expected, err := want.GetSnapshot(3 * sec)
	require.NoError(t, err)
	assert.Equal(t, expected, got)

	// 归档顺序颠倒时时间戳倒退
	_, err = LoadSeries(context.Background(), second, first)
	assert.ErrorIs(t, err, ErrMalformedSeries)

	_, err = LoadSeries(context.Background(), filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}

func TestReadCSVDerivesSize(t *testing.T) {
	in := "timestamp_ns,side,level,midpoint_USD,distance_to_mid,notional_USD\n" +
		"1000,bids,0,10000,-0.001,9990\n"
	rows, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.Bid, rows[0].Side)
	assert.InDelta(t, 1.0, rows[0].SizeBTC, 1e-12)

	_, err = ReadCSV(strings.NewReader("timestamp_ns,side\n1,BID\n"))
	assert.ErrorIs(t, err, ErrMalformedSeries)

	_, err = ReadCSV(strings.NewReader("timestamp_ns,side,level,midpoint_USD,distance_to_mid,notional_USD\nx,BID,0,1,0,1\n"))
	assert.ErrorIs(t, err, ErrMalformedSeries)
}
