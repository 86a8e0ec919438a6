// Package ingestion 把 BitMEX 宽格式的订单簿 CSV 转换为长格式序列
package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Giafferri/neo-rl-exec/internal/models"
	"github.com/Giafferri/neo-rl-exec/internal/orderbook"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrMissingColumn 表示宽格式文件缺少必需的列
	ErrMissingColumn = errors.New("missing column")
	// ErrInvalidValue 表示转换结果中出现 NaN 或无穷大
	ErrInvalidValue = errors.New("invalid value")
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// wideRow 是宽格式文件中的一行
type wideRow struct {
	ts       int64
	midpoint float64
	bids     []orderbook.Quote
	asks     []orderbook.Quote
}

// isTimestampColumn 识别时间戳列, 包括 pandas 导出时的无名索引列
func isTimestampColumn(name string) bool {
	return name == "timestamp_ns" || name == "" ||
		strings.HasPrefix(name, "system_time") || strings.HasPrefix(name, "Unnamed")
}

// ParseTimestamp 接受 ISO8601 时间或整数纳秒
func ParseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if ns, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ns, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().UnixNano(), nil
		}
	}
	return 0, fmt.Errorf("unrecognised timestamp %q", s)
}

// Normalise 读取宽格式 CSV, 按时间戳排序去重, 输出每个时间戳 40 行 (先 bids 后 asks)。
// size = notional / price, price = midpoint * (1 + distance)。
func Normalise(r io.Reader) ([]models.LevelRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	tsCol := -1
	for i, name := range header {
		name = strings.TrimSpace(name)
		if i == 0 && isTimestampColumn(name) {
			tsCol = i
		}
		cols[name] = i
	}
	if tsCol < 0 {
		idx, ok := cols["timestamp_ns"]
		if !ok {
			return nil, fmt.Errorf("%w: timestamp_ns", ErrMissingColumn)
		}
		tsCol = idx
	}

	required := []string{"midpoint"}
	for _, side := range []string{"bids", "asks"} {
		for lvl := 0; lvl < models.LevelsPerSide; lvl++ {
			for _, field := range []string{"distance", "notional", "cancel_notional", "limit_notional", "market_notional"} {
				required = append(required, fmt.Sprintf("%s_%s_%d", side, field, lvl))
			}
		}
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	var rows []wideRow
	line := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row, err := parseWide(rec, cols, tsCol)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ts < rows[j].ts })

	out := make([]models.LevelRecord, 0, len(rows)*2*models.LevelsPerSide)
	var last int64
	for i, row := range rows {
		if i > 0 && row.ts == last {
			continue
		}
		last = row.ts
		out = append(out, orderbook.Block(row.ts, row.midpoint, row.bids, row.asks)...)
	}

	if err := check(out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseWide(rec []string, cols map[string]int, tsCol int) (wideRow, error) {
	get := func(name string) (float64, error) {
		idx := cols[name]
		if idx >= len(rec) {
			return 0, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[idx]), 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", name, err)
		}
		return v, nil
	}

	if tsCol >= len(rec) {
		return wideRow{}, fmt.Errorf("%w: timestamp", ErrMissingColumn)
	}
	ts, err := ParseTimestamp(rec[tsCol])
	if err != nil {
		return wideRow{}, err
	}
	mid, err := get("midpoint")
	if err != nil {
		return wideRow{}, err
	}

	row := wideRow{ts: ts, midpoint: mid}
	for _, side := range []string{"bids", "asks"} {
		quotes := make([]orderbook.Quote, models.LevelsPerSide)
		for lvl := range quotes {
			q := &quotes[lvl]
			fields := []struct {
				name string
				dst  *float64
			}{
				{"distance", &q.Distance},
				{"notional", &q.Notional},
				{"cancel_notional", &q.CancelNotional},
				{"limit_notional", &q.LimitNotional},
				{"market_notional", &q.MarketNotional},
			}
			for _, f := range fields {
				v, err := get(fmt.Sprintf("%s_%s_%d", side, f.name, lvl))
				if err != nil {
					return wideRow{}, err
				}
				*f.dst = v
			}
		}
		if side == "bids" {
			row.bids = quotes
		} else {
			row.asks = quotes
		}
	}
	return row, nil
}

// check 确认输出中没有 NaN 或无穷大, 并且时间戳单调不减
func check(rows []models.LevelRecord) error {
	var prev int64
	for i, r := range rows {
		for _, v := range []float64{r.MidpointUSD, r.DistanceToMid, r.NotionalUSD, r.SizeBTC,
			r.CancelNotionalUSD, r.LimitNotionalUSD, r.MarketNotionalUSD} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w at ts=%d %s level %d", ErrInvalidValue, r.TimestampNs, r.Side, r.Level)
			}
		}
		if i > 0 && r.TimestampNs < prev {
			return fmt.Errorf("%w: timestamps not increasing at ts=%d", ErrInvalidValue, r.TimestampNs)
		}
		prev = r.TimestampNs
	}
	return nil
}

// IngestFile 转换一个宽格式文件并写出长格式 CSV, 返回快照数
func IngestFile(in, out string) (int, error) {
	src, err := os.Open(in)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	rows, err := Normalise(src)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", in, err)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return 0, fmt.Errorf("无法创建目录 %s: %v", filepath.Dir(out), err)
	}
	dst, err := os.Create(out)
	if err != nil {
		return 0, err
	}
	if err := orderbook.WriteCSV(dst, rows); err != nil {
		dst.Close()
		return 0, err
	}
	return len(rows) / (2 * models.LevelsPerSide), dst.Close()
}

// OutputName 把 XBTUSD_2020-01-01.csv 映射为 20200101.csv
func OutputName(rawFile string) string {
	stem := strings.TrimSuffix(filepath.Base(rawFile), filepath.Ext(rawFile))
	if i := strings.Index(stem, "_"); i >= 0 {
		stem = stem[i+1:]
	}
	return strings.ReplaceAll(stem, "-", "") + ".csv"
}

// Batch 转换 rawDir 中所有 XBTUSD_*.csv 文件, 已经存在的输出文件会被跳过。
// 文件之间并行处理, 返回新生成的文件数。
func Batch(ctx context.Context, rawDir, outDir string, logger *zap.Logger) (int, error) {
	files, err := filepath.Glob(filepath.Join(rawDir, "XBTUSD_*.csv"))
	if err != nil {
		return 0, err
	}
	sort.Strings(files)

	type job struct{ in, out string }
	var jobs []job
	for _, f := range files {
		out := filepath.Join(outDir, OutputName(f))
		if _, err := os.Stat(out); err == nil {
			logger.Info("output already exists, skipping", zap.String("file", out))
			continue
		}
		jobs = append(jobs, job{in: f, out: out})
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := IngestFile(j.in, j.out)
			if err != nil {
				return err
			}
			logger.Info("ingested", zap.String("input", j.in), zap.String("output", j.out), zap.Int("snapshots", n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(jobs), nil
}
