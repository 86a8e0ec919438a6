package orderbook

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/Giafferri/neo-rl-exec/internal/models"

	"golang.org/x/sync/errgroup"
)

// Header 是长格式序列文件的列名
var Header = []string{
	"timestamp_ns",
	"side",
	"level",
	"midpoint_USD",
	"distance_to_mid",
	"notional_USD",
	"size_BTC",
	"cancel_notional_USD",
	"limit_notional_USD",
	"market_notional_USD",
}

var requiredColumns = []string{"timestamp_ns", "side", "level", "midpoint_USD", "distance_to_mid", "notional_USD"}

// ReadCSV 读取带表头的长格式 CSV。
// size_BTC 缺失时按 notional / price 推导, 三个 flow 列缺失时为 0。
func ReadCSV(r io.Reader) ([]models.LevelRecord, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformedSeries, name)
		}
	}

	var rows []models.LevelRecord
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		p := fieldParser{rec: rec, cols: cols}
		side, err := models.ParseSide(p.str("side"))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedSeries, line, err)
		}
		row := models.LevelRecord{
			TimestampNs:       p.parseInt("timestamp_ns"),
			Side:              side,
			Level:             int(p.parseInt("level")),
			MidpointUSD:       p.parseFloat("midpoint_USD"),
			DistanceToMid:     p.parseFloat("distance_to_mid"),
			NotionalUSD:       p.parseFloat("notional_USD"),
			CancelNotionalUSD: p.parseFloat("cancel_notional_USD"),
			LimitNotionalUSD:  p.parseFloat("limit_notional_USD"),
			MarketNotionalUSD: p.parseFloat("market_notional_USD"),
		}
		if _, ok := cols["size_BTC"]; ok {
			row.SizeBTC = p.parseFloat("size_BTC")
		} else if price := row.Price(); price > 0 {
			row.SizeBTC = row.NotionalUSD / price
		}
		if p.err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedSeries, line, p.err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteCSV 以长格式写出行, 包含表头
func WriteCSV(w io.Writer, rows []models.LevelRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			strconv.FormatInt(r.TimestampNs, 10),
			string(r.Side),
			strconv.Itoa(r.Level),
			fmtFloat(r.MidpointUSD),
			fmtFloat(r.DistanceToMid),
			fmtFloat(r.NotionalUSD),
			fmtFloat(r.SizeBTC),
			fmtFloat(r.CancelNotionalUSD),
			fmtFloat(r.LimitNotionalUSD),
			fmtFloat(r.MarketNotionalUSD),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// LoadSeries 并发解析多个文件, 然后按参数顺序拼接成一个序列 (归档拼接)。
func LoadSeries(ctx context.Context, paths ...string) (*Series, error) {
	parts := make([][]models.LevelRecord, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			rows, err := ReadCSV(f)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			parts[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	rows := make([]models.LevelRecord, 0, total)
	for _, p := range parts {
		rows = append(rows, p...)
	}
	return NewSeries(rows)
}

// fieldParser 记录第一个解析错误, 避免每个字段都检查一次
type fieldParser struct {
	rec  []string
	cols map[string]int
	err  error
}

func (p *fieldParser) str(name string) string {
	i, ok := p.cols[name]
	if !ok || i >= len(p.rec) {
		return ""
	}
	return p.rec[i]
}

func (p *fieldParser) parseFloat(name string) float64 {
	s := p.str(name)
	if s == "" || p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", name, err)
	}
	return v
}

func (p *fieldParser) parseInt(name string) int64 {
	s := p.str(name)
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", name, err)
	}
	return v
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'g', -1, 64)
}
