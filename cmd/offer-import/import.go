package main

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/offer"
)

const (
	bloomFPR      = 0.001
	maxLineSize   = 1 << 20
	progressEvery = 1_000_000
)

type offerStore interface {
	UpsertOffers(ctx context.Context, offers []offer.SpecialOffer) error
}

type importConfig struct {
	batchSize int
	expected  uint
}

type importStats struct {
	lines      int64
	invalid    int64
	duplicates int64
	written    int64
}

// importOffers runs in two passes. Pass 1 builds one bloom filter of codes
// per file. Pass 2 streams each file again: offers whose code no other
// filter reports are unique and written right away, the rest are held and
// resolved exactly once every file has been scanned.
func importOffers(ctx context.Context, lg *zap.Logger, store offerStore, files []string, cfg importConfig) (*importStats, error) {
	if cfg.batchSize <= 0 {
		cfg.batchSize = 500
	}
	if cfg.expected == 0 {
		cfg.expected = 1_000_000
	}
	var stats importStats

	lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := buildFilters(ctx, lg, files, cfg.expected, &stats)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	lg.Info("Pass 2: writing offers")
	g, gctx := errgroup.WithContext(ctx)
	out := make(chan offer.SpecialOffer, cfg.batchSize)

	g.Go(func() error {
		return writeOffers(gctx, store, out, cfg.batchSize, &stats.written)
	})
	g.Go(func() error {
		defer close(out)

		held, err := scanUnique(gctx, files, filters, out)
		if err != nil {
			return err
		}

		seenIn := make(map[string]int)
		for _, m := range held {
			for code := range m {
				seenIn[code]++
			}
		}
		for _, m := range held {
			for code, o := range m {
				if seenIn[code] > 1 {
					continue
				}
				select {
				case out <- o:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
		for code, n := range seenIn {
			if n > 1 {
				stats.duplicates++
				lg.Debug("Dropping duplicate code", zap.String("code", code), zap.Int("files", n))
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &stats, nil
}

func buildFilters(ctx context.Context, lg *zap.Logger, files []string, expected uint, stats *importStats) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(expected, bloomFPR)
			var lines, invalid int64
			err := streamGzFile(ctx, path, func(line []byte) {
				lines++
				o, err := parseOffer(line)
				if err != nil {
					invalid++
					if invalid <= 10 {
						lg.Warn("Skipping invalid offer", zap.String("file", path), zap.Int64("line", lines), zap.Error(err))
					}
					return
				}
				filter.AddString(o.Code)
				if lines%progressEvery == 0 {
					lg.Info("Pass 1 progress", zap.String("file", path), zap.Int64("lines", lines))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			atomic.AddInt64(&stats.lines, lines)
			atomic.AddInt64(&stats.invalid, invalid)
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// scanUnique sends offers that are certainly unique to out and returns, per
// file, the offers whose code some other file's filter reports.
func scanUnique(ctx context.Context, files []string, filters []*bloom.BloomFilter, out chan<- offer.SpecialOffer) ([]map[string]offer.SpecialOffer, error) {
	held := make([]map[string]offer.SpecialOffer, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			m := make(map[string]offer.SpecialOffer)
			var sendErr error
			err := streamGzFile(ctx, path, func(line []byte) {
				if sendErr != nil {
					return
				}
				o, err := parseOffer(line)
				if err != nil {
					return
				}
				o.ID = uuid.NewString()
				for j, f := range filters {
					if j != i && f.TestString(o.Code) {
						m[o.Code] = o
						return
					}
				}
				select {
				case out <- o:
				case <-ctx.Done():
					sendErr = ctx.Err()
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			if sendErr != nil {
				return sendErr
			}
			held[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return held, nil
}

func writeOffers(ctx context.Context, store offerStore, in <-chan offer.SpecialOffer, size int, written *int64) error {
	batch := make([]offer.SpecialOffer, 0, size)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.UpsertOffers(ctx, batch); err != nil {
			return errors.Wrap(err, "upsert offers")
		}
		atomic.AddInt64(written, int64(len(batch)))
		batch = batch[:0]
		return nil
	}

	for o := range in {
		batch = append(batch, o)
		if len(batch) == size {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// streamGzFile opens a gzip-compressed file and calls fn for each non-blank
// line. The slice passed to fn is only valid during the call.
func streamGzFile(ctx context.Context, path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// parseOffer decodes one JSON line into a validated offer.
func parseOffer(line []byte) (offer.SpecialOffer, error) {
	var o offer.SpecialOffer
	err := jx.DecodeBytes(line).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			o.Code, err = d.Str()
		case "name":
			o.Name, err = d.Str()
		case "scope":
			var s string
			s, err = d.Str()
			o.Scope = offer.Scope(s)
		case "type":
			var s string
			s, err = d.Str()
			o.Type = offer.Type(s)
		case "discount":
			o.Discount, err = d.Int64()
		case "condition":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var v int64
			v, err = d.Int64()
			o.Condition = &v
		case "totalQuantity":
			o.TotalQuantity, err = d.Int()
		case "startTime":
			o.StartTime, err = decodeTime(d)
		case "endTime":
			o.EndTime, err = decodeTime(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return o, errors.Wrap(err, "decode offer")
	}
	if err := o.Validate(); err != nil {
		return o, errors.Wrapf(err, "offer %q", o.Code)
	}
	return o, nil
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	if d.Next() == jx.Null {
		return time.Time{}, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}
