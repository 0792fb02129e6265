// Command coupon-import bulk loads coupons from gzipped CSV feeds.
//
// Each feed row is: code,discount_percentage,upper_limit,minimum_order_value,valid_from,valid_to
// with RFC 3339 timestamps. A leading header row is skipped. Codes are
// normalized to upper case; when a code appears more than once across the
// feeds only its first accepted occurrence is written.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-storefront/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	maxCodeLen    = 64
	progressEvery = 100_000
)

type couponRow struct {
	Code         string
	Percentage   decimal.Decimal
	UpperLimit   decimal.Decimal
	MinimumValue decimal.Decimal
	ValidFrom    time.Time
	ValidTo      time.Time
}

// stats is the outcome of an import run.
type stats struct {
	Read       int
	Invalid    int
	Duplicates int
	// Candidates counts rows the bloom filters sent to the exact check.
	Candidates int
	Written    int
}

func main() {
	var (
		databaseURL string
		batchSize   int
		capacity    uint
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", 500, "rows per database batch")
	flag.UintVar(&capacity, "expected-codes", bloomCapacity, "expected codes per feed, sizes the bloom filters")
	flag.Usage = func() {
		_, _ = io.WriteString(flag.CommandLine.Output(), "usage: coupon-import [flags] feed.csv.gz...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		slog.Error("connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	imp := &importer{
		batchSize: batchSize,
		capacity:  capacity,
		sink: func(ctx context.Context, rows []couponRow) error {
			return writeCoupons(ctx, pool, rows)
		},
	}

	st, err := imp.Run(ctx, flag.Args())
	if err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully",
		slog.Int("read", st.Read),
		slog.Int("invalid", st.Invalid),
		slog.Int("duplicates", st.Duplicates),
		slog.Int("candidates", st.Candidates),
		slog.Int("written", st.Written),
	)
}

// importer reads the feeds twice. The first pass builds one bloom filter
// per feed; the second writes rows, checking exactly only the codes the
// filters flag as possible repeats.
type importer struct {
	batchSize int
	// capacity is the expected number of codes per feed.
	capacity uint
	sink     func(ctx context.Context, rows []couponRow) error
	// open returns the decompressed stream for a feed path; nil uses openGz.
	open func(path string) (io.ReadCloser, error)
}

type parsed struct {
	feed    int
	row     couponRow
	invalid bool
}

func (imp *importer) Run(ctx context.Context, paths []string) (stats, error) {
	var st stats
	if imp.batchSize <= 0 {
		imp.batchSize = 500
	}
	if imp.capacity == 0 {
		imp.capacity = bloomCapacity
	}
	open := imp.open
	if open == nil {
		open = openGz
	}

	slog.Info("pass 1: building bloom filters", slog.Int("feeds", len(paths)))
	d, err := imp.buildIndex(ctx, paths, open)
	if err != nil {
		return st, errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: writing coupons", slog.Int("repeated_in_feed", len(d.repeated)))
	rows := make(chan parsed, imp.batchSize)

	g, gctx := errgroup.WithContext(ctx)
	readers, rctx := errgroup.WithContext(gctx)
	for i, path := range paths {
		readers.Go(func() error {
			return streamFeed(rctx, i, path, open, rows)
		})
	}
	g.Go(func() error {
		defer close(rows)
		return readers.Wait()
	})
	g.Go(func() error {
		return imp.consume(gctx, rows, d, &st)
	})

	if err := g.Wait(); err != nil {
		return st, err
	}
	return st, nil
}

// dupIndex answers whether a code may occur more than once across all feeds.
// It never misses a real repeat.
type dupIndex struct {
	filters []*bloom.BloomFilter
	// repeated holds codes a feed's own filter already contained when they
	// were added: true repeats within the feed plus rare false positives.
	repeated map[string]struct{}
}

func (d *dupIndex) mayRepeat(feed int, code string) bool {
	if _, ok := d.repeated[code]; ok {
		return true
	}
	for i, f := range d.filters {
		if i != feed && f.TestString(code) {
			return true
		}
	}
	return false
}

func (imp *importer) buildIndex(ctx context.Context, paths []string, open func(string) (io.ReadCloser, error)) (*dupIndex, error) {
	filters := make([]*bloom.BloomFilter, len(paths))
	repeated := make([]map[string]struct{}, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(imp.capacity, bloomFPR)
			rep := make(map[string]struct{})
			var count int
			err := scanFeed(gctx, path, open, func(_ int, row couponRow, perr error) error {
				if perr != nil {
					return nil
				}
				if filter.TestAndAddString(row.Code) {
					rep[row.Code] = struct{}{}
				}
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", path), slog.Int("codes", count))
				}
				return nil
			})
			filters[i], repeated[i] = filter, rep
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d := &dupIndex{filters: filters, repeated: make(map[string]struct{})}
	for _, rep := range repeated {
		maps.Copy(d.repeated, rep)
	}
	return d, nil
}

func (imp *importer) consume(ctx context.Context, rows <-chan parsed, d *dupIndex, st *stats) error {
	// Only candidate codes are tracked exactly.
	emitted := make(map[string]struct{})
	batch := make([]couponRow, 0, imp.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := imp.sink(ctx, batch); err != nil {
			return errors.Wrap(err, "write batch")
		}
		st.Written += len(batch)
		batch = batch[:0]
		return nil
	}

	for p := range rows {
		st.Read++
		if st.Read%progressEvery == 0 {
			slog.Info("import progress", slog.Int("read", st.Read), slog.Int("written", st.Written))
		}
		if p.invalid {
			st.Invalid++
			continue
		}

		code := p.row.Code
		if d.mayRepeat(p.feed, code) {
			st.Candidates++
			if _, dup := emitted[code]; dup {
				st.Duplicates++
				continue
			}
			emitted[code] = struct{}{}
		}

		batch = append(batch, p.row)
		if len(batch) == imp.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return flush()
}

// streamFeed parses one feed and sends every data row to out.
func streamFeed(ctx context.Context, feed int, path string, open func(string) (io.ReadCloser, error), out chan<- parsed) error {
	return scanFeed(ctx, path, open, func(line int, row couponRow, perr error) error {
		if perr != nil {
			slog.Warn("skipping invalid row",
				slog.String("file", path),
				slog.Int("line", line),
				slog.String("error", perr.Error()),
			)
		}
		select {
		case out <- parsed{feed: feed, row: row, invalid: perr != nil}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// scanFeed calls fn for every data row of a feed with the parse outcome.
func scanFeed(ctx context.Context, path string, open func(string) (io.ReadCloser, error), fn func(line int, row couponRow, perr error) error) error {
	rc, err := open(path)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.ReuseRecord = true

	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		line++
		if line == 1 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "code") {
			continue
		}

		row, perr := parseRecord(rec)
		if err := fn(line, row, perr); err != nil {
			return err
		}
	}
}

func parseRecord(rec []string) (couponRow, error) {
	if len(rec) != 6 {
		return couponRow{}, errors.Errorf("expected 6 fields, got %d", len(rec))
	}

	code := strings.ToUpper(strings.TrimSpace(rec[0]))
	if code == "" || len(code) > maxCodeLen {
		return couponRow{}, errors.Errorf("invalid code %q", rec[0])
	}

	var (
		row = couponRow{Code: code}
		err error
	)
	if row.Percentage, err = decimal.NewFromString(strings.TrimSpace(rec[1])); err != nil {
		return couponRow{}, errors.Wrap(err, "discount_percentage")
	}
	if row.Percentage.IsNegative() || row.Percentage.GreaterThan(decimal.NewFromInt(100)) {
		return couponRow{}, errors.Errorf("discount_percentage %s out of range", row.Percentage)
	}
	if row.UpperLimit, err = decimal.NewFromString(strings.TrimSpace(rec[2])); err != nil {
		return couponRow{}, errors.Wrap(err, "upper_limit")
	}
	if row.UpperLimit.IsNegative() {
		return couponRow{}, errors.New("upper_limit is negative")
	}
	if row.MinimumValue, err = decimal.NewFromString(strings.TrimSpace(rec[3])); err != nil {
		return couponRow{}, errors.Wrap(err, "minimum_order_value")
	}
	if row.MinimumValue.IsNegative() {
		return couponRow{}, errors.New("minimum_order_value is negative")
	}
	if row.ValidFrom, err = time.Parse(time.RFC3339, strings.TrimSpace(rec[4])); err != nil {
		return couponRow{}, errors.Wrap(err, "valid_from")
	}
	if row.ValidTo, err = time.Parse(time.RFC3339, strings.TrimSpace(rec[5])); err != nil {
		return couponRow{}, errors.Wrap(err, "valid_to")
	}
	if !row.ValidTo.After(row.ValidFrom) {
		return couponRow{}, errors.New("valid_to must be after valid_from")
	}

	return row, nil
}

type gzFile struct {
	*pgzip.Reader
	f *os.File
}

func (g gzFile) Close() error {
	_ = g.Reader.Close()
	return g.f.Close()
}

func openGz(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	gz, err := pgzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	return gzFile{Reader: gz, f: f}, nil
}

// writeCoupons upserts one batch inside a transaction.
func writeCoupons(ctx context.Context, db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}, rows []couponRow,
) error {
	return pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, r := range rows {
			b.Queue(`
				INSERT INTO coupons (code, discount_percentage, upper_limit, minimum_order_value, valid_from, valid_to, active)
				VALUES ($1, $2, $3, $4, $5, $6, TRUE)
				ON CONFLICT (code) DO UPDATE SET
					discount_percentage = EXCLUDED.discount_percentage,
					upper_limit = EXCLUDED.upper_limit,
					minimum_order_value = EXCLUDED.minimum_order_value,
					valid_from = EXCLUDED.valid_from,
					valid_to = EXCLUDED.valid_to,
					active = TRUE`,
				r.Code, r.Percentage, r.UpperLimit, r.MinimumValue, r.ValidFrom, r.ValidTo)
		}
		return tx.SendBatch(ctx, b).Close()
	})
}
