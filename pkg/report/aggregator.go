// Package report turns a staged point-of-sale journal into sales totals per
// date and transaction type.
//
// The journal is a flat stream of lines. A sale is a sale-marker line (950)
// carrying the price and date, immediately followed by a description-marker
// line (980) carrying the type label. A sale line whose next line is anything
// else contributes nothing.
package report

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/eunmann/tenders-report/pkg/staging"
)

// Defaults for Options.
const (
	DefaultSaleCode        = "950"
	DefaultDescriptionCode = "980"
	DefaultCurrency        = "USD"
)

// ErrMalformedPrice is returned when a paired sale line's price is not a number.
var ErrMalformedPrice = errors.New("malformed price")

// Options controls pairing and row decoration.
type Options struct {
	// SaleCode is the LINE value of a sale line.
	SaleCode string
	// DescriptionCode is the LINE value of the line naming the sale's type.
	DescriptionCode string
	// Currency is written on every row.
	Currency string
	// DateFrom and DateTo bound the sale date, inclusive, compared as text.
	// Empty means unbounded.
	DateFrom string
	DateTo   string
}

// DefaultOptions returns the standard marker codes and currency.
func DefaultOptions() Options {
	return Options{
		SaleCode:        DefaultSaleCode,
		DescriptionCode: DefaultDescriptionCode,
		Currency:        DefaultCurrency,
	}
}

// Validate rejects options that cannot pair anything.
func (o Options) Validate() error {
	if o.SaleCode == "" || o.DescriptionCode == "" {
		return errors.New("sale and description codes are required")
	}
	if o.SaleCode == o.DescriptionCode {
		return fmt.Errorf("sale and description codes must differ, both are %q", o.SaleCode)
	}
	if o.DateFrom != "" && o.DateTo != "" && o.DateFrom > o.DateTo {
		return fmt.Errorf("date window is inverted: %q > %q", o.DateFrom, o.DateTo)
	}
	return nil
}

func (o Options) inWindow(date string) bool {
	if o.DateFrom != "" && date < o.DateFrom {
		return false
	}
	if o.DateTo != "" && date > o.DateTo {
		return false
	}
	return true
}

// Row is one line of the report.
type Row struct {
	StoreID    string
	StoreName  string
	Date       string
	Type       string
	SaleAmount float64
	SaleCount  int
	Currency   string
}

type groupKey struct {
	date        string
	description string
}

type group struct {
	amount float64
	count  int
}

// Aggregator pairs journal lines in a single pass and accumulates totals.
// Records must be added in journal order.
type Aggregator struct {
	opts      Options
	storeID   string
	storeName string

	prev    staging.JournalRecord
	hasPrev bool

	groups map[groupKey]*group
}

// NewAggregator creates an aggregator for one store.
func NewAggregator(opts Options, storeID, storeName string) *Aggregator {
	return &Aggregator{
		opts:      opts,
		storeID:   storeID,
		storeName: storeName,
		groups:    make(map[groupKey]*group),
	}
}

// Add feeds the next journal record. It returns an error wrapping
// ErrMalformedPrice when it completes a pair whose price does not parse.
func (a *Aggregator) Add(rec staging.JournalRecord) error {
	sale, hadPrev := a.prev, a.hasPrev
	a.prev, a.hasPrev = rec, true

	if !hadPrev || sale.Line != a.opts.SaleCode || rec.Line != a.opts.DescriptionCode {
		return nil
	}

	price, err := parsePrice(sale.Price)
	if err != nil {
		return fmt.Errorf("%w: sequence %d: %q: %w", ErrMalformedPrice, sale.Sequence, sale.Price, err)
	}
	if !a.opts.inWindow(sale.Date) {
		return nil
	}

	key := groupKey{date: sale.Date, description: rec.Description}
	g, ok := a.groups[key]
	if !ok {
		g = &group{}
		a.groups[key] = g
	}
	g.amount += price
	g.count++
	return nil
}

func parsePrice(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// PairCount returns the number of sale/description pairs behind rows.
func PairCount(rows []Row) int {
	n := 0
	for _, r := range rows {
		n += r.SaleCount
	}
	return n
}

// Rows returns one row per (date, type) group, ordered by date then type
// using plain string comparison.
func (a *Aggregator) Rows() []Row {
	keys := make([]groupKey, 0, len(a.groups))
	for k := range a.groups {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(x, y groupKey) int {
		if c := cmp.Compare(x.date, y.date); c != 0 {
			return c
		}
		return cmp.Compare(x.description, y.description)
	})

	rows := make([]Row, len(keys))
	for i, k := range keys {
		g := a.groups[k]
		rows[i] = Row{
			StoreID:    a.storeID,
			StoreName:  a.storeName,
			Date:       k.date,
			Type:       k.description,
			SaleAmount: g.amount,
			SaleCount:  g.count,
			Currency:   a.opts.Currency,
		}
	}
	return rows
}

// RecordIterator yields journal records in order. *staging.JournalIterator
// satisfies it.
type RecordIterator interface {
	Next() bool
	Record() staging.JournalRecord
	Err() error
}

// Build drains it through a new Aggregator and returns the report rows.
func Build(opts Options, storeID, storeName string, it RecordIterator) ([]Row, error) {
	agg := NewAggregator(opts, storeID, storeName)
	for it.Next() {
		if err := agg.Add(it.Record()); err != nil {
			return nil, err
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return agg.Rows(), nil
}
