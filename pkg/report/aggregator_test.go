package report

import (
	"errors"
	"math/rand"
	"reflect"
	"sort"
	"strconv"
	"testing"

	"github.com/eunmann/tenders-report/pkg/staging"
)

type sliceIterator struct {
	recs []staging.JournalRecord
	pos  int
	err  error
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.recs) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Record() staging.JournalRecord { return it.recs[it.pos-1] }
func (it *sliceIterator) Err() error                    { return it.err }

// jnl builds sequenced journal records from (line, price, date, descript) tuples.
func jnl(lines ...[4]string) []staging.JournalRecord {
	recs := make([]staging.JournalRecord, len(lines))
	for i, l := range lines {
		recs[i] = staging.JournalRecord{
			Sequence:    int64(i + 1),
			Line:        l[0],
			Price:       l[1],
			Date:        l[2],
			Description: l[3],
		}
	}
	return recs
}

func build(t *testing.T, opts Options, recs []staging.JournalRecord) []Row {
	t.Helper()
	rows, err := Build(opts, "0042", "Store 42", &sliceIterator{recs: recs})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return rows
}

func TestBuild_SinglePair(t *testing.T) {
	rows := build(t, DefaultOptions(), jnl(
		[4]string{"950", "9.99", "2024-01-01", ""},
		[4]string{"980", "", "", "Widget"},
	))

	want := []Row{{
		StoreID:    "0042",
		StoreName:  "Store 42",
		Date:       "2024-01-01",
		Type:       "Widget",
		SaleAmount: 9.99,
		SaleCount:  1,
		Currency:   "USD",
	}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %+v, want %+v", rows, want)
	}
}

func TestBuild_MergesSameKey(t *testing.T) {
	rows := build(t, DefaultOptions(), jnl(
		[4]string{"950", "5.00", "2024-01-01", ""},
		[4]string{"980", "", "", "Widget"},
		[4]string{"950", "3.00", "2024-01-01", ""},
		[4]string{"980", "", "", "Widget"},
	))

	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1: %+v", len(rows), rows)
	}
	if rows[0].SaleAmount != 8.0 || rows[0].SaleCount != 2 {
		t.Errorf("row = %+v, want amount 8 count 2", rows[0])
	}
}

func TestBuild_SumIsNotRounded(t *testing.T) {
	rows := build(t, DefaultOptions(), jnl(
		[4]string{"950", "0.1", "2024-01-01", ""},
		[4]string{"980", "", "", "Cash"},
		[4]string{"950", "0.2", "2024-01-01", ""},
		[4]string{"980", "", "", "Cash"},
	))

	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1: %+v", len(rows), rows)
	}
	a, b := 0.1, 0.2
	if rows[0].SaleAmount != a+b {
		t.Errorf("SaleAmount = %v, want %v", rows[0].SaleAmount, a+b)
	}
	if got := FormatAmount(rows[0].SaleAmount); got != "0.30000000000000004" {
		t.Errorf("FormatAmount = %q, want 0.30000000000000004", got)
	}
}

func TestBuild_Adjacency(t *testing.T) {
	tests := []struct {
		name      string
		recs      []staging.JournalRecord
		wantPairs int
	}{
		{
			name:      "trailing sale line",
			recs:      jnl([4]string{"950", "1", "d", ""}),
			wantPairs: 0,
		},
		{
			name: "intervening line breaks the pair",
			recs: jnl(
				[4]string{"950", "1", "d", ""},
				[4]string{"100", "", "", ""},
				[4]string{"980", "", "", "X"},
			),
			wantPairs: 0,
		},
		{
			name: "description before sale",
			recs: jnl(
				[4]string{"980", "", "", "X"},
				[4]string{"950", "1", "d", ""},
			),
			wantPairs: 0,
		},
		{
			name: "second of two sale lines pairs",
			recs: jnl(
				[4]string{"950", "not used", "d", ""},
				[4]string{"950", "2", "d", ""},
				[4]string{"980", "", "", "X"},
			),
			wantPairs: 1,
		},
		{
			name: "one description, one pair",
			recs: jnl(
				[4]string{"950", "2", "d", ""},
				[4]string{"980", "", "", "X"},
				[4]string{"980", "", "", "X"},
			),
			wantPairs: 1,
		},
		{
			name:      "empty journal",
			recs:      nil,
			wantPairs: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(DefaultOptions(), "s", "n")
			for _, r := range tt.recs {
				if err := agg.Add(r); err != nil {
					t.Fatalf("Add: %v", err)
				}
			}
			if got := PairCount(agg.Rows()); got != tt.wantPairs {
				t.Errorf("PairCount() = %d, want %d", got, tt.wantPairs)
			}
		})
	}
}

func TestBuild_MalformedPrice(t *testing.T) {
	for _, price := range []string{"", "abc", "1,50"} {
		t.Run(strconv.Quote(price), func(t *testing.T) {
			_, err := Build(DefaultOptions(), "s", "n", &sliceIterator{recs: jnl(
				[4]string{"950", price, "d", ""},
				[4]string{"980", "", "", "X"},
			)})
			if !errors.Is(err, ErrMalformedPrice) {
				t.Errorf("expected ErrMalformedPrice, got %v", err)
			}
		})
	}
}

func TestBuild_UnpairedMalformedPriceIsIgnored(t *testing.T) {
	rows := build(t, DefaultOptions(), jnl(
		[4]string{"950", "abc", "d", ""},
		[4]string{"100", "", "", ""},
	))
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %+v", rows)
	}
}

func TestBuild_PriceWhitespace(t *testing.T) {
	rows := build(t, DefaultOptions(), jnl(
		[4]string{"950", "   -2.50", "d", ""},
		[4]string{"980", "", "", "Refund"},
	))
	if len(rows) != 1 || rows[0].SaleAmount != -2.5 {
		t.Errorf("rows = %+v, want one row of -2.5", rows)
	}
}

func TestBuild_IteratorError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Build(DefaultOptions(), "s", "n", &sliceIterator{err: boom})
	if !errors.Is(err, boom) {
		t.Errorf("expected iterator error, got %v", err)
	}
}

func TestBuild_OrderingIsLexicographic(t *testing.T) {
	rows := build(t, DefaultOptions(), jnl(
		[4]string{"950", "1", "2024-1-10", ""},
		[4]string{"980", "", "", "b"},
		[4]string{"950", "1", "2024-1-9", ""},
		[4]string{"980", "", "", "a"},
		[4]string{"950", "1", "2024-1-10", ""},
		[4]string{"980", "", "", "B"},
		[4]string{"950", "1", "2024-1-10", ""},
		[4]string{"980", "", "", "a"},
	))

	var got [][2]string
	for _, r := range rows {
		got = append(got, [2]string{r.Date, r.Type})
	}
	// "2024-1-10" < "2024-1-9" as text, and "B" < "a".
	want := [][2]string{
		{"2024-1-10", "B"},
		{"2024-1-10", "a"},
		{"2024-1-10", "b"},
		{"2024-1-9", "a"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestBuild_CustomCodesAndCurrency(t *testing.T) {
	opts := Options{SaleCode: "S", DescriptionCode: "D", Currency: "CAD"}
	rows := build(t, opts, jnl(
		[4]string{"950", "1", "d", ""},
		[4]string{"980", "", "", "ignored"},
		[4]string{"S", "4", "d", ""},
		[4]string{"D", "", "", "Gift"},
	))
	if len(rows) != 1 || rows[0].Type != "Gift" || rows[0].Currency != "CAD" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestBuild_DateWindow(t *testing.T) {
	opts := DefaultOptions()
	opts.DateFrom = "2024-01-02"
	opts.DateTo = "2024-01-03"

	rows := build(t, opts, jnl(
		[4]string{"950", "1", "2024-01-01", ""},
		[4]string{"980", "", "", "X"},
		[4]string{"950", "2", "2024-01-02", ""},
		[4]string{"980", "", "", "X"},
		[4]string{"950", "3", "2024-01-03", ""},
		[4]string{"980", "", "", "X"},
		[4]string{"950", "4", "2024-01-04", ""},
		[4]string{"980", "", "", "X"},
	))

	if len(rows) != 2 || rows[0].Date != "2024-01-02" || rows[1].Date != "2024-01-03" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"default", func(*Options) {}, false},
		{"empty sale code", func(o *Options) { o.SaleCode = "" }, true},
		{"same codes", func(o *Options) { o.DescriptionCode = o.SaleCode }, true},
		{"inverted window", func(o *Options) { o.DateFrom, o.DateTo = "2024-02", "2024-01" }, true},
		{"open window", func(o *Options) { o.DateFrom = "2024-02" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			if err := opts.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestBuild_RandomJournals checks count, amount and ordering against a
// brute-force adjacent-pair count over random journals.
func TestBuild_RandomJournals(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	lineCodes := []string{"950", "980", "100", "990"}
	dates := []string{"2024-01-01", "2024-01-02", "2023-12-31"}
	types := []string{"Cash", "Visa", "Gift", ""}

	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(40)
		recs := make([]staging.JournalRecord, n)
		for i := range recs {
			recs[i] = staging.JournalRecord{
				Sequence:    int64(i + 1),
				Line:        lineCodes[rng.Intn(len(lineCodes))],
				Price:       strconv.Itoa(rng.Intn(100)),
				Date:        dates[rng.Intn(len(dates))],
				Description: types[rng.Intn(len(types))],
			}
		}

		type key struct{ date, desc string }
		wantCount := map[key]int{}
		wantAmount := map[key]float64{}
		for i := 0; i+1 < n; i++ {
			a, b := recs[i], recs[i+1]
			if a.Line == "950" && b.Line == "980" && b.Sequence == a.Sequence+1 {
				k := key{a.Date, b.Description}
				p, _ := strconv.ParseFloat(a.Price, 64)
				wantCount[k]++
				wantAmount[k] += p
			}
		}

		rows := build(t, DefaultOptions(), recs)
		if len(rows) != len(wantCount) {
			t.Fatalf("iter %d: got %d rows, want %d", iter, len(rows), len(wantCount))
		}
		for _, r := range rows {
			k := key{r.Date, r.Type}
			if r.SaleCount != wantCount[k] || r.SaleAmount != wantAmount[k] {
				t.Fatalf("iter %d: row %+v, want count %d amount %v", iter, r, wantCount[k], wantAmount[k])
			}
		}
		if !sort.SliceIsSorted(rows, func(i, j int) bool {
			if rows[i].Date != rows[j].Date {
				return rows[i].Date < rows[j].Date
			}
			return rows[i].Type < rows[j].Type
		}) {
			t.Fatalf("iter %d: rows not ordered: %+v", iter, rows)
		}
	}
}
