package aggregate

import (
	"math"
	"testing"
	"time"

	"github.com/dvloznov/spend-analytics/internal/domain"
)

func row(user, merchant string, ts time.Time, amount float64) domain.EnrichedTransaction {
	weekday := (int(ts.Weekday()) + 6) % 7
	return domain.EnrichedTransaction{
		Transaction: domain.Transaction{
			UserID:     user,
			TxnDate:    ts,
			TxnAmount:  amount,
			MerchantID: merchant,
			TxnType:    "POS",
		},
		YearMonth:     ts.Format("2006-01"),
		Weekday:       weekday,
		IsWeekend:     weekday >= 5,
		Hour:          ts.Hour(),
		AmountBin:     domain.BinAmount(amount),
		FeeToTxnRatio: domain.NewRatio(0, amount),
	}
}

func date(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func sampleRows() []domain.EnrichedTransaction {
	return []domain.EnrichedTransaction{
		row("u1", "m1", date(2024, 1, 3, 9), 10.1),
		row("u1", "m2", date(2024, 1, 20, 13), 40.2),
		row("u1", "m1", date(2024, 2, 5, 9), 15.3),
		row("u1", "m3", date(2024, 3, 9, 20), 7.7),
		row("u2", "m1", date(2024, 1, 6, 10), 100),
		row("u2", "m4", date(2024, 4, 1, 11), 250.25),
		row("u3", "m9", date(2023, 12, 31, 23), 5),
	}
}

func TestMonthlySpendOrder(t *testing.T) {
	rows := []domain.EnrichedTransaction{
		row("u2", "m1", date(2024, 2, 1, 9), 5),
		row("u1", "m1", date(2024, 3, 1, 9), 7),
		row("u1", "m2", date(2024, 1, 4, 9), 2),
		row("u1", "m1", date(2024, 1, 9, 9), 3),
	}

	want := []UserMonthlySpend{
		{UserID: "u1", YearMonth: "2024-01", MonthlySpend: 5},
		{UserID: "u1", YearMonth: "2024-03", MonthlySpend: 7},
		{UserID: "u2", YearMonth: "2024-02", MonthlySpend: 5},
	}
	got := MonthlySpend(rows)
	if len(got) != len(want) {
		t.Fatalf("MonthlySpend() returned %d rows, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMonthlySpendSumsToTotalSpend(t *testing.T) {
	rows := sampleRows()

	monthlyByUser := make(map[string]float64)
	for _, m := range MonthlySpend(rows) {
		monthlyByUser[m.UserID] += m.MonthlySpend
	}

	totals := TotalSpend(rows)
	if len(totals) != 3 {
		t.Fatalf("TotalSpend() returned %d users, want 3", len(totals))
	}
	for _, total := range totals {
		if math.Abs(monthlyByUser[total.UserID]-total.TotalSpend) > 1e-9 {
			t.Errorf("User %s: monthly sum %v != total %v", total.UserID, monthlyByUser[total.UserID], total.TotalSpend)
		}
	}
}

func TestTopMerchantsLimitsAndOrders(t *testing.T) {
	var rows []domain.EnrichedTransaction
	base := date(2024, 5, 1, 12)
	// u1 visits merchant mN exactly N times, paying N each time.
	for n := 1; n <= 6; n++ {
		for i := 0; i < n; i++ {
			rows = append(rows, row("u1", merchantName(n), base.Add(time.Duration(n*10+i)*time.Hour), float64(n)))
		}
	}
	rows = append(rows, row("u2", "mA", base, 3), row("u2", "mB", base, 3))

	byCount, byValue := TopMerchants(rows, 3)

	perUser := make(map[string]int)
	for _, m := range byCount {
		perUser[m.UserID]++
	}
	if perUser["u1"] != 3 || perUser["u2"] != 2 {
		t.Errorf("Rows per user = %v, want u1:3 u2:2", perUser)
	}

	wantCounts := []int{6, 5, 4}
	for i, want := range wantCounts {
		if byCount[i].UserID != "u1" || byCount[i].TransactionCount != want {
			t.Errorf("byCount[%d] = %+v, want u1 with %d", i, byCount[i], want)
		}
	}
	for i := 1; i < len(byValue); i++ {
		if byValue[i].UserID == byValue[i-1].UserID && byValue[i].TotalSpend > byValue[i-1].TotalSpend {
			t.Errorf("byValue not descending at %d: %+v after %+v", i, byValue[i], byValue[i-1])
		}
	}
	// Equal metrics fall back to merchant ID.
	if byCount[3].MerchantID != "mA" || byCount[4].MerchantID != "mB" {
		t.Errorf("Expected u2 ties ordered mA, mB; got %+v", byCount[3:])
	}

	again, _ := TopMerchants(rows, 3)
	for i := range byCount {
		if again[i] != byCount[i] {
			t.Fatalf("TopMerchants not deterministic at %d", i)
		}
	}
}

func merchantName(n int) string {
	return "m" + string(rune('0'+n))
}

func TestTopMerchantsForUser(t *testing.T) {
	byCount, byValue := TopMerchantsForUser(sampleRows(), "u2", DefaultTopN)
	if len(byCount) != 2 || len(byValue) != 2 {
		t.Fatalf("Expected 2 merchants for u2, got %d and %d", len(byCount), len(byValue))
	}
	if byValue[0].MerchantID != "m4" {
		t.Errorf("Top merchant by value = %s, want m4", byValue[0].MerchantID)
	}

	none, _ := TopMerchantsForUser(sampleRows(), "nobody", DefaultTopN)
	if len(none) != 0 {
		t.Errorf("Expected no merchants for unknown user, got %v", none)
	}
}

func TestRecurringPayments(t *testing.T) {
	start := date(2024, 1, 1, 8)
	tests := []struct {
		name      string
		gapDays   int
		count     int
		wantFound bool
	}{
		{"monthly", 30, 3, true},
		{"edge of tolerance", 35, 3, true},
		{"every ten days", 10, 3, false},
		{"only two payments", 30, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rows []domain.EnrichedTransaction
			for i := 0; i < tt.count; i++ {
				rows = append(rows, row("u1", "netflix", start.AddDate(0, 0, i*tt.gapDays), 9.99))
			}

			got := RecurringPayments(rows, DefaultRecurringOptions())
			if tt.wantFound {
				if len(got) != 1 {
					t.Fatalf("Expected one recurring pair, got %v", got)
				}
				if got[0].AvgDaysBetweenTxns != float64(tt.gapDays) {
					t.Errorf("AvgDaysBetweenTxns = %v, want %d", got[0].AvgDaysBetweenTxns, tt.gapDays)
				}
			} else if len(got) != 0 {
				t.Errorf("Expected no recurring pairs, got %v", got)
			}
		})
	}
}

func TestSegmentUsers(t *testing.T) {
	var totals []UserSpend
	for i := 1; i <= 10; i++ {
		totals = append(totals, UserSpend{UserID: "u" + string(rune('a'+i)), TotalSpend: float64(i * 10)})
	}

	tiers := SegmentUsers(totals)
	count := map[Tier]int{}
	for _, ut := range tiers {
		count[ut.UserTier]++
	}

	if count[TierBronze] != 2 {
		t.Errorf("Bronze = %d, want 2", count[TierBronze])
	}
	if count[TierGold] != 3 {
		t.Errorf("Gold = %d, want 3", count[TierGold])
	}
	if count[TierSilver] != 5 {
		t.Errorf("Silver = %d, want 5", count[TierSilver])
	}
}

func TestRollingSpend(t *testing.T) {
	rows := []domain.EnrichedTransaction{
		row("u1", "m", date(2024, 1, 8, 0), 30),
		row("u1", "m", date(2024, 1, 1, 0), 10),
		row("u1", "m", date(2024, 1, 3, 0), 20),
		row("u2", "m", date(2024, 1, 2, 0), 99),
	}

	got := RollingSpend(rows, 7)
	want := []float64{10, 15, 25, 99}
	if len(got) != len(want) {
		t.Fatalf("RollingSpend returned %d rows, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].RollingAvgSpend != w {
			t.Errorf("Row %d RollingAvgSpend = %v, want %v", i, got[i].RollingAvgSpend, w)
		}
	}
	if len(RollingSpend(rows, 0)) != 0 {
		t.Error("Expected empty table for zero window")
	}
}

func TestTemporalTrendsWeeklyKeysIncludeISOYear(t *testing.T) {
	trends := TemporalTrends(sampleRows())

	// 2023-12-31 falls in ISO week 52 of 2023, 2024-01-03 in week 1 of 2024.
	first := trends.Weekly[0]
	if first.ISOYear != 2023 || first.ISOWeek != 52 {
		t.Errorf("First week = %d-W%d, want 2023-W52", first.ISOYear, first.ISOWeek)
	}
	if trends.Monthly[0].YearMonth != "2023-12" {
		t.Errorf("First month = %s, want 2023-12", trends.Monthly[0].YearMonth)
	}
	if len(trends.Daily) != 7 {
		t.Errorf("Daily rows = %d, want 7", len(trends.Daily))
	}
}

func TestWeekdayVsWeekendAndPeakHours(t *testing.T) {
	rows := []domain.EnrichedTransaction{
		row("u1", "m", date(2024, 1, 6, 9), 10), // Saturday
		row("u1", "m", date(2024, 1, 8, 9), 5),  // Monday
		row("u1", "m", date(2024, 1, 9, 18), 7), // Tuesday
	}

	split := WeekdayVsWeekend(rows)
	if len(split) != 2 || split[0].TotalSpend != 12 || split[1].TotalSpend != 10 {
		t.Errorf("WeekdayVsWeekend() = %+v", split)
	}

	hours := PeakHours(rows)
	if len(hours) != 2 || hours[0].Hour != 9 || hours[0].TotalSpend != 15 {
		t.Errorf("PeakHours() = %+v", hours)
	}
}

func TestCurrencyBreakdownWithoutCurrency(t *testing.T) {
	if got := CurrencyBreakdown(sampleRows()); len(got) != 0 {
		t.Errorf("Expected empty breakdown, got %v", got)
	}

	usd, eur := "USD", "EUR"
	rows := sampleRows()
	rows[0].Currency = &usd
	rows[1].Currency = &eur
	rows[2].Currency = &usd

	got := CurrencyBreakdown(rows)
	if len(got) != 2 || got[0].Currency != "EUR" || got[1].TotalSpend != 10.1+15.3 {
		t.Errorf("CurrencyBreakdown() = %+v", got)
	}
}

func TestFeeAnalysisSkipsUndefinedRatios(t *testing.T) {
	rows := []domain.EnrichedTransaction{
		row("u1", "m", date(2024, 1, 1, 0), 100),
		row("u1", "m", date(2024, 1, 2, 0), 0),
	}
	rows[0].FeeAmount = 2
	rows[0].FeeToTxnRatio = domain.NewRatio(2, 100)
	rows[1].FeeAmount = 1
	rows[1].FeeToTxnRatio = domain.NewRatio(1, 0)

	got := FeeAnalysis(rows)
	if got.TotalFees != 3 {
		t.Errorf("TotalFees = %v, want 3", got.TotalFees)
	}
	if !got.AverageFeeRatio.Defined || got.AverageFeeRatio.Value != 0.02 {
		t.Errorf("AverageFeeRatio = %+v, want 0.02", got.AverageFeeRatio)
	}
	if got.UndefinedRatios != 1 {
		t.Errorf("UndefinedRatios = %d, want 1", got.UndefinedRatios)
	}

	if FeeAnalysis(nil).AverageFeeRatio.Defined {
		t.Error("Expected undefined average for empty input")
	}
}

func TestFrequenciesAndSpendByType(t *testing.T) {
	rows := sampleRows()
	rows[1].TxnType = "ATM"

	freq := Frequencies(rows)
	if freq[0].UserID != "u1" || freq[0].TransactionCount != 4 {
		t.Errorf("Frequencies()[0] = %+v", freq[0])
	}
	if math.Abs(freq[1].AverageTransactionValue-175.125) > 1e-9 {
		t.Errorf("u2 average = %v, want 175.125", freq[1].AverageTransactionValue)
	}

	byType := SpendByType(rows)
	if len(byType) != 2 || byType[0].TxnType != "ATM" || byType[0].TotalSpend != 40.2 {
		t.Errorf("SpendByType() = %+v", byType)
	}
}

func TestEmptyInput(t *testing.T) {
	if len(TotalSpend(nil)) != 0 || len(MonthlySpend(nil)) != 0 || len(SpendByType(nil)) != 0 {
		t.Error("Expected empty spend tables")
	}
	byCount, byValue := TopMerchants(nil, DefaultTopN)
	if len(byCount) != 0 || len(byValue) != 0 {
		t.Error("Expected empty merchant tables")
	}
	if len(RecurringPayments(nil, DefaultRecurringOptions())) != 0 {
		t.Error("Expected no recurring payments")
	}
	if len(SegmentUsers(nil)) != 0 {
		t.Error("Expected no tiers")
	}
	trends := TemporalTrends(nil)
	if len(trends.Daily)+len(trends.Weekly)+len(trends.Monthly) != 0 {
		t.Error("Expected empty trends")
	}
	if len(WeekdayVsWeekend(nil)) != 0 || len(PeakHours(nil)) != 0 || len(RollingSpend(nil, 7)) != 0 {
		t.Error("Expected empty temporal tables")
	}
}
