// Package export renders analysis results as delimited text, Parquet and a
// JSON data dictionary.
package export

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dvloznov/spend-analytics/internal/domain"
	"github.com/dvloznov/spend-analytics/internal/pipeline"
)

// TimeLayout formats timestamps in every text output. Fractional seconds are
// printed only when present, so whole-second times keep the short form and
// distinct sub-second timestamps stay distinct.
const TimeLayout = "2006-01-02 15:04:05.999999999"

// Table names.
const (
	TableEnriched            = "enriched"
	TableAnomalies           = "anomalies"
	TableAnomalySummary      = "anomaly_summary"
	TableHeadline            = "headline"
	TableTotalSpend          = "total_spend"
	TableMonthlySpend        = "monthly_spend"
	TableAmountDistribution  = "amount_distribution"
	TableSpendByType         = "spend_by_type"
	TableTopMerchantsByCount = "top_merchants_by_count"
	TableTopMerchantsByValue = "top_merchants_by_value"
	TableFrequency           = "frequency"
	TableDailySpend          = "daily_spend"
	TableWeeklySpend         = "weekly_spend"
	TableMonthlyTrend        = "monthly_trend"
	TableWeekdayVsWeekend    = "weekday_vs_weekend"
	TablePeakHours           = "peak_hours"
	TableCurrency            = "currency_breakdown"
	TableFees                = "fee_analysis"
	TableRollingSpend        = "rolling_spend"
	TableRecurring           = "recurring_payments"
	TableUserTiers           = "user_tiers"
)

// Table is a named, header-first tabular output with every cell already
// formatted.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

type tableFunc func(res *pipeline.Result) Table

var builders = []struct {
	name  string
	build tableFunc
}{
	{TableEnriched, func(r *pipeline.Result) Table { return EnrichedTable(r.Rows) }},
	{TableAnomalies, func(r *pipeline.Result) Table { return AnomalyTable(r.Anomalies) }},
	{TableAnomalySummary, func(r *pipeline.Result) Table { return SummaryTable(r.Summary) }},
	{TableHeadline, headlineTable},
	{TableTotalSpend, totalSpendTable},
	{TableMonthlySpend, monthlySpendTable},
	{TableAmountDistribution, amountDistributionTable},
	{TableSpendByType, spendByTypeTable},
	{TableTopMerchantsByCount, topByCountTable},
	{TableTopMerchantsByValue, topByValueTable},
	{TableFrequency, frequencyTable},
	{TableDailySpend, dailySpendTable},
	{TableWeeklySpend, weeklySpendTable},
	{TableMonthlyTrend, monthlyTrendTable},
	{TableWeekdayVsWeekend, weekdayVsWeekendTable},
	{TablePeakHours, peakHoursTable},
	{TableCurrency, currencyTable},
	{TableFees, feesTable},
	{TableRollingSpend, rollingSpendTable},
	{TableRecurring, recurringTable},
	{TableUserTiers, userTiersTable},
}

// TableNames lists every table in bundle order.
func TableNames() []string {
	names := make([]string, len(builders))
	for i, b := range builders {
		names[i] = b.name
	}
	return names
}

// AllTables renders every table of res in bundle order.
func AllTables(res *pipeline.Result) []Table {
	out := make([]Table, len(builders))
	for i, b := range builders {
		out[i] = b.build(res)
	}
	return out
}

// TableByName renders one table.
func TableByName(res *pipeline.Result, name string) (Table, error) {
	for _, b := range builders {
		if b.name == name {
			return b.build(res), nil
		}
	}
	return Table{}, fmt.Errorf("unknown table %q", name)
}

// EnrichedTable renders the cleaned and enriched transactions. The CURRENCY
// column is present only when some row carries a currency.
func EnrichedTable(rows []domain.EnrichedTransaction) Table {
	withCurrency := hasCurrency(rows)
	t := Table{Name: TableEnriched, Header: enrichedColumns(withCurrency)}
	for _, r := range rows {
		rec := []string{
			r.UserID,
			formatTime(r.TxnDate),
			formatFloat(r.TxnAmount),
			formatFloat(r.FeeAmount),
			r.MerchantID,
			r.TxnType,
		}
		if withCurrency {
			c := ""
			if r.Currency != nil {
				c = *r.Currency
			}
			rec = append(rec, c)
		}
		gap := ""
		if r.DaysSinceLastTxn != nil {
			gap = strconv.Itoa(*r.DaysSinceLastTxn)
		}
		rec = append(rec,
			r.YearMonth,
			strconv.Itoa(r.Weekday),
			boolInt(r.IsWeekend),
			strconv.Itoa(r.Hour),
			string(r.AmountBin),
			gap,
			formatFloat(r.Rolling7DSpend),
			formatFloat(r.Rolling30DSpend),
			r.MerchantSpendRatio.String(),
			r.FeeToTxnRatio.String(),
		)
		t.Rows = append(t.Rows, rec)
	}
	return t
}

// AnomalyTable renders the reconciled anomaly ledger.
func AnomalyTable(anomalies []domain.Anomaly) Table {
	t := Table{
		Name:   TableAnomalies,
		Header: []string{"UserID", "TXN_DATE", "TXN_AMOUNT", "MERC_TXN_ID", "Anomaly_Type"},
	}
	for _, a := range anomalies {
		t.Rows = append(t.Rows, []string{
			a.UserID,
			formatTime(a.TxnDate),
			formatFloat(a.TxnAmount),
			a.MerchantID,
			a.Types.String(),
		})
	}
	return t
}

// SummaryTable renders per-user anomaly counts.
func SummaryTable(summary []domain.AnomalyCount) Table {
	t := Table{Name: TableAnomalySummary, Header: []string{"UserID", "Anomaly_Type", "Anomaly_Count"}}
	for _, c := range summary {
		t.Rows = append(t.Rows, []string{c.UserID, string(c.AnomalyType), strconv.Itoa(c.AnomalyCount)})
	}
	return t
}

func headlineTable(res *pipeline.Result) Table {
	h := res.Headline
	row := []string{
		string(res.Status),
		strconv.Itoa(h.TotalTransactions),
		formatFloat(h.TotalSpend),
		strconv.Itoa(h.TotalAnomalies),
		"", "", "", "",
	}
	if a := h.HighestAnomaly; a != nil {
		row[4] = a.UserID
		row[5] = formatTime(a.TxnDate)
		row[6] = formatFloat(a.TxnAmount)
		row[7] = a.Types.String()
	}
	return Table{
		Name: TableHeadline,
		Header: []string{
			"Status", "Total_Transactions", "Total_Spend", "Total_Anomalies",
			"Highest_Anomaly_UserID", "Highest_Anomaly_TXN_DATE", "Highest_Anomaly_TXN_AMOUNT", "Highest_Anomaly_Type",
		},
		Rows: [][]string{row},
	}
}

func totalSpendTable(res *pipeline.Result) Table {
	t := Table{Name: TableTotalSpend, Header: []string{"UserID", "Total_Spend"}}
	for _, s := range res.Tables.TotalSpend {
		t.Rows = append(t.Rows, []string{s.UserID, formatFloat(s.TotalSpend)})
	}
	return t
}

func monthlySpendTable(res *pipeline.Result) Table {
	t := Table{Name: TableMonthlySpend, Header: []string{"UserID", "YearMonth", "Monthly_Spend"}}
	for _, s := range res.Tables.MonthlySpend {
		t.Rows = append(t.Rows, []string{s.UserID, s.YearMonth, formatFloat(s.MonthlySpend)})
	}
	return t
}

func amountDistributionTable(res *pipeline.Result) Table {
	t := Table{Name: TableAmountDistribution, Header: []string{"TXN_AMOUNT"}}
	for _, v := range res.Tables.AmountDistribution {
		t.Rows = append(t.Rows, []string{formatFloat(v)})
	}
	return t
}

func spendByTypeTable(res *pipeline.Result) Table {
	t := Table{Name: TableSpendByType, Header: []string{"TXN_TYPE", "Total_Spend"}}
	for _, s := range res.Tables.SpendByType {
		t.Rows = append(t.Rows, []string{s.TxnType, formatFloat(s.TotalSpend)})
	}
	return t
}

func topByCountTable(res *pipeline.Result) Table {
	t := Table{Name: TableTopMerchantsByCount, Header: []string{"UserID", "MERC_TXN_ID", "Transaction_Count"}}
	for _, m := range res.Tables.TopMerchantsByCount {
		t.Rows = append(t.Rows, []string{m.UserID, m.MerchantID, strconv.Itoa(m.TransactionCount)})
	}
	return t
}

func topByValueTable(res *pipeline.Result) Table {
	t := Table{Name: TableTopMerchantsByValue, Header: []string{"UserID", "MERC_TXN_ID", "Total_Spend"}}
	for _, m := range res.Tables.TopMerchantsByValue {
		t.Rows = append(t.Rows, []string{m.UserID, m.MerchantID, formatFloat(m.TotalSpend)})
	}
	return t
}

func frequencyTable(res *pipeline.Result) Table {
	t := Table{Name: TableFrequency, Header: []string{"UserID", "Transaction_Count", "Average_Transaction_Value"}}
	for _, f := range res.Tables.Frequency {
		t.Rows = append(t.Rows, []string{f.UserID, strconv.Itoa(f.TransactionCount), formatFloat(f.AverageTransactionValue)})
	}
	return t
}

func dailySpendTable(res *pipeline.Result) Table {
	t := Table{Name: TableDailySpend, Header: []string{"Date", "Daily_Spend"}}
	for _, d := range res.Tables.Trends.Daily {
		t.Rows = append(t.Rows, []string{d.Date.String(), formatFloat(d.DailySpend)})
	}
	return t
}

func weeklySpendTable(res *pipeline.Result) Table {
	t := Table{Name: TableWeeklySpend, Header: []string{"ISO_Year", "ISO_Week", "Weekly_Spend"}}
	for _, w := range res.Tables.Trends.Weekly {
		t.Rows = append(t.Rows, []string{strconv.Itoa(w.ISOYear), strconv.Itoa(w.ISOWeek), formatFloat(w.WeeklySpend)})
	}
	return t
}

func monthlyTrendTable(res *pipeline.Result) Table {
	t := Table{Name: TableMonthlyTrend, Header: []string{"YearMonth", "Monthly_Spend"}}
	for _, m := range res.Tables.Trends.Monthly {
		t.Rows = append(t.Rows, []string{m.YearMonth, formatFloat(m.MonthlySpend)})
	}
	return t
}

func weekdayVsWeekendTable(res *pipeline.Result) Table {
	t := Table{Name: TableWeekdayVsWeekend, Header: []string{"Day_Type", "Total_Spend"}}
	for _, d := range res.Tables.WeekdayVsWeekend {
		t.Rows = append(t.Rows, []string{string(d.DayType), formatFloat(d.TotalSpend)})
	}
	return t
}

func peakHoursTable(res *pipeline.Result) Table {
	t := Table{Name: TablePeakHours, Header: []string{"Hour", "Total_Spend"}}
	for _, h := range res.Tables.PeakHours {
		t.Rows = append(t.Rows, []string{strconv.Itoa(h.Hour), formatFloat(h.TotalSpend)})
	}
	return t
}

func currencyTable(res *pipeline.Result) Table {
	t := Table{Name: TableCurrency, Header: []string{"CURRENCY", "Total_Spend"}}
	for _, c := range res.Tables.Currency {
		t.Rows = append(t.Rows, []string{c.Currency, formatFloat(c.TotalSpend)})
	}
	return t
}

func feesTable(res *pipeline.Result) Table {
	f := res.Tables.Fees
	return Table{
		Name:   TableFees,
		Header: []string{"Total_Fees", "Average_Fee_Ratio", "Undefined_Fee_Ratios"},
		Rows:   [][]string{{formatFloat(f.TotalFees), f.AverageFeeRatio.String(), strconv.Itoa(f.UndefinedRatios)}},
	}
}

func rollingSpendTable(res *pipeline.Result) Table {
	col := fmt.Sprintf("Rolling_%dD_Avg_Spend", res.Tables.RollingWindowDays)
	t := Table{Name: TableRollingSpend, Header: []string{"UserID", "TXN_DATE", "TXN_AMOUNT", "MERC_TXN_ID", col}}
	for _, r := range res.Tables.RollingSpend {
		t.Rows = append(t.Rows, []string{
			r.UserID,
			formatTime(r.TxnDate),
			formatFloat(r.TxnAmount),
			r.MerchantID,
			formatFloat(r.RollingAvgSpend),
		})
	}
	return t
}

func recurringTable(res *pipeline.Result) Table {
	t := Table{Name: TableRecurring, Header: []string{"UserID", "MERC_TXN_ID", "Avg_Days_Between_Txns"}}
	for _, r := range res.Tables.Recurring {
		t.Rows = append(t.Rows, []string{r.UserID, r.MerchantID, formatFloat(r.AvgDaysBetweenTxns)})
	}
	return t
}

func userTiersTable(res *pipeline.Result) Table {
	t := Table{Name: TableUserTiers, Header: []string{"UserID", "Total_Spend", "User_Tier"}}
	for _, u := range res.Tables.Tiers {
		t.Rows = append(t.Rows, []string{u.UserID, formatFloat(u.TotalSpend), string(u.UserTier)})
	}
	return t
}

func enrichedColumns(withCurrency bool) []string {
	cols := []string{"UserID", "TXN_DATE", "TXN_AMOUNT", "FEE_AMOUNT", "MERC_TXN_ID", "TXN_TYPE"}
	if withCurrency {
		cols = append(cols, "CURRENCY")
	}
	return append(cols,
		"YearMonth", "Weekday", "Weekend", "Hour", "TXN_Amount_Bin", "Days_Since_Last_TXN",
		"Rolling_7D_Spend", "Rolling_30D_Spend", "Merchant_Spend_Ratio", "Fee_to_Txn_Ratio",
	)
}

func hasCurrency(rows []domain.EnrichedTransaction) bool {
	for _, r := range rows {
		if r.Currency != nil {
			return true
		}
	}
	return false
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func boolInt(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
