package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dvloznov/spend-analytics/internal/domain"
)

var columnTypes = map[string]string{
	"UserID":               "string",
	"TXN_DATE":             "datetime",
	"TXN_AMOUNT":           "float64",
	"FEE_AMOUNT":           "float64",
	"MERC_TXN_ID":          "string",
	"TXN_TYPE":             "string",
	"CURRENCY":             "string",
	"YearMonth":            "period[M]",
	"Weekday":              "int",
	"Weekend":              "int",
	"Hour":                 "int",
	"TXN_Amount_Bin":       "category",
	"Days_Since_Last_TXN":  "int (nullable)",
	"Rolling_7D_Spend":     "float64",
	"Rolling_30D_Spend":    "float64",
	"Merchant_Spend_Ratio": "float64 (nullable)",
	"Fee_to_Txn_Ratio":     "float64 (nullable)",
}

// DataDictionary maps each enriched column name to its inferred type.
func DataDictionary(rows []domain.EnrichedTransaction) map[string]string {
	dict := make(map[string]string)
	for _, col := range enrichedColumns(hasCurrency(rows)) {
		dict[col] = columnTypes[col]
	}
	return dict
}

// WriteDataDictionary writes the data dictionary as indented JSON.
func WriteDataDictionary(w io.Writer, rows []domain.EnrichedTransaction) error {
	b, err := json.MarshalIndent(DataDictionary(rows), "", "    ")
	if err != nil {
		return fmt.Errorf("WriteDataDictionary: marshal: %w", err)
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("WriteDataDictionary: write: %w", err)
	}
	return nil
}
