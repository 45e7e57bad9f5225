package domain

import (
	"testing"
	"time"
)

func TestBinAmount(t *testing.T) {
	tests := []struct {
		amount float64
		want   AmountBin
	}{
		{-50, AmountBinUnder10},
		{0, AmountBinUnder10},
		{10, AmountBinUnder10},
		{10.01, AmountBin10To100},
		{100, AmountBin10To100},
		{100.5, AmountBin100To500},
		{500, AmountBin100To500},
		{500.01, AmountBin500Plus},
		{1e9, AmountBin500Plus},
	}

	for _, tt := range tests {
		if got := BinAmount(tt.amount); got != tt.want {
			t.Errorf("BinAmount(%v) = %q, want %q", tt.amount, got, tt.want)
		}
	}
}

func TestNewRatio(t *testing.T) {
	r := NewRatio(2, 8)
	if !r.Defined || r.Value != 0.25 {
		t.Errorf("NewRatio(2, 8) = %+v, want defined 0.25", r)
	}

	undefined := NewRatio(3, 0)
	if undefined.Defined {
		t.Error("Expected ratio with zero denominator to be undefined")
	}
	if undefined.String() != UndefinedRatio {
		t.Errorf("String() = %q, want %q", undefined.String(), UndefinedRatio)
	}
}

func TestLabelSet(t *testing.T) {
	s := NewLabelSet(AnomalySpendingSpike, AnomalyOutlier, AnomalySpendingSpike)

	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if got, want := s.String(), "Outlier; Spending Spike"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if s.Has(AnomalyDuplicate) {
		t.Error("Expected set not to contain duplicate label")
	}

	all := s.Add(AnomalyDuplicate)
	if got, want := all.String(), "Duplicate Transaction; Outlier; Spending Spike"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	parsed, err := ParseLabelSet(all.String())
	if err != nil {
		t.Fatalf("ParseLabelSet failed: %v", err)
	}
	if parsed != all {
		t.Errorf("ParseLabelSet() = %v, want %v", parsed, all)
	}

	if _, err := ParseLabelSet("Outlier; Fraud"); err == nil {
		t.Error("Expected error for unknown label")
	}
	if !NewLabelSet().IsEmpty() {
		t.Error("Expected empty set")
	}
}

func TestAnomalyTypesAlphabetical(t *testing.T) {
	types := AnomalyTypes()
	for i := 1; i < len(types); i++ {
		if types[i-1] >= types[i] {
			t.Errorf("AnomalyTypes() not sorted: %q before %q", types[i-1], types[i])
		}
	}
}

func TestDatasetFingerprint(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	eur := "EUR"
	txns := []Transaction{
		{UserID: "u1", TxnDate: base, TxnAmount: 12.5, MerchantID: "m1", TxnType: "POS"},
		{UserID: "u2", TxnDate: base.Add(time.Hour), TxnAmount: 40, MerchantID: "m2", TxnType: "ATM", Currency: &eur},
	}

	a := NewDataset(txns)
	b := NewDataset(txns)
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("Expected identical content to produce identical fingerprints")
	}

	txns[0].TxnAmount = 12.51
	c := NewDataset(txns)
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("Expected changed amount to change the fingerprint")
	}
	if a.Transactions()[0].TxnAmount != 12.5 {
		t.Error("Expected dataset to be isolated from caller mutations")
	}

	if !a.HasCurrency() {
		t.Error("Expected HasCurrency to be true")
	}
	if users := a.Users(); len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
		t.Errorf("Users() = %v, want [u1 u2]", users)
	}
}

func TestCompareKeys(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := TxnKey{UserID: "u1", TxnDate: base, TxnAmount: 5, MerchantID: "m1"}
	b := TxnKey{UserID: "u1", TxnDate: base, TxnAmount: 5, MerchantID: "m2"}
	c := TxnKey{UserID: "u1", TxnDate: base.Add(time.Minute), TxnAmount: 1, MerchantID: "m0"}

	if CompareKeys(a, b) >= 0 {
		t.Error("Expected merchant to break ties")
	}
	if CompareKeys(b, c) >= 0 {
		t.Error("Expected timestamp to order before amount")
	}
	if CompareKeys(a, a) != 0 {
		t.Error("Expected equal keys to compare as 0")
	}
}
