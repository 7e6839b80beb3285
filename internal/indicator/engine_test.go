package indicator

import (
	"testing"
	"time"

	"github.com/odinmarkets/dna-pipeline/internal/model"
)

func genBars(n int) []model.Bar {
	base := time.Date(2026, 1, 2, 9, 45, 0, 0, time.UTC)
	out := make([]model.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price += float64(i%5) - 2
		out[i] = model.Bar{
			Symbol: "AAPL", Timeframe: model.Timeframe1m,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open: price, High: price + 1, Low: price - 1, Close: price + 0.5,
			Volume: 1000 + float64(i),
		}
	}
	return out
}

func TestSMAWarmsUpThenValid(t *testing.T) {
	e := New()
	bars := genBars(10)
	params := model.ParameterSet{Period: 5}
	var lastValid bool
	for i, b := range bars {
		v, err := e.Update(b, model.FamilySMA, params)
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if i < 4 && v.Valid {
			t.Fatalf("expected invalid during warmup at bar %d", i)
		}
		lastValid = v.Valid
	}
	if !lastValid {
		t.Fatal("expected SMA to be valid after warmup completes")
	}
}

func TestEngineDeterministicReplay(t *testing.T) {
	bars := genBars(30)
	params := model.ParameterSet{Period: 14}

	run := func() []model.IndicatorValue {
		e := New()
		var out []model.IndicatorValue
		for _, b := range bars {
			v, err := e.Update(b, model.FamilyRSI, params)
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			out = append(out, v)
		}
		return out
	}

	a := run()
	b := run()
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Value != b[i].Value || a[i].Valid != b[i].Valid {
			t.Fatalf("bit-identical replay violated at index %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestReconfigurationInvalidatesOldFingerprint(t *testing.T) {
	e := New()
	bars := genBars(20)
	for _, b := range bars {
		if _, err := e.Update(b, model.FamilySMA, model.ParameterSet{Period: 5}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	recomputed, err := e.Recompute(bars, model.FamilySMA, model.ParameterSet{Period: 10})
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if recomputed[4].Valid {
		t.Fatal("period=10 SMA should still be warming up at index 4")
	}
	if !recomputed[len(recomputed)-1].Valid {
		t.Fatal("period=10 SMA should be valid by the end of a 20-bar replay")
	}
}

func TestAllFamiliesEventuallyValid(t *testing.T) {
	bars := genBars(60)
	families := []struct {
		family model.IndicatorFamily
		params model.ParameterSet
	}{
		{model.FamilySMA, model.ParameterSet{Period: 10}},
		{model.FamilyEMA, model.ParameterSet{Period: 10}},
		{model.FamilyRSI, model.ParameterSet{Period: 14}},
		{model.FamilyMACD, model.ParameterSet{FastPeriod: 5, SlowPeriod: 10, Signal: 4}},
		{model.FamilyBollingerBands, model.ParameterSet{Period: 10, StdDev: 2}},
		{model.FamilyATR, model.ParameterSet{Period: 14}},
		{model.FamilyStochastic, model.ParameterSet{KPeriod: 14, DPeriod: 3, Slowing: 3}},
		{model.FamilyVWAP, model.ParameterSet{SessionReset: true}},
		{model.FamilyOBV, model.ParameterSet{}},
		{model.FamilyADX, model.ParameterSet{Period: 14}},
	}
	for _, f := range families {
		e := New()
		var lastValid bool
		for _, b := range bars {
			v, err := e.Update(b, f.family, f.params)
			if err != nil {
				t.Fatalf("%s Update: %v", f.family, err)
			}
			lastValid = v.Valid
		}
		if !lastValid {
			t.Errorf("family %s never became valid over 60 bars", f.family)
		}
	}
}
