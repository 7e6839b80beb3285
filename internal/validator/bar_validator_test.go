package validator

import (
	"testing"
	"time"

	"github.com/odinmarkets/dna-pipeline/internal/model"
)

func bar(symbol string, ts time.Time, o, h, l, c, vol float64) model.Bar {
	return model.Bar{
		Symbol: symbol, Timeframe: model.Timeframe1m, Timestamp: ts,
		Open: o, High: h, Low: l, Close: c, Volume: vol,
	}
}

func TestOHLCViolationIsRejected(t *testing.T) {
	v := New(Config{})
	ts := model.Timeframe1m.AlignedStart(time.Date(2026, 1, 2, 9, 45, 0, 0, time.UTC))
	b := bar("AAPL", ts, 10, 9, 11, 10, 100) // high < low: invalid
	_, report := v.ValidateBar(b)
	if !report.HasError() {
		t.Fatal("expected OHLC_LOGIC error")
	}
	if report.Accepted {
		t.Fatal("expected bar to be rejected")
	}
}

func TestOffGridTimestampRejected(t *testing.T) {
	v := New(Config{})
	ts := time.Date(2026, 1, 2, 9, 45, 30, 0, time.UTC) // not on 1m grid
	b := bar("AAPL", ts, 10, 11, 9, 10, 100)
	_, report := v.ValidateBar(b)
	if !report.HasError() {
		t.Fatal("expected OFF_GRID error")
	}
}

func TestDuplicateTimestampDetected(t *testing.T) {
	v := New(Config{})
	ts := model.Timeframe1m.AlignedStart(time.Date(2026, 1, 2, 9, 45, 0, 0, time.UTC))
	b := bar("AAPL", ts, 10, 11, 9, 10, 100)
	if _, r := v.ValidateBar(b); !r.Accepted {
		t.Fatalf("first bar should be accepted, got issues %+v", r.Issues)
	}
	_, report := v.ValidateBar(b)
	found := false
	for _, iss := range report.Issues {
		if iss.Code == model.IssueDuplicateTimestamp {
			found = true
		}
	}
	if !found {
		t.Fatal("expected DUPLICATE_TIMESTAMP issue on repeated timestamp")
	}
}

func TestNonMonotonicDetected(t *testing.T) {
	v := New(Config{})
	t1 := model.Timeframe1m.AlignedStart(time.Date(2026, 1, 2, 9, 46, 0, 0, time.UTC))
	t2 := model.Timeframe1m.AlignedStart(time.Date(2026, 1, 2, 9, 45, 0, 0, time.UTC))
	v.ValidateBar(bar("AAPL", t1, 10, 11, 9, 10, 100))
	_, report := v.ValidateBar(bar("AAPL", t2, 10, 11, 9, 10, 100))
	found := false
	for _, iss := range report.Issues {
		if iss.Code == model.IssueNonMonotonic {
			found = true
		}
	}
	if !found {
		t.Fatal("expected NON_MONOTONIC issue for out-of-order timestamp")
	}
}

func TestAcceptedBarHasHighScore(t *testing.T) {
	v := New(Config{})
	ts := model.Timeframe1m.AlignedStart(time.Date(2026, 1, 2, 9, 45, 0, 0, time.UTC))
	b := bar("AAPL", ts, 10, 11, 9, 10, 1000)
	out, report := v.ValidateBar(b)
	if !report.Accepted {
		t.Fatalf("expected clean bar to be accepted, issues: %+v", report.Issues)
	}
	if out.QualityScore != report.Score {
		t.Fatalf("bar.QualityScore should mirror report.Score")
	}
}

func TestZeroVolumeDuringRegularHoursWarns(t *testing.T) {
	v := New(Config{})
	ts := model.Timeframe1m.AlignedStart(time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC))
	_, report := v.ValidateBar(bar("AAPL", ts, 10, 11, 9, 10, 0))
	found := false
	for _, iss := range report.Issues {
		if iss.Code == model.IssueZeroVolume {
			found = true
		}
	}
	if !found {
		t.Fatal("expected ZERO_VOLUME warning during regular hours")
	}
}
