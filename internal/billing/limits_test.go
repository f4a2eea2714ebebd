package billing

import (
	"testing"

	"tableline/internal/types"
)

func TestClassifyBands(t *testing.T) {
	cases := []struct {
		name    string
		current int
		limit   int
		want    types.LimitStatus
	}{
		{"zero usage", 0, 100, types.LimitOK},
		{"just below warning", 79, 100, types.LimitOK},
		{"at warning boundary", 80, 100, types.LimitWarning},
		{"inside warning band", 99, 100, types.LimitWarning},
		{"at limit", 100, 100, types.LimitBlocked},
		{"over limit", 106, 100, types.LimitBlocked},
		{"fractional warning", 4, 5, types.LimitWarning}, // 80%
		{"small limit blocked", 5, 5, types.LimitBlocked},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.current, tc.limit)
			if got.Status != tc.want {
				t.Errorf("Classify(%d, %d).Status = %s, want %s",
					tc.current, tc.limit, got.Status, tc.want)
			}
		})
	}
}

func TestClassifyBandLaws(t *testing.T) {
	// status=ok <=> pct < 80; warning <=> 80 <= pct < 100; blocked <=> pct >= 100.
	limit := 250
	for current := 0; current <= 2*limit; current++ {
		got := Classify(current, limit)
		pct := float64(current) / float64(limit) * 100

		var want types.LimitStatus
		switch {
		case pct >= 100:
			want = types.LimitBlocked
		case pct >= 80:
			want = types.LimitWarning
		default:
			want = types.LimitOK
		}
		if got.Status != want {
			t.Fatalf("Classify(%d, %d) = %s, want %s (pct=%.2f)", current, limit, got.Status, want, pct)
		}
		if got.PercentUsed != pct {
			t.Fatalf("PercentUsed = %f, want %f", got.PercentUsed, pct)
		}
	}
}

func TestClassifyZeroLimitAlwaysBlocks(t *testing.T) {
	for _, current := range []int{0, 1, 50, 1000000} {
		got := Classify(current, 0)
		if got.Status != types.LimitBlocked {
			t.Errorf("Classify(%d, 0).Status = %s, want blocked", current, got.Status)
		}
		if got.Remaining != 0 {
			t.Errorf("Classify(%d, 0).Remaining = %d, want 0", current, got.Remaining)
		}
	}
}

func TestClassifyUnlimitedAlwaysOK(t *testing.T) {
	for _, current := range []int{0, 80, 100, 1 << 30} {
		got := Classify(current, types.UnlimitedLimit)
		if got.Status != types.LimitOK {
			t.Errorf("Classify(%d, unlimited).Status = %s, want ok", current, got.Status)
		}
		if got.PercentUsed != 0 {
			t.Errorf("Classify(%d, unlimited).PercentUsed = %f, want 0", current, got.PercentUsed)
		}
		if !got.Unlimited {
			t.Error("Unlimited flag not set")
		}
	}
}

func TestClassifyRemaining(t *testing.T) {
	if got := Classify(30, 100); got.Remaining != 70 {
		t.Errorf("Remaining = %d, want 70", got.Remaining)
	}
	// Remaining never goes negative once over the limit.
	if got := Classify(130, 100); got.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", got.Remaining)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	first := Classify(81, 100)
	for i := 0; i < 10; i++ {
		if got := Classify(81, 100); got != first {
			t.Fatalf("Classify not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestMinutesFromSeconds(t *testing.T) {
	cases := []struct {
		seconds int
		want    int
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{59, 1},
		{60, 1},
		{61, 2}, // partial minutes bill as a full minute
		{120, 2},
		{121, 3},
		{3600, 60},
	}
	for _, tc := range cases {
		if got := MinutesFromSeconds(tc.seconds); got != tc.want {
			t.Errorf("MinutesFromSeconds(%d) = %d, want %d", tc.seconds, got, tc.want)
		}
	}
}
