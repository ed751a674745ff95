package pricing

import "testing"

func TestCreditsFor(t *testing.T) {
	tests := []struct {
		name    string
		kopecks int64
		want    int64
	}{
		{name: "promo 99 rub", kopecks: 9900, want: 100},
		{name: "500 rub tier", kopecks: 50000, want: 525},
		{name: "tier lower bound", kopecks: 49000, want: 525},
		{name: "tier upper bound", kopecks: 51000, want: 525},
		{name: "outside tiers falls back 1:1", kopecks: 123400, want: 1234},
		{name: "just above tier", kopecks: 51100, want: 511},
		{name: "just below tier", kopecks: 48900, want: 489},
		{name: "one rub", kopecks: 100, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CreditsFor(tt.kopecks); got != tt.want {
				t.Fatalf("CreditsFor(%d) = %d, want %d", tt.kopecks, got, tt.want)
			}
		})
	}
}

func TestCreditsFor_Deterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		if got := CreditsFor(9900); got != 100 {
			t.Fatalf("CreditsFor(9900) = %d on call %d, want 100", got, i)
		}
	}
}
