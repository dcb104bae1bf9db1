package scoring

import "testing"

func TestSpeedFormula(t *testing.T) {
	tests := []struct {
		name       string
		limitMS    int
		responseMS int
		want       int
	}{
		{"instant answer", 30000, 0, 1000},
		{"two seconds of thirty", 30000, 2000, 933},
		{"three seconds of thirty", 30000, 3000, 900},
		{"ten seconds of thirty", 30000, 10000, 666},
		{"just inside the limit", 30000, 29999, 1},
		{"exactly at the limit", 30000, 30000, 1},
		{"past the limit", 30000, 45000, 1},
		{"short question", 10000, 5000, 500},
		{"zero limit", 0, 100, 1},
		{"negative limit", -5, 100, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Speed(tt.limitMS, tt.responseMS); got != tt.want {
				t.Errorf("Speed(%d, %d) = %d, want %d", tt.limitMS, tt.responseMS, got, tt.want)
			}
		})
	}
}

func TestSpeedBounds(t *testing.T) {
	limit := 30000
	for response := 0; response < limit; response += 997 {
		got := Speed(limit, response)
		if got < 1 || got > 1000 {
			t.Fatalf("Speed(%d, %d) = %d, outside [1, 1000]", limit, response, got)
		}
	}
}

func TestSpeedMonotonic(t *testing.T) {
	limit := 30000
	prev := Speed(limit, 0)
	for response := 500; response < limit; response += 500 {
		got := Speed(limit, response)
		if got > prev {
			t.Fatalf("Speed increased from %d to %d at response %d", prev, got, response)
		}
		prev = got
	}
}
