package stats

import "testing"

func TestAvgObserve(t *testing.T) {
	var a Avg
	a.Observe(10)
	a.Observe(30)
	a.Observe(20)
	if a.Min != 10 || a.Max != 30 || a.N != 3 || a.Total != 60 {
		t.Fatalf("got %+v", a)
	}
	if mean := a.Mean(); mean != 20 {
		t.Fatalf("Mean() = %v, want 20", mean)
	}
}

func TestClampNegative(t *testing.T) {
	v, clamped := Clamp(-5)
	if v != 0 || !clamped {
		t.Fatalf("Clamp(-5) = (%d, %v), want (0, true)", v, clamped)
	}
	v, clamped = Clamp(5)
	if v != 5 || clamped {
		t.Fatalf("Clamp(5) = (%d, %v), want (5, false)", v, clamped)
	}
}

func TestAveragesObserveSums(t *testing.T) {
	var avg Averages
	avg.Observe(Segments{
		Q2A: 100, HasQ2A: true,
		Q2I: 100, HasQ2I: true,
		I2D: 100, HasI2D: true,
		D2C: 200, HasD2C: true,
		Q2C: 400,
	}, 8<<9)
	if avg.Q2C.Mean() != 400 {
		t.Fatalf("Q2C mean = %v, want 400", avg.Q2C.Mean())
	}
	if avg.Blocks.Mean() != 8<<9 {
		t.Fatalf("Blocks mean = %v", avg.Blocks.Mean())
	}
}
