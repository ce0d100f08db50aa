package world

import "testing"

func TestDistances(t *testing.T) {
	a := Position{X: 0, Y: 0}
	b := Position{X: 3, Y: 4}

	if got := ManhattanDistance(a, b); got != 7 {
		t.Fatalf("ManhattanDistance = %d, want 7", got)
	}
	if got := ChebyshevDistance(a, b); got != 4 {
		t.Fatalf("ChebyshevDistance = %d, want 4", got)
	}
	if got := EuclideanDistance(a, b); got != 5 {
		t.Fatalf("EuclideanDistance = %v, want 5", got)
	}
}

func TestNeighbors4(t *testing.T) {
	p := Position{X: 2, Y: 2}
	got := p.Neighbors4()
	if len(got) != 4 {
		t.Fatalf("len(Neighbors4()) = %d, want 4", len(got))
	}
	want := []Position{{2, 1}, {3, 2}, {2, 3}, {1, 2}}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("Neighbors4()[%d] = %v, want %v", i, got[i], w)
		}
	}
}

func TestGridInBoundsAndBiomeAt(t *testing.T) {
	g := NewGrid(10, 10)
	if !g.InBounds(Position{X: 0, Y: 0}) {
		t.Fatal("origin should be in bounds")
	}
	if g.InBounds(Position{X: 10, Y: 0}) {
		t.Fatal("x == width should be out of bounds")
	}
	if g.InBounds(Position{X: -1, Y: 0}) {
		t.Fatal("negative x should be out of bounds")
	}
	if g.BiomeAt(Position{X: 20, Y: 20}) != BiomePlains {
		t.Fatal("out-of-range BiomeAt should default to BiomePlains")
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	cfg := DefaultGenConfig()
	cfg.Width, cfg.Height = 16, 16
	cfg.Seed = 123

	g1 := Generate(cfg)
	g2 := Generate(cfg)

	for y := 0; y < cfg.Height; y++ {
		for x := 0; x < cfg.Width; x++ {
			p := Position{X: x, Y: y}
			if g1.BiomeAt(p) != g2.BiomeAt(p) {
				t.Fatalf("biome at %v diverged between identically-seeded generations", p)
			}
		}
	}
}

func TestBiomeCounts(t *testing.T) {
	cfg := DefaultGenConfig()
	cfg.Width, cfg.Height = 8, 8
	cfg.Seed = 1
	g := Generate(cfg)

	counts := BiomeCounts(g)
	total := 0
	for _, c := range counts {
		total += c
	}
	if total != 64 {
		t.Fatalf("BiomeCounts total = %d, want 64", total)
	}
}
