// Package world provides the 2D grid, biome generation, and the spatial
// data structures (resource spawns, shelters) agents perceive and act on.
//
// Grounded on the teacher's internal/world package, adapted from an axial
// hex grid to the discrete square grid spec.md §1 calls for. Terrain
// generation keeps the teacher's layered-simplex-noise approach
// (internal/world/generation.go) applied over Cartesian (x, y) instead of
// axial (q, r) coordinates.
package world

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Position is a cell on the grid.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ManhattanDistance returns the L1 distance between two positions.
func ManhattanDistance(a, b Position) int {
	return absInt(a.X-b.X) + absInt(a.Y-b.Y)
}

// ChebyshevDistance returns the Chebyshev (king-move) distance, used for
// the Observation Builder's visibility radius when configured as such.
func ChebyshevDistance(a, b Position) int {
	dx, dy := absInt(a.X-b.X), absInt(a.Y-b.Y)
	if dx > dy {
		return dx
	}
	return dy
}

// EuclideanDistance returns the straight-line distance.
func EuclideanDistance(a, b Position) float64 {
	dx, dy := float64(a.X-b.X), float64(a.Y-b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Neighbors4 returns the four orthogonal neighbors of a position, in a
// fixed order so deterministic callers (the fallback policy's random
//4-neighbor move) get stable indexing.
func (p Position) Neighbors4() []Position {
	return []Position{
		{X: p.X, Y: p.Y - 1},
		{X: p.X + 1, Y: p.Y},
		{X: p.X, Y: p.Y + 1},
		{X: p.X - 1, Y: p.Y},
	}
}

// Biome classifies the terrain of a cell. Values carried over from the
// teacher's Terrain enum, minus the hex-only River/Ocean entries that have
// no square-grid analogue in this spec's world.
type Biome uint8

const (
	BiomePlains Biome = iota
	BiomeForest
	BiomeMountain
	BiomeCoast
	BiomeSwamp
	BiomeTundra
)

func (b Biome) String() string {
	switch b {
	case BiomePlains:
		return "plains"
	case BiomeForest:
		return "forest"
	case BiomeMountain:
		return "mountain"
	case BiomeCoast:
		return "coast"
	case BiomeSwamp:
		return "swamp"
	case BiomeTundra:
		return "tundra"
	default:
		return "unknown"
	}
}

// Cell is a single grid tile.
type Cell struct {
	Pos   Position
	Biome Biome
}

// Grid holds the complete world surface: dimensions and per-cell biome.
type Grid struct {
	Width, Height int
	cells         []Biome // row-major, length Width*Height
}

// NewGrid allocates an empty grid of the given dimensions.
func NewGrid(width, height int) *Grid {
	return &Grid{Width: width, Height: height, cells: make([]Biome, width*height)}
}

// InBounds reports whether p lies within the grid.
func (g *Grid) InBounds(p Position) bool {
	return p.X >= 0 && p.X < g.Width && p.Y >= 0 && p.Y < g.Height
}

// Biome returns the biome at p. Callers must check InBounds first;
// out-of-range positions return BiomePlains as a safe default.
func (g *Grid) BiomeAt(p Position) Biome {
	if !g.InBounds(p) {
		return BiomePlains
	}
	return g.cells[p.Y*g.Width+p.X]
}

func (g *Grid) setBiome(p Position, b Biome) {
	g.cells[p.Y*g.Width+p.X] = b
}

// GenConfig parameterizes deterministic world generation.
type GenConfig struct {
	Width, Height int
	Seed          int64
	SeaLevel      float64 // elevation threshold below which cells become Coast
	MountainLevel float64 // elevation threshold above which cells become Mountain
}

// DefaultGenConfig returns a reasonable default for a fresh world.
func DefaultGenConfig() GenConfig {
	return GenConfig{Width: 100, Height: 100, SeaLevel: 0.3, MountainLevel: 0.75}
}

// Generate builds a deterministic grid of biomes from layered simplex
// noise, exactly the teacher's elevation/rainfall/temperature approach
// (internal/world/generation.go) re-sampled over Cartesian coordinates.
func Generate(cfg GenConfig) *Grid {
	elevNoise := opensimplex.NewNormalized(cfg.Seed)
	rainNoise := opensimplex.NewNormalized(cfg.Seed + 1)
	tempNoise := opensimplex.NewNormalized(cfg.Seed + 2)

	g := NewGrid(cfg.Width, cfg.Height)

	for y := 0; y < cfg.Height; y++ {
		for x := 0; x < cfg.Width; x++ {
			pos := Position{X: x, Y: y}
			fx, fy := float64(x), float64(y)

			elevation := octaveNoise(elevNoise, fx, fy, 4, 0.08, 0.5)
			rainfall := octaveNoise(rainNoise, fx, fy, 3, 0.06, 0.5)
			temperature := octaveNoise(tempNoise, fx, fy, 3, 0.05, 0.5)

			g.setBiome(pos, classify(elevation, rainfall, temperature, cfg))
		}
	}
	return g
}

// octaveNoise layers multiple noise frequencies into fractal terrain,
// identical in approach to the teacher's internal/world/generation.go.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

func classify(elevation, rainfall, temperature float64, cfg GenConfig) Biome {
	switch {
	case elevation < cfg.SeaLevel:
		return BiomeCoast
	case elevation > cfg.MountainLevel:
		return BiomeMountain
	case temperature < 0.25:
		return BiomeTundra
	case rainfall > 0.7:
		return BiomeSwamp
	case rainfall > 0.45:
		return BiomeForest
	default:
		return BiomePlains
	}
}

// BiomeCounts tallies how many cells of each biome a grid contains, used
// for startup logging the way the teacher logged terrain counts.
func BiomeCounts(g *Grid) map[Biome]int {
	counts := make(map[Biome]int, 6)
	for _, b := range g.cells {
		counts[b]++
	}
	return counts
}
