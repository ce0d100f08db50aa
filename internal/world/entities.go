package world

// ResourceKind enumerates the kinds of resource a spawn can yield.
type ResourceKind string

const (
	ResourceFood     ResourceKind = "food"
	ResourceEnergy   ResourceKind = "energy"
	ResourceMaterial ResourceKind = "material"
)

// ResourceSpawn is a harvestable deposit at a grid cell. currentAmount is
// mutated only by harvestResource and by the environment pass's
// regeneration step (spec.md §4.1).
type ResourceSpawn struct {
	ID            string       `json:"id" db:"id"`
	X             int          `json:"x" db:"x"`
	Y             int          `json:"y" db:"y"`
	Kind          ResourceKind `json:"kind" db:"kind"`
	CurrentAmount float64      `json:"currentAmount" db:"current_amount"`
	MaxAmount     float64      `json:"maxAmount" db:"max_amount"`
	RegenRate     float64      `json:"regenRate" db:"regen_rate"`
	Biome         string       `json:"biome" db:"biome"`
}

// Position returns the spawn's grid cell.
func (r ResourceSpawn) Position() Position { return Position{X: r.X, Y: r.Y} }

// Shelter is a static structure agents can sleep at, work at, or claim
// ownership of. Immutable except for ownership (spec.md §3).
type Shelter struct {
	ID         string  `json:"id" db:"id"`
	X          int     `json:"x" db:"x"`
	Y          int     `json:"y" db:"y"`
	CanSleep   bool    `json:"canSleep" db:"can_sleep"`
	OwnerAgent *string `json:"ownerAgent,omitempty" db:"owner_agent"`
}

// Position returns the shelter's grid cell.
func (s Shelter) Position() Position { return Position{X: s.X, Y: s.Y} }

// DefaultItemPriceTable maps display item names to a buy price in balance
// units, grounded on the teacher's internal/economy/goods.go base-price
// table, trimmed to the items the action pipeline actually trades.
var DefaultItemPriceTable = map[string]int{
	"food":    2,
	"battery": 3,
	"material": 4,
}
