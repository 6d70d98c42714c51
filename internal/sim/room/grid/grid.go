package grid

import (
	"math"
	"sort"

	"gridcity.ai/internal/protocol"
)

// CityOwner owns every parcel no player has bought.
const CityOwner = "City"

type Coord struct {
	Row int
	Col int
}

func (c Coord) Array() [2]int { return [2]int{c.Row, c.Col} }

func FromArray(a [2]int) Coord { return Coord{Row: a[0], Col: a[1]} }

// Chebyshev returns the king-move distance between two coords.
func (c Coord) Chebyshev(o Coord) int {
	dr := absInt(c.Row - o.Row)
	dc := absInt(c.Col - o.Col)
	if dr > dc {
		return dr
	}
	return dc
}

func (c Coord) Less(o Coord) bool {
	if c.Row != o.Row {
		return c.Row < o.Row
	}
	return c.Col < o.Col
}

type Parcel struct {
	Owner              string
	Building           *Coord
	Price              int64
	PurchasedTick      uint64
	ProtectedUntilTick uint64
	UnderAuction       string
}

type Performance struct {
	Revenue     float64
	Maintenance float64
	LocalNeeds  float64
	LocalCARENS float64
}

type Building struct {
	ID                string
	Type              string
	Category          string
	Owner             string
	Loc               Coord
	UnderConstruction bool
	StartTick         uint64
	ConstructionTicks uint64
	CompletedTick     uint64
	Age               int
	Condition         float64
	Residents         int
	Perf              Performance
}

// Ready reports whether construction has run its full duration at now.
func (b *Building) Ready(now uint64) bool {
	return b.UnderConstruction && now >= b.StartTick && now-b.StartTick >= b.ConstructionTicks
}

// Progress is the completed fraction of construction in [0,1].
func (b *Building) Progress(now uint64) float64 {
	if !b.UnderConstruction || b.ConstructionTicks == 0 {
		return 1
	}
	if now <= b.StartTick {
		return 0
	}
	p := float64(now-b.StartTick) / float64(b.ConstructionTicks)
	if p > 1 {
		return 1
	}
	return p
}

// DepreciatedValue is buildCost scaled by condition; buildings under
// construction are worth their full cost.
func (b *Building) DepreciatedValue(buildCost int64) int64 {
	if b.UnderConstruction {
		return buildCost
	}
	return int64(math.Round(float64(buildCost) * b.Condition))
}

type PriceConfig struct {
	Center int64
	Edge   int64
	Bump   int64
}

// Grid owns parcel ownership and prices plus the building registry.
// It is not safe for concurrent use; the owning room serializes access.
type Grid struct {
	size      int
	prices    PriceConfig
	parcels   [][]Parcel
	buildings map[Coord]*Building
}

func New(size int, prices PriceConfig) *Grid {
	g := &Grid{
		size:      size,
		prices:    prices,
		parcels:   make([][]Parcel, size),
		buildings: map[Coord]*Building{},
	}
	for r := 0; r < size; r++ {
		g.parcels[r] = make([]Parcel, size)
		for c := 0; c < size; c++ {
			g.parcels[r][c] = Parcel{
				Owner: CityOwner,
				Price: InitialPrice(size, Coord{Row: r, Col: c}, prices.Center, prices.Edge),
			}
		}
	}
	return g
}

// InitialPrice interpolates linearly from center to edge by Chebyshev
// distance from the fractional grid center.
func InitialPrice(size int, c Coord, center, edge int64) int64 {
	if size <= 1 {
		return center
	}
	mid := float64(size-1) / 2
	d := math.Max(math.Abs(float64(c.Row)-mid), math.Abs(float64(c.Col)-mid))
	p := float64(center) + float64(edge-center)*d/mid
	return int64(math.Round(p))
}

func (g *Grid) Size() int { return g.size }

func (g *Grid) InBounds(c Coord) bool {
	return c.Row >= 0 && c.Col >= 0 && c.Row < g.size && c.Col < g.size
}

// Parcel returns a pointer into the grid, or nil if c is out of bounds.
func (g *Grid) Parcel(c Coord) *Parcel {
	if !g.InBounds(c) {
		return nil
	}
	return &g.parcels[c.Row][c.Col]
}

func (g *Grid) Building(c Coord) *Building { return g.buildings[c] }

// Buildings returns every registered building ordered by location.
func (g *Grid) Buildings() []*Building {
	out := make([]*Building, 0, len(g.buildings))
	for _, b := range g.buildings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Loc.Less(out[j].Loc) })
	return out
}

// Completed returns completed buildings ordered by location.
func (g *Grid) Completed() []*Building {
	all := g.Buildings()
	out := all[:0]
	for _, b := range all {
		if !b.UnderConstruction {
			out = append(out, b)
		}
	}
	return out
}

// Within returns completed buildings other than at center with Chebyshev
// distance <= radius, ordered by location.
func (g *Grid) Within(center Coord, radius int) []*Building {
	var out []*Building
	for r := center.Row - radius; r <= center.Row+radius; r++ {
		for c := center.Col - radius; c <= center.Col+radius; c++ {
			at := Coord{Row: r, Col: c}
			if at == center {
				continue
			}
			if b := g.buildings[at]; b != nil && !b.UnderConstruction {
				out = append(out, b)
			}
		}
	}
	return out
}

// Neighbors8 returns the in-bounds 8-adjacent coords of c.
func (g *Grid) Neighbors8(c Coord) []Coord {
	out := make([]Coord, 0, 8)
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			n := Coord{Row: c.Row + dr, Col: c.Col + dc}
			if g.InBounds(n) {
				out = append(out, n)
			}
		}
	}
	return out
}

// CheckPurchase validates buying an unowned parcel and returns its price.
func (g *Grid) CheckPurchase(c Coord) (int64, error) {
	p := g.Parcel(c)
	if p == nil {
		return 0, protocol.Reject(protocol.ErrInvalidLocation, "parcel %d,%d out of bounds", c.Row, c.Col)
	}
	if p.Owner != CityOwner {
		return 0, protocol.Reject(protocol.ErrConflict, "parcel %d,%d already owned by %s", c.Row, c.Col, p.Owner)
	}
	if p.UnderAuction != "" {
		return 0, protocol.Reject(protocol.ErrConflict, "parcel %d,%d is under auction", c.Row, c.Col)
	}
	return p.Price, nil
}

// CommitPurchase assigns the parcel and bumps the price of every still
// unowned neighbour. It returns the coords whose price changed.
func (g *Grid) CommitPurchase(c Coord, buyer string, now uint64) []Coord {
	p := g.Parcel(c)
	p.Owner = buyer
	p.PurchasedTick = now
	var bumped []Coord
	if g.prices.Bump <= 0 {
		return bumped
	}
	for _, n := range g.Neighbors8(c) {
		np := g.Parcel(n)
		if np.Owner == CityOwner {
			np.Price += g.prices.Bump
			bumped = append(bumped, n)
		}
	}
	return bumped
}

// CheckBuildSite validates that owner may start construction at c.
func (g *Grid) CheckBuildSite(c Coord, owner string) error {
	p := g.Parcel(c)
	if p == nil {
		return protocol.Reject(protocol.ErrInvalidLocation, "parcel %d,%d out of bounds", c.Row, c.Col)
	}
	if p.Owner != owner {
		return protocol.Reject(protocol.ErrNotOwner, "parcel %d,%d is owned by %s", c.Row, c.Col, p.Owner)
	}
	if g.buildings[c] != nil || p.Building != nil {
		return protocol.Reject(protocol.ErrOccupied, "parcel %d,%d is occupied", c.Row, c.Col)
	}
	if p.UnderAuction != "" {
		return protocol.Reject(protocol.ErrConflict, "parcel %d,%d is under auction", c.Row, c.Col)
	}
	return nil
}

// CheckOwnedBuilding validates that owner holds a building at c that is
// not tied up in an auction.
func (g *Grid) CheckOwnedBuilding(c Coord, owner string) (*Building, error) {
	p := g.Parcel(c)
	if p == nil {
		return nil, protocol.Reject(protocol.ErrInvalidLocation, "parcel %d,%d out of bounds", c.Row, c.Col)
	}
	b := g.buildings[c]
	if b == nil {
		return nil, protocol.Reject(protocol.ErrNotFound, "no building at %d,%d", c.Row, c.Col)
	}
	if b.Owner != owner {
		return nil, protocol.Reject(protocol.ErrNotOwner, "building at %d,%d is owned by %s", c.Row, c.Col, b.Owner)
	}
	if p.UnderAuction != "" {
		return nil, protocol.Reject(protocol.ErrConflict, "parcel %d,%d is under auction", c.Row, c.Col)
	}
	return b, nil
}

// Place registers a new building. Callers validate with CheckBuildSite first.
func (g *Grid) Place(b *Building) {
	g.buildings[b.Loc] = b
}

// Complete finishes construction. It returns false if the building was
// already complete, so completion happens at most once.
func (g *Grid) Complete(b *Building, now uint64) bool {
	if b == nil || !b.UnderConstruction {
		return false
	}
	b.UnderConstruction = false
	b.CompletedTick = now
	b.Age = 0
	loc := b.Loc
	g.parcels[loc.Row][loc.Col].Building = &loc
	return true
}

// Remove deletes the building at c from both the registry and the parcel.
func (g *Grid) Remove(c Coord) *Building {
	b := g.buildings[c]
	delete(g.buildings, c)
	if p := g.Parcel(c); p != nil {
		p.Building = nil
	}
	return b
}

// Transfer moves a parcel and its building to a new owner together.
func (g *Grid) Transfer(c Coord, owner string) {
	p := g.Parcel(c)
	if p == nil {
		return
	}
	p.Owner = owner
	if b := g.buildings[c]; b != nil {
		b.Owner = owner
	}
}

// Due returns buildings whose construction has run its full duration.
func (g *Grid) Due(now uint64) []*Building {
	var out []*Building
	for _, b := range g.Buildings() {
		if b.Ready(now) {
			out = append(out, b)
		}
	}
	return out
}

// OwnedBy returns the coords of every parcel owned by id, row-major.
func (g *Grid) OwnedBy(id string) []Coord {
	var out []Coord
	for r := 0; r < g.size; r++ {
		for c := 0; c < g.size; c++ {
			if g.parcels[r][c].Owner == id {
				out = append(out, Coord{Row: r, Col: c})
			}
		}
	}
	return out
}

// Restore replaces a parcel and is used when importing snapshots.
func (g *Grid) Restore(c Coord, p Parcel) {
	if g.InBounds(c) {
		g.parcels[c.Row][c.Col] = p
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
