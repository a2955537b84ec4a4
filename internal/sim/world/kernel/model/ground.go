package model

// GroundItem is a stack lying in the world, usually dropped because an
// inventory had no room for items coming back from a trade. Only Owner may
// pick it up.
type GroundItem struct {
	ID          string
	Owner       string
	Pos         Vec3i
	Item        string
	Count       int
	Reason      string
	CreatedTick uint64
}
