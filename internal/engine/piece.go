// internal/engine/piece.go
package engine

// Kind identifies one of the seven tetromino kinds. Zero means "no piece";
// board cells store the kind value of the piece that locked there.
type Kind uint8

const (
	KindNone Kind = iota
	KindI
	KindO
	KindT
	KindS
	KindZ
	KindJ
	KindL
)

// Kinds lists the seven playable kinds in bag order.
var Kinds = [7]Kind{KindI, KindO, KindT, KindS, KindZ, KindJ, KindL}

var kindNames = [8]string{"", "I", "O", "T", "S", "Z", "J", "L"}

// String returns the single-letter name, or "" for KindNone.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return ""
}

// Cell is an offset from a piece's origin, x growing right and y growing down.
type Cell struct {
	X, Y int
}

// shapes holds the four rotation states per kind as cell offsets from the
// bounding-box origin. The O piece repeats one state four times; S, Z and I
// alternate their two distinct states. No wall kicks: a rotation is legal
// only if the target cells are directly valid.
var shapes = map[Kind][4][4]Cell{
	KindI: {
		{{0, 1}, {1, 1}, {2, 1}, {3, 1}},
		{{2, 0}, {2, 1}, {2, 2}, {2, 3}},
		{{0, 1}, {1, 1}, {2, 1}, {3, 1}},
		{{2, 0}, {2, 1}, {2, 2}, {2, 3}},
	},
	KindO: {
		{{0, 0}, {1, 0}, {0, 1}, {1, 1}},
		{{0, 0}, {1, 0}, {0, 1}, {1, 1}},
		{{0, 0}, {1, 0}, {0, 1}, {1, 1}},
		{{0, 0}, {1, 0}, {0, 1}, {1, 1}},
	},
	KindT: {
		{{1, 0}, {0, 1}, {1, 1}, {2, 1}},
		{{1, 0}, {1, 1}, {2, 1}, {1, 2}},
		{{0, 1}, {1, 1}, {2, 1}, {1, 2}},
		{{1, 0}, {0, 1}, {1, 1}, {1, 2}},
	},
	KindS: {
		{{1, 0}, {2, 0}, {0, 1}, {1, 1}},
		{{1, 0}, {1, 1}, {2, 1}, {2, 2}},
		{{1, 0}, {2, 0}, {0, 1}, {1, 1}},
		{{1, 0}, {1, 1}, {2, 1}, {2, 2}},
	},
	KindZ: {
		{{0, 0}, {1, 0}, {1, 1}, {2, 1}},
		{{2, 0}, {1, 1}, {2, 1}, {1, 2}},
		{{0, 0}, {1, 0}, {1, 1}, {2, 1}},
		{{2, 0}, {1, 1}, {2, 1}, {1, 2}},
	},
	KindJ: {
		{{0, 0}, {0, 1}, {1, 1}, {2, 1}},
		{{1, 0}, {2, 0}, {1, 1}, {1, 2}},
		{{0, 1}, {1, 1}, {2, 1}, {2, 2}},
		{{1, 0}, {1, 1}, {0, 2}, {1, 2}},
	},
	KindL: {
		{{2, 0}, {0, 1}, {1, 1}, {2, 1}},
		{{1, 0}, {1, 1}, {1, 2}, {2, 2}},
		{{0, 1}, {1, 1}, {2, 1}, {0, 2}},
		{{0, 0}, {1, 0}, {1, 1}, {1, 2}},
	},
}

// boxWidths is the bounding-box width per kind, used to center the spawn.
var boxWidths = map[Kind]int{
	KindI: 4,
	KindO: 2,
	KindT: 3,
	KindS: 3,
	KindZ: 3,
	KindJ: 3,
	KindL: 3,
}

// Offsets returns the four cell offsets for kind at rotation rot (0..3).
func Offsets(kind Kind, rot int) [4]Cell {
	return shapes[kind][rot&3]
}

// SpawnX returns the x origin that horizontally centers kind on row 0.
func SpawnX(kind Kind) int {
	return BoardWidth/2 - boxWidths[kind]/2
}
