// internal/engine/engine.go

// Package engine implements the authoritative per-player Tetris state: board,
// active piece kinematics, deterministic 7-bag generation, hold, line-clear
// scoring and top-out detection. It is pure state with no goroutines or
// clocks; the match loop drives it and is its sole mutator.
package engine

// Board dimensions.
const (
	BoardWidth  = 10
	BoardHeight = 20
)

// Action is one player input. The string values are exactly the wire values
// of the match protocol's INPUT frame.
type Action string

const (
	ActionLeft     Action = "LEFT"
	ActionRight    Action = "RIGHT"
	ActionDown     Action = "DOWN"
	ActionCW       Action = "CW"
	ActionCCW      Action = "CCW"
	ActionHardDrop Action = "HARD_DROP"
	ActionHold     Action = "HOLD"
)

// ValidAction reports whether a is one of the seven known actions.
func ValidAction(a Action) bool {
	switch a {
	case ActionLeft, ActionRight, ActionDown, ActionCW, ActionCCW, ActionHardDrop, ActionHold:
		return true
	}
	return false
}

// lineScores[k] is the base score for clearing k lines at once; the gain is
// multiplied by the level in effect before the clear.
var lineScores = [5]int{0, 100, 300, 500, 800}

// Result reports what a single step did. Locked tells the match loop to reset
// the player's gravity timer.
type Result struct {
	Moved  bool
	Locked bool
	Lines  int
}

// Engine is one player's game state.
type Engine struct {
	board [BoardHeight][BoardWidth]Kind
	bag   *Bag

	active Kind
	rot    int
	x, y   int

	hold     Kind
	holdUsed bool

	score    int
	lines    int
	level    int
	gameOver bool
}

// New creates an engine seeded with the shared match seed and spawns the
// first piece. Two engines built from the same seed draw identical piece
// sequences.
func New(seed int64) *Engine {
	e := &Engine{
		bag:   NewBag(seed),
		level: 1,
	}
	e.spawn(e.bag.Next())
	return e
}

// Apply performs one player action. Unknown actions are a no-op.
func (e *Engine) Apply(a Action) Result {
	if e.gameOver {
		return Result{}
	}
	switch a {
	case ActionLeft:
		return Result{Moved: e.tryMove(e.x-1, e.y, e.rot)}
	case ActionRight:
		return Result{Moved: e.tryMove(e.x+1, e.y, e.rot)}
	case ActionDown:
		return e.stepDown()
	case ActionCW:
		return Result{Moved: e.tryMove(e.x, e.y, (e.rot+1)&3)}
	case ActionCCW:
		return Result{Moved: e.tryMove(e.x, e.y, (e.rot+3)&3)}
	case ActionHardDrop:
		return e.hardDrop()
	case ActionHold:
		return e.holdPiece()
	}
	return Result{}
}

// Gravity applies one gravity step, which has soft-drop semantics: the piece
// falls one row, locking on collision.
func (e *Engine) Gravity() Result {
	if e.gameOver {
		return Result{}
	}
	return e.stepDown()
}

func (e *Engine) stepDown() Result {
	if e.fits(e.x, e.y+1, e.rot, e.active) {
		e.y++
		return Result{Moved: true}
	}
	lines := e.lock()
	return Result{Locked: true, Lines: lines}
}

func (e *Engine) hardDrop() Result {
	for e.fits(e.x, e.y+1, e.rot, e.active) {
		e.y++
	}
	lines := e.lock()
	return Result{Moved: true, Locked: true, Lines: lines}
}

func (e *Engine) holdPiece() Result {
	if e.holdUsed {
		return Result{}
	}
	prev := e.active
	if e.hold == KindNone {
		e.spawn(e.bag.Next())
	} else {
		e.spawn(e.hold)
	}
	e.hold = prev
	e.holdUsed = true
	return Result{Moved: true}
}

// tryMove commits the placement if it is valid, else leaves state untouched.
func (e *Engine) tryMove(x, y, rot int) bool {
	if !e.fits(x, y, rot, e.active) {
		return false
	}
	e.x, e.y, e.rot = x, y, rot
	return true
}

// fits reports whether kind at (x, y, rot) stays within horizontal bounds and
// the floor and overlaps no occupied cell. Cells above the top of the board
// are allowed.
func (e *Engine) fits(x, y, rot int, kind Kind) bool {
	for _, off := range Offsets(kind, rot) {
		cx, cy := x+off.X, y+off.Y
		if cx < 0 || cx >= BoardWidth || cy >= BoardHeight {
			return false
		}
		if cy >= 0 && e.board[cy][cx] != KindNone {
			return false
		}
	}
	return true
}

// lock fixes the active piece onto the board, clears full rows, scores, and
// spawns the next piece. Spawn-time collision sets gameOver (top-out).
func (e *Engine) lock() int {
	for _, off := range Offsets(e.active, e.rot) {
		cx, cy := e.x+off.X, e.y+off.Y
		if cy >= 0 && cy < BoardHeight && cx >= 0 && cx < BoardWidth {
			e.board[cy][cx] = e.active
		}
	}

	cleared := e.clearLines()
	if cleared > 0 {
		e.score += lineScores[cleared] * e.level
		e.lines += cleared
		e.level = 1 + e.lines/10
	}
	e.holdUsed = false

	e.spawn(e.bag.Next())
	return cleared
}

// clearLines removes fully occupied rows and drops the rows above them.
func (e *Engine) clearLines() int {
	cleared := 0
	for y := BoardHeight - 1; y >= 0; {
		full := true
		for x := 0; x < BoardWidth; x++ {
			if e.board[y][x] == KindNone {
				full = false
				break
			}
		}
		if !full {
			y--
			continue
		}
		cleared++
		for yy := y; yy > 0; yy-- {
			e.board[yy] = e.board[yy-1]
		}
		e.board[0] = [BoardWidth]Kind{}
	}
	return cleared
}

// spawn places kind horizontally centered on row 0 and checks for top-out.
func (e *Engine) spawn(kind Kind) {
	e.active = kind
	e.rot = 0
	e.x = SpawnX(kind)
	e.y = 0
	if !e.fits(e.x, e.y, e.rot, e.active) {
		e.gameOver = true
	}
}

// Accessors. The tick loop owns the engine; these exist for snapshots and
// tests only.

func (e *Engine) Score() int     { return e.score }
func (e *Engine) Lines() int     { return e.lines }
func (e *Engine) Level() int     { return e.level }
func (e *Engine) GameOver() bool { return e.gameOver }
func (e *Engine) Hold() Kind     { return e.hold }

// Active returns the falling piece's kind, origin and rotation.
func (e *Engine) Active() (kind Kind, x, y, rot int) {
	return e.active, e.x, e.y, e.rot
}

// Next previews the next n kinds without consuming the bag.
func (e *Engine) Next(n int) []Kind {
	return e.bag.Peek(n)
}

// Board returns a copy of the locked cells, excluding the active piece.
func (e *Engine) Board() [BoardHeight][BoardWidth]Kind {
	return e.board
}

// SetCell overwrites one board cell. Intended for constructing board states
// in tests and diagnostics; the match loop never calls it.
func (e *Engine) SetCell(x, y int, v Kind) {
	e.board[y][x] = v
}
