// internal/engine/rle.go
package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeBoardRLE flattens the board row-major and run-length encodes it as
// "VxN" pairs joined by commas, e.g. "0x30,3x2,0x168". The encoding
// round-trips through DecodeBoardRLE.
func EncodeBoardRLE(board [BoardHeight][BoardWidth]Kind) string {
	var sb strings.Builder
	cur := board[0][0]
	count := 0
	flush := func() {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(cur)))
		sb.WriteByte('x')
		sb.WriteString(strconv.Itoa(count))
	}
	for y := 0; y < BoardHeight; y++ {
		for x := 0; x < BoardWidth; x++ {
			v := board[y][x]
			if v == cur {
				count++
				continue
			}
			flush()
			cur = v
			count = 1
		}
	}
	flush()
	return sb.String()
}

// DecodeBoardRLE reverses EncodeBoardRLE. It fails if the runs do not cover
// exactly BoardWidth*BoardHeight cells or a value is out of range.
func DecodeBoardRLE(s string) ([BoardHeight][BoardWidth]Kind, error) {
	var board [BoardHeight][BoardWidth]Kind
	i := 0
	for _, run := range strings.Split(s, ",") {
		vs, ns, ok := strings.Cut(run, "x")
		if !ok {
			return board, fmt.Errorf("bad run %q", run)
		}
		v, err := strconv.Atoi(vs)
		if err != nil || v < 0 || v > 7 {
			return board, fmt.Errorf("bad cell value %q", vs)
		}
		n, err := strconv.Atoi(ns)
		if err != nil || n <= 0 {
			return board, fmt.Errorf("bad run length %q", ns)
		}
		for ; n > 0; n-- {
			if i >= BoardWidth*BoardHeight {
				return board, fmt.Errorf("rle overflows board")
			}
			board[i/BoardWidth][i%BoardWidth] = Kind(v)
			i++
		}
	}
	if i != BoardWidth*BoardHeight {
		return board, fmt.Errorf("rle covers %d of %d cells", i, BoardWidth*BoardHeight)
	}
	return board, nil
}
