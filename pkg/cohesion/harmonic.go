package cohesion

// Camelot-wheel distance between two tracks given their pitch-class key
// (0-11, C=0) and mode (1=major, 0=minor). Adjacent wheel positions and
// relative major/minor pairs mix smoothly.

// camelotNumber maps a pitch class to its position on the Camelot wheel.
// Major keys: 8B=C, minor keys: 8A=Am; relative pairs share a number.
var majorCamelot = map[int]int{
	0: 8, 1: 3, 2: 10, 3: 5, 4: 12, 5: 7, 6: 2, 7: 9, 8: 4, 9: 11, 10: 6, 11: 1,
}

var minorCamelot = map[int]int{
	0: 5, 1: 12, 2: 7, 3: 2, 4: 9, 5: 4, 6: 11, 7: 6, 8: 1, 9: 8, 10: 3, 11: 10,
}

const incompatibleKeyDistance = 6

// KeyDistance returns a harmonic distance between two keys:
//
//	0 = same key
//	1 = relative major/minor or one step on the wheel
//	3 = one step with a mode change
//	higher = less compatible
//
// Unknown keys (outside 0-11) return incompatibleKeyDistance.
func KeyDistance(key1, mode1, key2, mode2 int) int {
	n1, ok1 := camelotNumber(key1, mode1)
	n2, ok2 := camelotNumber(key2, mode2)
	if !ok1 || !ok2 {
		return incompatibleKeyDistance
	}

	if n1 == n2 {
		if mode1 == mode2 {
			return 0
		}
		return 1
	}

	diff := n1 - n2
	if diff < 0 {
		diff = -diff
	}
	circular := diff
	if 12-diff < circular {
		circular = 12 - diff
	}

	if circular == 1 {
		if mode1 == mode2 {
			return 1
		}
		return 3
	}

	return circular + 1
}

func camelotNumber(key, mode int) (int, bool) {
	if key < 0 || key > 11 {
		return 0, false
	}
	if mode == 1 {
		return majorCamelot[key], true
	}
	return minorCamelot[key], true
}
