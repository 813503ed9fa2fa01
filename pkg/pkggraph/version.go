package pkggraph

import "strings"

// Compare orders two Debian version strings. It returns a negative number if
// a is older than b, zero if they are equal, and a positive number if a is
// newer. Versions have the shape [epoch:]upstream[-revision]; each part is
// compared with the dpkg fragment ordering where '~' sorts before everything,
// including the empty string, letters sort before non-letters, and maximal
// digit runs compare numerically.
func Compare(a, b string) int {
	aEpoch, aUpstream, aRev := splitVersion(a)
	bEpoch, bUpstream, bRev := splitVersion(b)

	if aEpoch != bEpoch {
		if aEpoch < bEpoch {
			return -1
		}
		return 1
	}
	if r := compareFragment(aUpstream, bUpstream); r != 0 {
		return r
	}
	return compareFragment(aRev, bRev)
}

// splitVersion separates epoch, upstream version and revision. A missing
// epoch is zero; a missing revision is the empty string. The epoch must be
// all digits to count as one, otherwise the colon belongs to the upstream
// part.
func splitVersion(v string) (epoch int64, upstream, revision string) {
	if i := strings.IndexByte(v, ':'); i >= 0 {
		digits := true
		for j := 0; j < i; j++ {
			if v[j] < '0' || v[j] > '9' {
				digits = false
				break
			}
		}
		if digits && i > 0 {
			for j := 0; j < i; j++ {
				epoch = epoch*10 + int64(v[j]-'0')
			}
			v = v[i+1:]
		}
	}
	if i := strings.LastIndexByte(v, '-'); i >= 0 {
		return epoch, v[:i], v[i+1:]
	}
	return epoch, v, ""
}

// charOrder assigns the dpkg sort weight of a version character. Digits are
// handled separately and weigh nothing here; end-of-string weighs zero, so a
// tilde (weight -1) sorts before the end of the string.
func charOrder(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return 0
	case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		return int(c)
	case c == '~':
		return -1
	default:
		return int(c) + 256
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// compareFragment implements the dpkg verrevcmp ordering on one version part.
func compareFragment(a, b string) int {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		firstDiff := 0

		for (i < len(a) && !isDigit(a[i])) || (j < len(b) && !isDigit(b[j])) {
			var ac, bc int
			if i < len(a) {
				ac = charOrder(a[i])
			}
			if j < len(b) {
				bc = charOrder(b[j])
			}
			if ac != bc {
				return ac - bc
			}
			i++
			j++
		}
		for i < len(a) && a[i] == '0' {
			i++
		}
		for j < len(b) && b[j] == '0' {
			j++
		}
		for i < len(a) && j < len(b) && isDigit(a[i]) && isDigit(b[j]) {
			if firstDiff == 0 {
				firstDiff = int(a[i]) - int(b[j])
			}
			i++
			j++
		}
		if i < len(a) && isDigit(a[i]) {
			return 1
		}
		if j < len(b) && isDigit(b[j]) {
			return -1
		}
		if firstDiff != 0 {
			return firstDiff
		}
	}
	return 0
}

// CheckDep reports whether the version string have satisfies a dependency
// restriction (op, want). OpNone accepts any version.
func CheckDep(have string, op Op, want string) bool {
	if op == OpNone {
		return true
	}
	r := Compare(have, want)
	switch op {
	case OpLess:
		return r < 0
	case OpLessEq:
		return r <= 0
	case OpEqual:
		return r == 0
	case OpGreaterEq:
		return r >= 0
	case OpGreater:
		return r > 0
	case OpNotEqual:
		return r != 0
	default:
		return false
	}
}
