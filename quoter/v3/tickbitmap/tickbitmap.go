// Package tickbitmap finds the next initialized tick a swap crosses. The
// quoter already holds a pool's ticks decoded into a map (filled from the
// seed pool file; block diffs do not update it), so lookups here
// walk a sorted index of that map's keys rather than re-deriving bit
// positions from packed words.
package tickbitmap

import "sort"

// NextInitializedTickWithinOneWord returns the next initialized tick
// relative to tick within the sorted index: the largest indexed tick <=
// tick when lte is true, or the smallest indexed tick > tick otherwise.
func NextInitializedTickWithinOneWord(sortedTicks []int32, tick int32, lte bool) (next int32, initialized bool) {
	if len(sortedTicks) == 0 {
		return 0, false
	}

	if lte {
		i := sort.Search(len(sortedTicks), func(i int) bool { return sortedTicks[i] >= tick })
		if i < len(sortedTicks) && sortedTicks[i] == tick {
			return tick, true
		}
		if i == 0 {
			return 0, false
		}
		return sortedTicks[i-1], true
	}

	i := sort.Search(len(sortedTicks), func(i int) bool { return sortedTicks[i] > tick })
	if i >= len(sortedTicks) {
		return 0, false
	}
	return sortedTicks[i], true
}
