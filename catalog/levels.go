package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Pressure levels in hPa.
var (
	levels13 = []int{50, 100, 150, 200, 250, 300, 400, 500, 600, 700, 850, 925, 1000}

	levels31 = []int{
		1, 2, 3, 5, 7, 10, 20, 30, 50, 70,
		100, 150, 200, 250, 300, 350, 400,
		450, 500, 550, 600, 650, 700, 750,
		800, 850, 900, 925, 950, 975, 1000,
	}

	// secondaryLevels are only present in the pgrb2b archives.
	secondaryLevels = []int{125, 175, 225, 775, 825, 875}
)

// PressureLevels returns the full ascending level set for a level count of
// 13, 31 or 37.
func PressureLevels(n int) ([]int, error) {
	primary, secondary, err := SplitLevels(n)
	if err != nil {
		return nil, err
	}
	out := append(append([]int(nil), primary...), secondary...)
	sort.Ints(out)
	return out, nil
}

// SplitLevels returns the levels read from the primary archive and those
// read from the secondary archive for a level count.
func SplitLevels(n int) (primary, secondary []int, err error) {
	switch n {
	case 13:
		return append([]int(nil), levels13...), nil, nil
	case 31:
		return append([]int(nil), levels31...), nil, nil
	case 37:
		return append([]int(nil), levels31...), append([]int(nil), secondaryLevels...), nil
	}
	return nil, nil, fmt.Errorf("unsupported number of pressure levels %d, want 13, 31 or 37", n)
}

// IsobaricPattern returns the wgrib2 level match for a list of levels, e.g.
// ":(50|100) mb:".
func IsobaricPattern(levels []int) string {
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = strconv.Itoa(l)
	}
	return ":(" + strings.Join(parts, "|") + ") mb:"
}

// VariablePattern returns the wgrib2 variable match for one or more short
// names, e.g. ":(UGRD|VGRD):".
func VariablePattern(shorts ...string) string {
	if len(shorts) == 1 {
		return ":" + shorts[0] + ":"
	}
	return ":(" + strings.Join(shorts, "|") + "):"
}
