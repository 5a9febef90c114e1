package bxfile

// ratetable.go: pure lookup tables mapping (unused_class, free_class) to
// an 8-bit area-rate bitmap byte, and a per-percent classifier into the
// 9 discrete rate classes (§2 item 1 — the leaf dependency of the whole
// physical file layer; everything above it reads these tables but never
// mutates them).

// classOfPercent classifies a fullness percentage (0..100) into one of
// the 8 non-"never" RateClass buckets: {0–4, 5–9, 10–14, 15–19, 20–39,
// 40–59, 60–79, ≥80} (§3.1).
func classOfPercent(pct int) RateClass {
	switch {
	case pct < 0:
		pct = 0
	case pct > 100:
		pct = 100
	}
	switch {
	case pct < 5:
		return RateClass0to4
	case pct < 10:
		return RateClass5to9
	case pct < 15:
		return RateClass10to14
	case pct < 20:
		return RateClass15to19
	case pct < 40:
		return RateClass20to39
	case pct < 60:
		return RateClass40to59
	case pct < 80:
		return RateClass60to79
	default:
		return RateClass80plus
	}
}

// toBitmapValue packs a page's unused-rate and free-rate classes into
// the single byte stored in a table's per-page rate bitmap. An all-zero
// byte (both classes RateClassNever) means the page is unallocated —
// this falls out for free because RateClassNever is the zero value.
func toBitmapValue(unused, free RateClass) byte {
	return byte(unused)<<4 | byte(free)&0x0F
}

// fromBitmapValue unpacks a rate-bitmap byte back into its two classes.
func fromBitmapValue(b byte) (unused, free RateClass) {
	return RateClass(b >> 4), RateClass(b & 0x0F)
}

// isUnallocated reports whether a rate-bitmap byte marks its page as
// never having been allocated (§3.1: "an all-zero byte means
// unallocated").
func isUnallocated(b byte) bool {
	return b == 0
}

// classExceeds reports whether class c is strictly greater (fuller, for
// unused-class; more free, for free-class — the caller picks which
// array it's comparing against) than threshold searchRate's class, used
// by the fast free-page search's per-class skip check (§4.1 step 2).
func classExceeds(c RateClass, searchRate int) bool {
	return int(c) > int(classOfPercent(searchRate))
}
