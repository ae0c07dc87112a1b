package model

const channelPrefix = "room_"

// PairKey orders two identifiers lexicographically.
func PairKey(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// ChannelName derives the relay channel shared by a and b.
// Both sides compute the same name regardless of argument order.
func ChannelName(a, b string) string {
	lo, hi := PairKey(a, b)
	return channelPrefix + lo + "_" + hi
}

// MatchID is the canonical key of the match between a and b.
func MatchID(a, b string) string {
	lo, hi := PairKey(a, b)
	return lo + ":" + hi
}
