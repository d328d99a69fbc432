package testing

// DirectPairs pairs the first of userIDs with every other one,
// e.g. [0, 1, 2, 3] -> [[0,1], [0,2], [0,3]]. Each pair describes one direct room of userIDs[0].
func DirectPairs(userIDs []int64) [][2]int64 {
	if len(userIDs) < 2 {
		return nil
	}

	pairs := make([][2]int64, 0, len(userIDs)-1)
	for i := 1; i < len(userIDs); i++ {
		pairs = append(pairs, [2]int64{userIDs[0], userIDs[i]})
	}

	return pairs
}
