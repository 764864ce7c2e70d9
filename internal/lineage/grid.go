package lineage

// Grid returns n evenly spaced values from 0 to upper inclusive.
func Grid(upper float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		return out
	}
	step := upper / float64(n-1)
	for i := range out {
		out[i] = float64(i) * step
	}
	out[n-1] = upper
	return out
}

// GridLength returns the prediction grid length shared by all lineages: the cell
// count of the first lineage subset. Prior analyses depend on this tie, so it is
// kept unless ownLength is set, in which case each lineage uses its own count.
func GridLength(first, own *Subset, ownLength bool) int {
	if ownLength || first == nil || first.Len() == 0 {
		return own.Len()
	}
	return first.Len()
}
