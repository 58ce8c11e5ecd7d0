package depth

// Sample returns every step'th entry of r, starting with the first. Step 1
// returns r unchanged.
func Sample(r Result, step int) (Result, error) {
	if step < 1 {
		return Result{}, invalidf("depth: step must be >= 1, got %d", step)
	}
	if step == 1 {
		return r, nil
	}
	n := (len(r.Positions) + step - 1) / step
	out := Result{
		Positions: make([]int, 0, n),
		Depths:    make([]uint32, 0, n),
	}
	for i := 0; i < len(r.Positions); i += step {
		out.Positions = append(out.Positions, r.Positions[i])
		out.Depths = append(out.Depths, r.Depths[i])
	}
	return out, nil
}
