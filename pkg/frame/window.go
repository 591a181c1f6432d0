package frame

// Window is an ordered frame history, newest frame at index 0 and oldest at
// index len-1.
type Window []Frame

// Context returns the n newest frames of the window. It returns the whole window
// when n exceeds its length.
func (w Window) Context(n int) Window {
	if n > len(w) {
		n = len(w)
	}
	if n < 0 {
		n = 0
	}
	return w[:n]
}

// Newest returns the most recently pushed frame.
func (w Window) Newest() Frame {
	return w[0]
}

// Oldest returns the oldest retained frame.
func (w Window) Oldest() Frame {
	return w[len(w)-1]
}
