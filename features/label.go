package features

// Label is the train-time alignment of a ground-truth answer to one window.
// It is a tagged outcome: Answerable windows carry the minimal token span
// covering the answer text; windows whose context chunk does not fully
// enclose the answer are Unanswerable and carry no positions. The sentinel
// (0,0) anchor pair used by the model exists only at the Positions boundary.
type Label struct {
	Start, End int
	Answerable bool
}

// Unanswerable is the label of a window that does not contain the answer.
var Unanswerable = Label{}

// Positions materializes the label as the (start, end) position pair the
// model trains on. Unanswerable windows anchor both positions at token 0
// (the [CLS] token).
func (l Label) Positions() (start, end int32) {
	if !l.Answerable {
		return 0, 0
	}
	return int32(l.Start), int32(l.End)
}

// AlignLabel aligns the answer's character interval [CharStart, CharStart +
// len(Text)) to token indices of the window.
//
// If the interval is not fully enclosed by the window's context chunk (the
// chunk's first token starts after the answer begins, or its last token ends
// before the answer ends, meaning the answer is absent or bisected by the
// chunk boundary), the window is Unanswerable.
//
// Otherwise the tightest covering token span is found: the start index is the
// last context token whose offset-start does not exceed the answer start, the
// end index the first context token whose offset-end is not less than the
// answer end. Sub-word tokenization can make this span slightly wider than
// the answer itself; it never cuts into it.
func AlignLabel(w *Window, answerText string, answerCharStart int) Label {
	charStart := answerCharStart
	charEnd := answerCharStart + len(answerText)

	if w.ContextEnd < w.ContextStart {
		return Unanswerable
	}
	if w.Offsets[w.ContextStart].Start > charStart || w.Offsets[w.ContextEnd].End < charEnd {
		return Unanswerable
	}

	start := w.ContextStart
	for start <= w.ContextEnd && w.Offsets[start].Start <= charStart {
		start++
	}
	start--

	end := w.ContextEnd
	for end >= w.ContextStart && w.Offsets[end].End >= charEnd {
		end--
	}
	end++

	return Label{Start: start, End: end, Answerable: true}
}
