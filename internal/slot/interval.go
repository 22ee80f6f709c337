package slot

// Interval is a half-open range of slots [Start, End).
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// NewInterval строит интервал из старта и длительности с проверкой границ
func NewInterval(start, duration int) (Interval, error) {
	end, err := End(start, duration)
	if err != nil {
		return Interval{}, err
	}
	return Interval{Start: start, End: end}, nil
}

func (i Interval) Len() int {
	return i.End - i.Start
}

func (i Interval) Empty() bool {
	return i.End <= i.Start
}

// Overlaps reports whether the two half-open intervals share a slot.
// Touching endpoints do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

// Contains reports whether o lies fully inside i.
func (i Interval) Contains(o Interval) bool {
	return i.Start <= o.Start && o.End <= i.End
}

// Subtract returns what is left of i after removing o: zero, one or two pieces.
func (i Interval) Subtract(o Interval) []Interval {
	if !i.Overlaps(o) {
		return []Interval{i}
	}
	var rest []Interval
	if i.Start < o.Start {
		rest = append(rest, Interval{Start: i.Start, End: o.Start})
	}
	if o.End < i.End {
		rest = append(rest, Interval{Start: o.End, End: i.End})
	}
	return rest
}

func (i Interval) String() string {
	return Format(i.Start) + "-" + Format(i.End)
}
