package geo

// Point is a geographic coordinate pair.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Zone is the static polygon bounding the paradahan staging area.
// It is read-only configuration; the engine never mutates it.
type Zone struct {
	Name     string
	Vertices []Point
}

// IsValid returns true if the zone describes a usable polygon.
func (z Zone) IsValid() bool {
	return len(z.Vertices) >= 3
}

// Contains reports whether p lies inside the zone polygon using the
// standard ray-casting test. Points exactly on an edge may classify
// either way; GPS noise makes the distinction meaningless here and the
// monitor's debounce absorbs it.
func (z Zone) Contains(p Point) bool {
	inside := false
	n := len(z.Vertices)
	if n < 3 {
		return false
	}
	j := n - 1
	for i := 0; i < n; i++ {
		vi := z.Vertices[i]
		vj := z.Vertices[j]
		if (vi.Longitude > p.Longitude) != (vj.Longitude > p.Longitude) {
			slope := (vj.Latitude-vi.Latitude)*(p.Longitude-vi.Longitude)/(vj.Longitude-vi.Longitude) + vi.Latitude
			if p.Latitude < slope {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
