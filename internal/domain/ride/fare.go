package ride

// FareTable maps destination labels to fixed fares. Paradahan fares are
// posted per destination, not metered.
type FareTable struct {
	Rates       map[string]float64
	DefaultFare float64
}

// FareFor returns the posted fare for a destination, falling back to
// the default fare for unlisted or empty destinations.
func (t FareTable) FareFor(destination string) float64 {
	if fare, ok := t.Rates[destination]; ok {
		return fare
	}
	return t.DefaultFare
}
