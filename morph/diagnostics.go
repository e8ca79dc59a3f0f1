package morph

import "image/color"

// QualityBand classifies one target vertex by how it got its displacement.
type QualityBand int

const (
	// BandExact marks a near-coincident match.
	BandExact QualityBand = iota
	// BandGood marks a close match.
	BandGood
	// BandAcceptable marks a match near the distance threshold.
	BandAcceptable
	// BandInpainted marks an unmatched vertex whose displacement was
	// reconstructed by the solver.
	BandInpainted
	bandCount
)

// Band distance cutoffs in mesh units.
const (
	bandExactDistance = 0.001
	bandGoodDistance  = 0.005
)

func (b QualityBand) String() string {
	switch b {
	case BandExact:
		return "exact"
	case BandGood:
		return "good"
	case BandAcceptable:
		return "acceptable"
	case BandInpainted:
		return "inpainted"
	}
	return "unknown"
}

// Color returns the band's debug palette entry: blue, green, yellow, red.
func (b QualityBand) Color() color.RGBA {
	switch b {
	case BandExact:
		return color.RGBA{R: 0, G: 102, B: 255, A: 255}
	case BandGood:
		return color.RGBA{R: 0, G: 204, B: 102, A: 255}
	case BandAcceptable:
		return color.RGBA{R: 255, G: 204, B: 0, A: 255}
	default:
		return color.RGBA{R: 255, G: 51, B: 51, A: 255}
	}
}

// Classify assigns a quality band to every target vertex from match
// distances: exact below 0.001, good below 0.005, acceptable up to the
// distance threshold, inpainted for everything unmatched. Bands describe
// the transfer; they never influence it.
func Classify(corr *Correspondence) []QualityBand {
	bands := make([]QualityBand, corr.TargetCount)
	for i := range bands {
		bands[i] = BandInpainted
	}
	for k, ti := range corr.Indices {
		switch d := corr.Distances[k]; {
		case d < bandExactDistance:
			bands[ti] = BandExact
		case d < bandGoodDistance:
			bands[ti] = BandGood
		default:
			bands[ti] = BandAcceptable
		}
	}
	return bands
}

// BandCounts tallies vertices per band, indexed by QualityBand.
func BandCounts(bands []QualityBand) [4]int {
	var counts [4]int
	for _, b := range bands {
		if b >= 0 && b < bandCount {
			counts[b]++
		}
	}
	return counts
}
