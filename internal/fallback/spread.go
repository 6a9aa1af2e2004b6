package fallback

import (
	"math"

	"firespread-sim/internal/fire"
)

// Rand is the randomness used to jitter intensity and temperature.
// *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Spread computes the cells of one local frame at tick t: one burning cell
// per ignition point, in point order. The displacement is cosmetic, not a
// physical model.
func Spread(points []fire.IgnitionPoint, p fire.SimulationParameters, t int, rnd Rand) []fire.FireCell {
	rad := p.WindDirection * math.Pi / 180
	windX := math.Cos(rad) * p.WindSpeed * 0.0001
	windY := math.Sin(rad) * p.WindSpeed * 0.0001
	dryness := (100 - p.Humidity) / 100
	slope := p.Slope * 0.001
	elapsed := float64(t) * 0.01

	radius := 0.02 + elapsed*0.005
	base := math.Max(10, 100*dryness*(1-elapsed*0.02))

	cells := make([]fire.FireCell, 0, len(points))
	for i, pt := range points {
		phase := elapsed + float64(i)
		intensity := math.Max(0, base+(rnd.Float64()-0.5)*20)
		cells = append(cells, fire.FireCell{
			X:           pt.Lng + math.Sin(phase)*radius + windX,
			Y:           pt.Lat + math.Cos(phase)*radius + windY + slope,
			Intensity:   intensity,
			Temperature: 200 + base*6 + rnd.Float64()*100,
			BurnTime:    t,
			State:       fire.CellBurning,
		})
	}
	return cells
}
