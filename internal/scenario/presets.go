package scenario

import (
	"sort"

	"firespread-sim/internal/fire"
)

// BuiltIn returns predefined scenarios covering each vegetation type.
func BuiltIn() map[string]File {
	return map[string]File{
		"calm-forest": {
			Name:        "Calm forest",
			Description: "A single ignition in damp forest with a light westerly breeze.",
			Parameters: fire.SimulationParameters{
				VegetationType: fire.VegetationForest,
				WindSpeed:      10,
				WindDirection:  270,
				Humidity:       70,
				Slope:          5,
			},
			IgnitionPoints: []Point{{Lat: 0, Lng: 0}},
		},
		"grassland-gale": {
			Name:        "Grassland gale",
			Description: "Dry grass and a strong northerly pushing a line of ignitions south.",
			Parameters: fire.SimulationParameters{
				VegetationType: fire.VegetationGrassland,
				WindSpeed:      80,
				WindDirection:  0,
				Humidity:       15,
				Slope:          0,
			},
			IgnitionPoints: []Point{{Lat: 0.6, Lng: -0.4}, {Lat: 0.6, Lng: 0}, {Lat: 0.6, Lng: 0.4}},
		},
		"canyon-slope": {
			Name:        "Canyon slope",
			Description: "Shrubland on a steep slope where fire runs uphill.",
			Parameters: fire.SimulationParameters{
				VegetationType: fire.VegetationShrubland,
				WindSpeed:      30,
				WindDirection:  90,
				Humidity:       35,
				Slope:          40,
			},
			IgnitionPoints: []Point{{Lat: -0.7, Lng: 0.1}},
		},
		"farm-edge": {
			Name:        "Farm edge",
			Description: "Harvested fields with two ignitions near a road.",
			Parameters: fire.SimulationParameters{
				VegetationType: fire.VegetationAgricultural,
				WindSpeed:      25,
				WindDirection:  180,
				Humidity:       40,
				Slope:          2,
			},
			IgnitionPoints: []Point{{Lat: 0.2, Lng: -0.5}, {Lat: -0.2, Lng: -0.5}},
		},
		"urban-interface": {
			Name:        "Urban interface",
			Description: "Fire reaching the edge of a settlement under moderate wind.",
			Parameters: fire.SimulationParameters{
				VegetationType: fire.VegetationUrban,
				WindSpeed:      45,
				WindDirection:  225,
				Humidity:       50,
				Slope:          10,
			},
			IgnitionPoints: []Point{{Lat: 0.8, Lng: 0.8}},
		},
	}
}

// Names lists the built-in presets in alphabetical order.
func Names() []string {
	presets := BuiltIn()
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
