package models

type TrackingInput struct {
	Region   string
	Location *Point
	Meta     map[string]any
}

var trackingFillable = map[string]struct{}{
	"region":   {},
	"location": {},
	"meta":     {},
}

// FillTrackingInput builds a TrackingInput from loosely typed values. Keys that
// are not fillable, and fillable keys holding values of the wrong shape, are
// dropped without error.
func FillTrackingInput(values map[string]any) TrackingInput {
	var in TrackingInput
	for k, v := range values {
		if _, ok := trackingFillable[k]; !ok {
			continue
		}
		switch k {
		case "region":
			if s, ok := v.(string); ok {
				in.Region = s
			}
		case "location":
			in.Location = pointFromAny(v)
		case "meta":
			if m, ok := v.(map[string]any); ok {
				in.Meta = m
			}
		}
	}
	return in
}

// pointFromAny accepts {"lat":..,"lon":..} (also "lng"/"longitude"/"latitude")
// or a two element [lat, lon] array.
func pointFromAny(v any) *Point {
	switch t := v.(type) {
	case *Point:
		return t
	case Point:
		return &t
	case map[string]any:
		lat, okLat := firstFloat(t, "lat", "latitude")
		lon, okLon := firstFloat(t, "lon", "lng", "longitude")
		if okLat && okLon {
			return &Point{Lat: lat, Lon: lon}
		}
	case []any:
		if len(t) == 2 {
			lat, okLat := toFloat(t[0])
			lon, okLon := toFloat(t[1])
			if okLat && okLon {
				return &Point{Lat: lat, Lon: lon}
			}
		}
	}
	return nil
}

func firstFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return toFloat(v)
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
