package spec

import "strings"

// propertyAliases normalizes vendor-specific property keys to the
// canonical names consumed by entity code.
var propertyAliases = map[string]string{
	"on":          "switch_status",
	"fan_level":   "speed",
	"wind_speed":  "speed",
	"temperature": "current_temp",
	"humidity":    "current_humidity",
}

// serviceCategories maps recognized service keys to the entity category
// they propose. Unknown keys are ignored for inference but their
// properties stay in the mapping for low-level control.
var serviceCategories = map[string]string{
	"switch":                      "switch",
	"outlet":                      "switch",
	"light":                       "light",
	"ambient_light":               "light",
	"night_light":                 "light",
	"fan":                         "fan",
	"ceiling_fan":                 "fan",
	"air_purifier":                "fan",
	"air_fresh":                   "fan",
	"curtain":                     "cover",
	"airer":                       "cover",
	"window_opener":               "cover",
	"motor_controller":            "cover",
	"air_conditioner":             "climate",
	"air_condition_outlet":        "climate",
	"heater":                      "climate",
	"thermostat":                  "climate",
	"ptc_bath_heater":             "climate",
	"humidifier":                  "humidifier",
	"dehumidifier":                "humidifier",
	"play_control":                "media_player",
	"speaker":                     "media_player",
	"television":                  "media_player",
	"temperature_humidity_sensor": "sensor",
	"illumination_sensor":         "sensor",
	"battery":                     "sensor",
	"environment":                 "sensor",
	"motion_sensor":               "binary_sensor",
	"magnet_sensor":               "binary_sensor",
	"submersion_sensor":           "binary_sensor",
}

// climateMergeServices are services whose properties merge into a climate
// category entry alongside the core service. An air conditioner's separate
// fan-control service is the common case.
var climateMergeServices = map[string]bool{
	"fan_control": true,
	"fan_level":   true,
}

// Motor-control keyword tables. Descriptions in real specs mix English
// and Chinese; matching is case-insensitive substring.
var (
	motorOpenKeywords  = []string{"open", "up", "rise", "开", "升", "上"}
	motorCloseKeywords = []string{"close", "down", "fall", "关", "降", "下"}
	motorStopKeywords  = []string{"stop", "pause", "停"}
)

// canonicalName applies the alias table to a derived property key.
func canonicalName(key string) string {
	if alias, ok := propertyAliases[key]; ok {
		return alias
	}
	return key
}

// categoryForService returns the inferred entity category for a service
// key, or "" if the key is unrecognized.
func categoryForService(key string) string {
	return serviceCategories[key]
}

// matchesAny reports whether the description contains any of the keywords.
func matchesAny(description string, keywords []string) bool {
	d := strings.ToLower(description)
	for _, kw := range keywords {
		if strings.Contains(d, kw) {
			return true
		}
	}
	return false
}
