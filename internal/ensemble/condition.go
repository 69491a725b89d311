package ensemble

// Condition is the categorical weather label attached to a day's forecast.
type Condition string

const (
	ConditionSunny        Condition = "Sunny"
	ConditionPartlyCloudy Condition = "Partly Cloudy"
	ConditionCloudy       Condition = "Cloudy"
	ConditionRainy        Condition = "Rainy"
	ConditionSnowy        Condition = "Snowy"
	ConditionStormy       Condition = "Stormy"
	ConditionWindy        Condition = "Windy"
)

// classifyCondition maps predicted targets to a condition label. Cloud
// cover is not a predicted target, so humidity stands in for cloudiness.
func classifyCondition(tempMax, precip, humidity, wind float64) (Condition, string) {
	switch {
	case precip > 1 && tempMax < 0:
		return ConditionSnowy, "Snowfall expected"
	case precip > 10 && wind > 50:
		return ConditionStormy, "Severe storm with heavy rain"
	case precip > 10:
		return ConditionRainy, "Heavy rainfall expected"
	case precip > 2:
		return ConditionRainy, "Light to moderate rain"
	case humidity > 80:
		return ConditionCloudy, "Overcast skies"
	case humidity > 60:
		return ConditionPartlyCloudy, "Partly cloudy skies"
	case wind > 40:
		return ConditionWindy, "Strong winds throughout the day"
	default:
		return ConditionSunny, "Clear and sunny skies"
	}
}
