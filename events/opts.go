package events

type subSettings struct {
	buffer           int
	matchFieldValues map[string]string
}

var subSettingsDefault = subSettings{
	buffer: 16,
}

// BufSize sets the subscription channel buffer size.
func BufSize(n int) SubscriptionOpt {
	return func(s interface{}) error {
		s.(*subSettings).buffer = n
		return nil
	}
}

// MatchFieldValue filters delivery to events whose named string field
// equals the given value. Useful for subscribing to a single order's
// events.
func MatchFieldValue(field, value string) SubscriptionOpt {
	return func(s interface{}) error {
		settings := s.(*subSettings)
		if settings.matchFieldValues == nil {
			settings.matchFieldValues = make(map[string]string)
		}
		settings.matchFieldValues[field] = value
		return nil
	}
}
