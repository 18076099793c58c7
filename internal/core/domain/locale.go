package domain

const DEFAULT_LOCALE = "en"

type ChannelNames struct {
	Total         string
	Imported      string
	Exported      string
	Voltage       string
	Current       string
	Frequency     string
	PowerFactor   string
	Net           string
	AddressChange string
}

var Locales = map[string]ChannelNames{
	"en": {
		Total:         "Power/Energy total",
		Imported:      "Power/Energy imported",
		Exported:      "Power/Energy exported",
		Voltage:       "Voltage",
		Current:       "Current",
		Frequency:     "Frequency",
		PowerFactor:   "Power Factor",
		Net:           "Power/Energy net",
		AddressChange: "Change address 1 -> 2-247",
	},
	"it": {
		Total:         "Potenza/Energia totale",
		Imported:      "Potenza/Energia importata",
		Exported:      "Potenza/Energia esportata",
		Voltage:       "Tensione",
		Current:       "Corrente",
		Frequency:     "Frequenza",
		PowerFactor:   "Fattore di Potenza",
		Net:           "Potenza/Energia netta",
		AddressChange: "Cambio indirizzo 1 -> 2-247",
	},
}

// LocaleNames returns the channel names for locale, or the default locale names
// and false when the locale is not translated.
func LocaleNames(locale string) (ChannelNames, bool) {
	if names, ok := Locales[locale]; ok {
		return names, true
	}
	return Locales[DEFAULT_LOCALE], false
}

func (n ChannelNames) Name(unit uint8) string {
	switch unit {
	case UNIT_TOTAL:
		return n.Total
	case UNIT_IMPORTED:
		return n.Imported
	case UNIT_EXPORTED:
		return n.Exported
	case UNIT_VOLTAGE:
		return n.Voltage
	case UNIT_CURRENT:
		return n.Current
	case UNIT_FREQUENCY:
		return n.Frequency
	case UNIT_POWER_FACTOR:
		return n.PowerFactor
	case UNIT_NET:
		return n.Net
	}
	return ""
}
