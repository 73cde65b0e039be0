// Package intent turns raw Telegram message text into a structured Intent.
//
// Recognition order is fixed: slash commands, then natural-language
// aliases, then meter-value extraction, so commands are never misread as
// numbers. The alias table is data; the help cheat-sheet is generated
// from the same table so the two cannot drift apart.
package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind enumerates the closed set of recognized intents.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindStart
	KindHelp
	KindStatus
	KindStats
	KindTariff
	KindReading
	KindCorrection
	KindDeletion
	KindUnknownCommand
)

// String returns the metric-friendly label for the intent kind.
func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindHelp:
		return "help"
	case KindStatus:
		return "status"
	case KindStats:
		return "stats"
	case KindTariff:
		return "tariff"
	case KindReading:
		return "reading"
	case KindCorrection:
		return "correction"
	case KindDeletion:
		return "deletion"
	case KindUnknownCommand:
		return "unknown_command"
	default:
		return "unrecognized"
	}
}

// Intent is the parsed meaning of one inbound message.
type Intent struct {
	Kind Kind

	// Value carries the meter value for Reading and Correction intents.
	Value float64

	// Command holds the original slash command for UnknownCommand.
	Command string

	// Raw is the trimmed input text, kept for audit notes.
	Raw string
}

// Meter values outside this window are treated as noise, never as a
// reading. The range reflects real household kWh meter registers.
const (
	MinMeterValue = 1000
	MaxMeterValue = 999999
)

// InMeterRange reports whether v is a plausible meter register value.
func InMeterRange(v float64) bool {
	return v >= MinMeterValue && v <= MaxMeterValue
}

type aliasRule struct {
	pattern *regexp.Regexp
	build   func(match []string, raw string) Intent
	usage   string
}

// Ordered alias table. Matching is case-insensitive against the full
// trimmed input.
var aliasRules = []aliasRule{
	{
		pattern: regexp.MustCompile(`(?i)^(?:status|stand|info|übersicht)$`),
		build:   func(_ []string, raw string) Intent { return Intent{Kind: KindStatus, Raw: raw} },
		usage:   "status – letzter Zählerstand und Jahresverbrauch",
	},
	{
		pattern: regexp.MustCompile(`(?i)^(?:hilfe|help|h|\?)$`),
		build:   func(_ []string, raw string) Intent { return Intent{Kind: KindHelp, Raw: raw} },
		usage:   "hilfe – diese Übersicht",
	},
	{
		pattern: regexp.MustCompile(`(?i)^(?:korrektur\s*:?\s*|korrigiere\s+|fix\s+)(\d{4,6})$`),
		build: func(match []string, raw string) Intent {
			v, _ := strconv.ParseFloat(match[1], 64)
			return Intent{Kind: KindCorrection, Value: v, Raw: raw}
		},
		usage: "korrektur: 12345 – heutigen Zählerstand überschreiben",
	},
	{
		pattern: regexp.MustCompile(`(?i)^(?:lös(?:ch)?e|entferne|delete)\s+(?:heute|today|last|letzten?)$`),
		build:   func(_ []string, raw string) Intent { return Intent{Kind: KindDeletion, Raw: raw} },
		usage:   "lösche heute – letzten Eintrag entfernen",
	},
	{
		pattern: regexp.MustCompile(`(?i)^(?:verbrauch|consumption|usage|statistik)$`),
		build:   func(_ []string, raw string) Intent { return Intent{Kind: KindStats, Raw: raw} },
		usage:   "verbrauch – Monats- und Jahresstatistik",
	},
	{
		pattern: regexp.MustCompile(`(?i)^(?:tarif|rate|kosten|preis)$`),
		build:   func(_ []string, raw string) Intent { return Intent{Kind: KindTariff, Raw: raw} },
		usage:   "tarif – aktueller Tarif mit Rechenbeispiel",
	},
}

// Reading extraction patterns, tried in order; first match wins.
var readingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\d{4,6}$`),
	regexp.MustCompile(`(?i)(?:stand|zähler|kwh)[:\s]*(\d{4,6})`),
	regexp.MustCompile(`(?i)(\d{4,6})\s*kwh`),
	regexp.MustCompile(`\b(\d{1,3})[.,](\d{3})\b`),
}

// Parse classifies raw message text into an Intent.
func Parse(text string) Intent {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return Intent{Kind: KindUnrecognized, Raw: raw}
	}

	if strings.HasPrefix(raw, "/") {
		return parseCommand(raw)
	}

	for _, rule := range aliasRules {
		if match := rule.pattern.FindStringSubmatch(raw); match != nil {
			return rule.build(match, raw)
		}
	}

	if value, ok := extractReading(raw); ok {
		return Intent{Kind: KindReading, Value: value, Raw: raw}
	}

	return Intent{Kind: KindUnrecognized, Raw: raw}
}

func parseCommand(raw string) Intent {
	fields := strings.Fields(raw)
	cmd := strings.ToLower(fields[0])

	// Commands may carry a bot mention suffix ("/status@my_meter_bot").
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}

	switch cmd {
	case "/start":
		return Intent{Kind: KindStart, Raw: raw}
	case "/help", "/hilfe":
		return Intent{Kind: KindHelp, Raw: raw}
	case "/status":
		return Intent{Kind: KindStatus, Raw: raw}
	case "/stand":
		if len(fields) > 1 {
			if value, ok := extractReading(strings.Join(fields[1:], " ")); ok {
				return Intent{Kind: KindReading, Value: value, Raw: raw}
			}
		}
		return Intent{Kind: KindUnknownCommand, Command: cmd, Raw: raw}
	default:
		return Intent{Kind: KindUnknownCommand, Command: cmd, Raw: raw}
	}
}

func extractReading(text string) (float64, bool) {
	for i, pattern := range readingPatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}

		var digits string
		switch {
		case i == 0:
			digits = match[0]
		case len(match) == 3:
			// Thousands-separated form: glue the groups back together.
			digits = match[1] + match[2]
		default:
			digits = match[1]
		}

		value, err := strconv.ParseFloat(digits, 64)
		if err != nil || !InMeterRange(value) {
			return 0, false
		}
		return value, true
	}

	return 0, false
}

// Usage returns the cheat-sheet lines derived from the alias table, in
// table order. The responder embeds these in help and welcome replies.
func Usage() []string {
	lines := make([]string, 0, len(aliasRules))
	for _, rule := range aliasRules {
		lines = append(lines, rule.usage)
	}
	return lines
}
