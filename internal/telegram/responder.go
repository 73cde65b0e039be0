package telegram

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/stromtracker/meterbot/internal/domain"
	"github.com/stromtracker/meterbot/internal/intent"
	"github.com/stromtracker/meterbot/internal/reading"
)

const dateLayout = "02.01.2006"

// Responder renders the German reply texts. It is pure: no I/O, no
// persistence, just formatting.
type Responder struct {
	p   *message.Printer
	now func() time.Time
}

// NewResponder constructs a Responder with German locale formatting
// (decimal comma, dot as thousands separator).
func NewResponder() *Responder {
	return &Responder{
		p:   message.NewPrinter(language.German),
		now: time.Now,
	}
}

// WithClock overrides the time source for tests.
func (r *Responder) WithClock(now func() time.Time) *Responder {
	r.now = now
	return r
}

// ReadingSaved is the confirmation after a new reading was stored.
func (r *Responder) ReadingSaved(out *reading.Outcome) string {
	var b strings.Builder
	b.WriteString("✅ *Zählerstand erfasst!*\n\n")
	r.writeOutcome(&b, out)
	return b.String()
}

// CorrectionSaved is the confirmation after today's reading was
// overwritten.
func (r *Responder) CorrectionSaved(out *reading.Outcome) string {
	var b strings.Builder
	b.WriteString("✏️ *Zählerstand korrigiert!*\n\n")
	r.writeOutcome(&b, out)
	return b.String()
}

func (r *Responder) writeOutcome(b *strings.Builder, out *reading.Outcome) {
	fmt.Fprintf(b, "📊 Zählerstand: %s kWh\n", r.kwh(out.Reading.MeterValue))

	if out.Reading.Consumption != nil {
		fmt.Fprintf(b, "⚡ Verbrauch: %s kWh\n", r.kwh(*out.Reading.Consumption))
	}
	if out.Reading.Cost != nil {
		fmt.Fprintf(b, "💰 Energiekosten: %s\n", r.euro(*out.Reading.Cost))
	}
	if out.Reading.TotalBill != nil {
		fmt.Fprintf(b, "🧾 Gesamtrechnung: %s\n", r.euro(*out.Reading.TotalBill))
	}
	if out.Reading.PaymentDifference != nil {
		diff := *out.Reading.PaymentDifference
		if diff >= 0 {
			fmt.Fprintf(b, "📈 Nachzahlung: %s\n", r.euro(diff))
		} else {
			fmt.Fprintf(b, "📉 Guthaben: %s\n", r.euro(math.Abs(diff)))
		}
	}
	if out.DailyAverage != nil {
		fmt.Fprintf(b, "📅 Ø Verbrauch: %s kWh/Tag\n", r.p.Sprintf("%.1f", *out.DailyAverage))
	}

	fmt.Fprintf(b, "🕒 %s", r.now().Format("02.01.2006 15:04"))
}

// Rejected renders the reply for a failed reading transaction.
func (r *Responder) Rejected(rej *reading.Rejection) string {
	switch rej.Reason {
	case reading.ReasonOutOfRange:
		return fmt.Sprintf(
			"❌ Der Wert %s liegt außerhalb des gültigen Bereichs (%s bis %s kWh).",
			r.kwh(rej.Candidate), r.kwh(intent.MinMeterValue), r.kwh(intent.MaxMeterValue),
		)
	case reading.ReasonNotMonotonic:
		return fmt.Sprintf(
			"❌ Der neue Zählerstand (%s kWh) muss größer sein als der letzte erfasste Stand (%s kWh).",
			r.kwh(rej.Candidate), r.kwh(rej.PriorValue),
		)
	case reading.ReasonImplausibleConsumption:
		return fmt.Sprintf(
			"❌ Unplausibler Verbrauch: %s kWh seit dem letzten Stand (%s kWh). Bitte prüfe den Wert.",
			r.kwh(rej.Consumption), r.kwh(rej.PriorValue),
		)
	case reading.ReasonDuplicateToday:
		// The suggested correction must round-trip through the parser, so
		// no locale separators here.
		return fmt.Sprintf(
			"⚠️ Für heute ist bereits ein Zählerstand erfasst.\nZum Überschreiben sende: Korrektur: %s",
			strconv.FormatFloat(rej.Candidate, 'f', 0, 64),
		)
	case reading.ReasonNoActiveTariff:
		return "❌ Es ist kein aktiver Stromtarif hinterlegt. Bitte lege zuerst einen Tarif in deinem Profil an."
	case reading.ReasonNoReadingToday:
		return "⚠️ Für heute ist noch kein Zählerstand erfasst. Sende einfach den aktuellen Stand, z. B. 12450."
	case reading.ReasonNothingToDelete:
		return "⚠️ Es sind keine Zählerstände vorhanden."
	case reading.ReasonBusy:
		return "⏳ Deine vorherige Eingabe wird noch verarbeitet. Bitte versuche es gleich erneut."
	default:
		return r.SaveFailed()
	}
}

// DeletionDone confirms the removal and names the affected date, which
// may lie before today.
func (r *Responder) DeletionDone(removed *domain.MeterReading) string {
	return fmt.Sprintf(
		"🗑 Zählerstand vom %s (%s kWh) wurde gelöscht.",
		removed.ReadingDate.Format(dateLayout), r.kwh(removed.MeterValue),
	)
}

// Status renders the status reply.
func (r *Responder) Status(report *reading.StatusReport) string {
	if report.Latest == nil {
		return "📊 Noch keine Zählerstände erfasst.\nSende einfach deinen aktuellen Stand, z. B. 12450."
	}

	var b strings.Builder
	b.WriteString("📊 *Dein Zählerstatus*\n\n")
	fmt.Fprintf(&b, "Letzter Stand: %s kWh am %s\n",
		r.kwh(report.Latest.MeterValue), report.Latest.ReadingDate.Format(dateLayout))

	switch report.DaysSince {
	case 0:
		b.WriteString("Heute erfasst\n")
	case 1:
		b.WriteString("Gestern erfasst\n")
	default:
		fmt.Fprintf(&b, "Vor %d Tagen erfasst\n", report.DaysSince)
	}

	fmt.Fprintf(&b, "Jahresverbrauch: %s kWh\n\n", r.kwh(report.YearConsumption))
	b.WriteString("Befehle: verbrauch · tarif · hilfe")

	return b.String()
}

// Stats renders the consumption statistics reply.
func (r *Responder) Stats(report *reading.StatsReport) string {
	if report.MonthCount == 0 && report.YearTotal == 0 {
		return "📈 Noch keine Verbrauchsdaten vorhanden.\nSende deinen Zählerstand, um zu starten."
	}

	var b strings.Builder
	b.WriteString("📈 *Verbrauchsstatistik*\n\n")
	fmt.Fprintf(&b, "Aktueller Monat: %s kWh (%d Einträge)\n",
		r.kwh(report.MonthTotal), report.MonthCount)
	fmt.Fprintf(&b, "Hochrechnung Monatsende: %s kWh\n", r.kwh(report.Projection))
	fmt.Fprintf(&b, "Vormonat: %s kWh\n", r.kwh(report.PrevMonthTotal))
	fmt.Fprintf(&b, "Jahr: %s kWh (Ø %s kWh/Tag)",
		r.kwh(report.YearTotal), r.p.Sprintf("%.1f", report.YearDailyAvg))

	return b.String()
}

// TariffInfo renders the active tariff with a worked 100 kWh example.
func (r *Responder) TariffInfo(t *domain.TariffPeriod) string {
	var b strings.Builder
	b.WriteString("💡 *Dein Stromtarif*\n\n")
	fmt.Fprintf(&b, "Arbeitspreis: %s/kWh\n", r.euro(t.RatePerKwh))
	fmt.Fprintf(&b, "Grundgebühr: %s/Monat\n", r.euro(t.BasicFee))
	fmt.Fprintf(&b, "Abschlag: %s/Monat\n", r.euro(t.MonthlyPayment))

	if t.ValidTo != nil {
		fmt.Fprintf(&b, "Gültig: %s bis %s\n\n",
			t.ValidFrom.Format(dateLayout), t.ValidTo.Format(dateLayout))
	} else {
		fmt.Fprintf(&b, "Gültig ab: %s (unbefristet)\n\n", t.ValidFrom.Format(dateLayout))
	}

	example := 100*t.RatePerKwh + t.BasicFee
	fmt.Fprintf(&b, "Beispiel für 100 kWh: 100 × %s + %s = %s",
		r.euro(t.RatePerKwh), r.euro(t.BasicFee), r.euro(example))

	return b.String()
}

// NoTariff is the tariff reply when no period covers today.
func (r *Responder) NoTariff() string {
	return "❌ Es ist kein aktiver Stromtarif hinterlegt. Bitte lege zuerst einen Tarif in deinem Profil an."
}

// Welcome greets a verified user on /start.
func (r *Responder) Welcome(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👋 Hallo %s!\n\n", name)
	b.WriteString("Ich erfasse deine Stromzählerstände und rechne Verbrauch und Kosten aus.\n\n")
	r.writeCheatSheet(&b)
	return b.String()
}

// Help lists the accepted inputs. The command lines come from the same
// table the parser matches against.
func (r *Responder) Help() string {
	var b strings.Builder
	b.WriteString("📖 *Befehlsübersicht*\n\n")
	r.writeCheatSheet(&b)
	return b.String()
}

func (r *Responder) writeCheatSheet(b *strings.Builder) {
	b.WriteString("Sende einfach deinen Zählerstand, z. B.:\n")
	b.WriteString("• 12450\n")
	b.WriteString("• Stand: 12450\n")
	b.WriteString("• Zählerstand 12450 kWh\n")
	b.WriteString("• /stand 12450\n\n")

	b.WriteString("Weitere Befehle:\n")
	for _, line := range intent.Usage() {
		fmt.Fprintf(b, "• %s\n", line)
	}
}

// NotAuthorized is the onboarding reply for chats that are known but not
// yet fully set up, or unknown chats reached through a stored token.
func (r *Responder) NotAuthorized() string {
	return "🔒 Dieser Chat ist nicht freigeschaltet.\n\n" +
		"So richtest du den Bot ein:\n" +
		"1. Hinterlege deinen Bot-Token in den Profileinstellungen.\n" +
		"2. Starte die Verifizierung und gib den 6-stelligen Code aus dem Chat dort ein.\n" +
		"3. Aktiviere die Telegram-Benachrichtigungen."
}

// UnknownCommand names the unrecognized slash command.
func (r *Responder) UnknownCommand(cmd string) string {
	return fmt.Sprintf("❓ Unbekannter Befehl: %s\nSende hilfe für eine Übersicht.", cmd)
}

// Unrecognized is the fallback for free text that matched nothing.
func (r *Responder) Unrecognized() string {
	return "🤔 Das habe ich nicht verstanden.\nSende deinen Zählerstand als Zahl (z. B. 12450) oder hilfe für alle Befehle."
}

// SaveFailed is the generic reply when persistence broke mid-transaction.
func (r *Responder) SaveFailed() string {
	return "❌ Der Zählerstand konnte nicht gespeichert werden. Bitte versuche es später erneut."
}

// VerificationCode wraps the handshake code sent to a freshly linked chat.
func (r *Responder) VerificationCode(code string) string {
	return fmt.Sprintf(
		"🔐 Dein Verifizierungscode lautet: *%s*\n\nGib ihn in den Profileinstellungen ein, um diesen Chat zu bestätigen.",
		code,
	)
}

func (r *Responder) kwh(v float64) string {
	if v == math.Trunc(v) {
		return r.p.Sprintf("%.0f", v)
	}
	return r.p.Sprintf("%.1f", v)
}

func (r *Responder) euro(v float64) string {
	return r.p.Sprintf("%.2f €", v)
}
