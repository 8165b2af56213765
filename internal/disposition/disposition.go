package disposition

// Disposition is the terminal classification of a finished call.
// Keep values stable; they are persisted and part of the executor contract.
type Disposition string

const (
	AppointmentBooked Disposition = "appointment_booked"
	Qualified         Disposition = "qualified"
	Interested        Disposition = "interested"
	Callback          Disposition = "callback"
	NotInterested     Disposition = "not_interested"
	Voicemail         Disposition = "voicemail"
	DoNotCall         Disposition = "dnc"

	// NoContact is used for calls that never reached a person (no answer, busy, failed).
	NoContact Disposition = "no_contact"
)

// All returns every known disposition. Policies keyed by disposition must cover this set.
func All() []Disposition {
	return []Disposition{
		AppointmentBooked,
		Qualified,
		Interested,
		Callback,
		NotInterested,
		Voicemail,
		DoNotCall,
		NoContact,
	}
}

func (d Disposition) Valid() bool {
	for _, v := range All() {
		if v == d {
			return true
		}
	}
	return false
}

// IsQualified reports whether the disposition counts toward the qualified rollup.
func (d Disposition) IsQualified() bool {
	return d == Qualified || d == AppointmentBooked
}
