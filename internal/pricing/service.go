package pricing

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Price converts usage into a cost breakdown using this card.
// Telephony is rounded up to the billing increment per report, so executors
// should report carrier seconds once per call.
func (c RateCard) Price(u Usage) Cost {
	var tel int64
	if u.TelephonySeconds > 0 {
		r := c.telephonyRate(u.Direction)
		sec := billableSeconds(u.TelephonySeconds, r.MinimumBillableSeconds, r.BillingIncrementSeconds)
		tel = perUnit(int64(sec), r.RatePerMinuteMicros, 60)
	}
	stt := perUnit(int64(u.STTSeconds), c.STTPerMinuteMicros, 60)
	tts := perUnit(int64(u.TTSCharacters), c.TTSPerThousandCharsMicros, 1000)
	llm := perUnit(int64(u.LLMInputTokens), c.LLMPerThousandInputMicros, 1000) +
		perUnit(int64(u.LLMOutputTokens), c.LLMPerThousandOutputMicros, 1000)
	return NewCost(tel, stt, tts, llm)
}

func (c RateCard) telephonyRate(d Direction) TelephonyRate {
	if d == "" {
		d = DirectionOutbound
	}
	for _, r := range c.Telephony {
		if r.Direction == d {
			return r
		}
	}
	return TelephonyRate{Direction: d}
}

func (c RateCard) effectiveAt(at time.Time) bool {
	if at.Before(c.EffectiveFrom) {
		return false
	}
	if c.EffectiveTo != nil && !at.Before(*c.EffectiveTo) {
		return false
	}
	return true
}

// perUnit prices units at rate per unitsPerRate units, rounding up to a whole micro.
func perUnit(units, rate, unitsPerRate int64) int64 {
	if units <= 0 || rate <= 0 {
		return 0
	}
	n := units * rate
	q := n / unitsPerRate
	if n%unitsPerRate != 0 {
		q++
	}
	return q
}

// Book holds rate cards over time and prices usage with the card effective at Usage.At.
type Book struct {
	mu    sync.RWMutex
	cards []RateCard
	clock func() time.Time
}

func NewBook(cards ...RateCard) *Book {
	b := &Book{clock: time.Now}
	for _, c := range cards {
		b.Add(c)
	}
	return b
}

func (b *Book) Add(c RateCard) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cards = append(b.cards, c)
	sort.SliceStable(b.cards, func(i, j int) bool { return b.cards[i].EffectiveFrom.Before(b.cards[j].EffectiveFrom) })
}

// At returns the most recently effective card for t.
func (b *Book) At(t time.Time) (RateCard, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := len(b.cards) - 1; i >= 0; i-- {
		if b.cards[i].effectiveAt(t) {
			return b.cards[i], nil
		}
	}
	return RateCard{}, ErrNoRateCard
}

func (b *Book) Price(u Usage) (Cost, error) {
	at := u.At
	if at.IsZero() {
		at = b.clock().UTC()
	}
	card, err := b.At(at)
	if err != nil {
		return Cost{}, err
	}
	return card.Price(u), nil
}

func billableSeconds(actualSec int, minSec int, incrementSec int) int {
	if actualSec < 0 {
		return 0
	}
	if minSec <= 0 {
		minSec = 0
	}
	if incrementSec <= 0 {
		incrementSec = 60
	}

	sec := actualSec
	if sec < minSec {
		sec = minSec
	}

	// round up to nearest increment
	q := sec / incrementSec
	r := sec % incrementSec
	if r != 0 {
		q++
	}
	return q * incrementSec
}

// MicrosFromUSD converts a dollar amount from the wire, rounding to the nearest micro.
func MicrosFromUSD(usd float64) int64 {
	return int64(math.Round(usd * 1e6))
}

// FormatUSD renders micros as dollars with six decimals.
func FormatUSD(micros int64) string {
	sign := ""
	if micros < 0 {
		sign = "-"
		micros = -micros
	}
	return fmt.Sprintf("%s%d.%06d", sign, micros/1e6, micros%1e6)
}

// ParseUSD parses a dollar string like "0.25" into micros.
func ParseUSD(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("pricing: parse amount %q: %w", s, err)
	}
	return MicrosFromUSD(f), nil
}
