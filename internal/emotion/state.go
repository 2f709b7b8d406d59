// Package emotion maintains the bot's decaying mood vector: a fixed set of
// affect intensities updated by direct deltas and named event impacts, with a
// background decay loop pulling the vector back toward neutral.
package emotion

import "time"

// Affect names one component of the mood vector.
type Affect string

const (
	Joy          Affect = "joy"
	Sadness      Affect = "sadness"
	Anger        Affect = "anger"
	Fear         Affect = "fear"
	Surprise     Affect = "surprise"
	Disgust      Affect = "disgust"
	Trust        Affect = "trust"
	Anticipation Affect = "anticipation"
	Neutral      Affect = "neutral"
)

// Affects lists every component, neutral last.
var Affects = []Affect{Joy, Sadness, Anger, Fear, Surprise, Disgust, Trust, Anticipation, Neutral}

// State is a point-in-time snapshot of the mood vector.
type State struct {
	Intensities map[Affect]float64
	Dominant    Affect
	Intensity   float64       // intensity of the dominant affect
	MoodFor     time.Duration // time spent in the current dominant mood
	UpdatedAt   time.Time
}

// HistoryEntry records one mutation of the mood vector.
type HistoryEntry struct {
	Affect    Affect
	Delta     float64 // applied delta after stability scaling
	Dominant  Affect
	Intensity float64
	Reason    string
	At        time.Time
}

// EventEntry records one named stimulus applied to the mood vector.
type EventEntry struct {
	Affect      Affect
	Delta       float64
	Description string
	At          time.Time
}

// DefaultBaseline is the configured-at-rest mood vector; neutral dominates.
func DefaultBaseline() map[Affect]float64 {
	return map[Affect]float64{
		Joy:          0.2,
		Sadness:      0.1,
		Anger:        0.05,
		Fear:         0.05,
		Surprise:     0.1,
		Disgust:      0.05,
		Trust:        0.2,
		Anticipation: 0.15,
		Neutral:      0.6,
	}
}
