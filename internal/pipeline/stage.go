package pipeline

import "fmt"

// Stage identifies one step of the campaign pipeline.
type Stage string

const (
	StageDataCollection Stage = "data_collection"
	StageContent        Stage = "content"
	StageDesign         Stage = "design"
	StageQuality        Stage = "quality"
	StageDelivery       Stage = "delivery"
)

// ExpectedProgression is the only order in which stages may complete.
var ExpectedProgression = []Stage{
	StageDataCollection,
	StageContent,
	StageDesign,
	StageQuality,
	StageDelivery,
}

// ParseStage converts a string into a known Stage.
func ParseStage(s string) (Stage, error) {
	for _, st := range ExpectedProgression {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// Index returns the position of s in ExpectedProgression, or -1.
func (s Stage) Index() int {
	for i, st := range ExpectedProgression {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Next returns the immediate successor of s. ok is false for the last stage
// and for unknown stages.
func (s Stage) Next() (next Stage, ok bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(ExpectedProgression) {
		return "", false
	}
	return ExpectedProgression[i+1], true
}

// Prev returns the immediate predecessor of s.
func (s Stage) Prev() (prev Stage, ok bool) {
	i := s.Index()
	if i <= 0 {
		return "", false
	}
	return ExpectedProgression[i-1], true
}

func (s Stage) String() string {
	return string(s)
}
