package types

import "time"

// EscalationPolicy is an ordered list of levels. Levels start at 1 and
// strictly increase; delays are non-negative.
type EscalationPolicy struct {
	WorkspaceID string            `json:"workspace_id" yaml:"-" validate:"required"`
	ID          string            `json:"id" yaml:"id" validate:"required"`
	Name        string            `json:"name" yaml:"name"`
	Levels      []EscalationLevel `json:"levels" yaml:"levels" validate:"required,min=1,dive"`
}

// EscalationLevel is one tier of a policy.
type EscalationLevel struct {
	Level      int           `json:"level" yaml:"level" validate:"gte=1"`
	Delay      time.Duration `json:"delay" yaml:"delay" validate:"gte=0"`
	Channels   []string      `json:"channels" yaml:"channels" validate:"dive,required"`
	Recipients []string      `json:"recipients,omitempty" yaml:"recipients"`
}

func (l EscalationLevel) clone() EscalationLevel {
	l.Channels = append([]string(nil), l.Channels...)
	l.Recipients = append([]string(nil), l.Recipients...)
	return l
}

// Level returns the level with the given index.
func (p *EscalationPolicy) Level(n int) (EscalationLevel, bool) {
	for _, l := range p.Levels {
		if l.Level == n {
			return l, true
		}
	}
	return EscalationLevel{}, false
}

// Snapshot copies the levels for storage on an Alert.
func (p *EscalationPolicy) Snapshot() []EscalationLevel {
	if p == nil {
		return nil
	}
	out := make([]EscalationLevel, len(p.Levels))
	for i, l := range p.Levels {
		out[i] = l.clone()
	}
	return out
}
