package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gobwas/glob"

	"github.com/obsidianstack/alertengine/pkg/types"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Rule validates a rule including its condition.
func Rule(r types.AlertRule) error {
	if err := structErr(r); err != nil {
		return err
	}
	return Condition(r.Condition)
}

// Condition validates a condition spec: the tag must be known, exactly the
// matching variant must be set, and the variant's fields must be valid.
func Condition(c types.Condition) error {
	set := map[types.ConditionKind]bool{
		types.ConditionThreshold: c.Threshold != nil,
		types.ConditionChange:    c.Change != nil,
		types.ConditionAnomaly:   c.Anomaly != nil,
		types.ConditionPattern:   c.Pattern != nil,
	}
	if _, known := set[c.Kind]; !known {
		return types.Invalid("condition.type", "unknown condition type %q", c.Kind)
	}
	if !set[c.Kind] {
		return types.Invalid("condition."+string(c.Kind), "spec for %q is missing", c.Kind)
	}
	for k, ok := range set {
		if ok && k != c.Kind {
			return types.Invalid("condition."+string(k), "set on a %q condition", c.Kind)
		}
	}
	return structErr(c)
}

// Policy validates an escalation policy: levels are numbered 1, 2, 3...
// without gaps and delays are non-negative.
func Policy(p types.EscalationPolicy) error {
	if err := structErr(p); err != nil {
		return err
	}
	for i, l := range p.Levels {
		if i == 0 && l.Level != 1 {
			return types.Invalid("levels[0].level", "first level must be 1, got %d", l.Level)
		}
		if i > 0 && l.Level != p.Levels[i-1].Level+1 {
			return types.Invalid(fmt.Sprintf("levels[%d].level", i),
				"levels must be consecutive: want %d, got %d", p.Levels[i-1].Level+1, l.Level)
		}
	}
	return nil
}

// Window validates a suppression window and compiles its pattern.
func Window(w types.SuppressionWindow) error {
	if err := structErr(w); err != nil {
		return err
	}
	if w.Pattern != "" {
		if _, err := glob.Compile(w.Pattern); err != nil {
			return types.Invalid("pattern", "invalid glob: %v", err)
		}
	}
	return nil
}

// Channel validates a channel definition.
func Channel(c types.Channel) error {
	if err := structErr(c); err != nil {
		return err
	}
	if c.Type == types.ChannelEmail && c.SMTP == nil {
		return types.Invalid("smtp", "email channel %q needs smtp settings", c.Name)
	}
	return nil
}

func structErr(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return types.Invalid("", "%v", err)
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	reason := fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	return types.Invalid(strings.ToLower(field), "failed %s (value %v)", reason, fe.Value())
}
