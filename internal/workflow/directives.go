package workflow

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// EpochPlaceholder is replaced in accounting group templates by the label
// of the epoch covering the batch's latest timestamp.
const EpochPlaceholder = "{epoch}"

// EpochResolver maps a GPS timestamp to an epoch label.
type EpochResolver interface {
	Label(gps float64) (string, error)
}

// DirectiveOptions holds the accounting and resource inputs for a batch.
type DirectiveOptions struct {
	AccountingGroup     string // may contain EpochPlaceholder
	AccountingGroupUser string
	TimeoutHours        float64 // 0 disables the timeout
	Extra               []string
}

// SubmissionDirectives is the resolved scheduler header for one batch.
type SubmissionDirectives struct {
	AccountingGroup     string
	AccountingGroupUser string
	Timeout             time.Duration
	Extra               []string
}

// BuildDirectives resolves placeholders against maxGPS and validates the
// timeout and extra directives. epochs is only consulted when the
// accounting group contains a placeholder.
func BuildDirectives(opts DirectiveOptions, maxGPS float64, epochs EpochResolver) (SubmissionDirectives, error) {
	group, err := substitute(opts.AccountingGroup, maxGPS, epochs)
	if err != nil {
		return SubmissionDirectives{}, err
	}

	if opts.TimeoutHours < 0 || math.IsNaN(opts.TimeoutHours) || math.IsInf(opts.TimeoutHours, 0) {
		return SubmissionDirectives{}, &InputError{
			Field:   "timeout",
			Message: fmt.Sprintf("timeout must be a non-negative number of hours, got %v", opts.TimeoutHours),
		}
	}

	extra := make([]string, 0, len(opts.Extra))
	for _, d := range opts.Extra {
		key, _, ok := strings.Cut(d, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return SubmissionDirectives{}, &InputError{
				Field:   "condor-command",
				Message: fmt.Sprintf("directive %q must have the form key=value", d),
			}
		}
		extra = append(extra, d)
	}

	return SubmissionDirectives{
		AccountingGroup:     group,
		AccountingGroupUser: opts.AccountingGroupUser,
		Timeout:             hoursToDuration(opts.TimeoutHours),
		Extra:               extra,
	}, nil
}

// Lines renders the directives in submission order.
func (d SubmissionDirectives) Lines() []string {
	lines := []string{
		"accounting_group = " + d.AccountingGroup,
		"accounting_group_user = " + d.AccountingGroupUser,
	}
	if d.Timeout > 0 {
		lines = append(lines, fmt.Sprintf(
			"periodic_remove = (CurrentTime - EnteredCurrentStatus) > %d",
			int64(d.Timeout/time.Second)))
	}
	return append(lines, d.Extra...)
}

// placeholders is the fixed token set recognized in accounting groups.
var placeholders = map[string]func(maxGPS float64, epochs EpochResolver) (string, error){
	EpochPlaceholder: func(maxGPS float64, epochs EpochResolver) (string, error) {
		if epochs == nil {
			return "", &InputError{Field: "accounting-group", Message: "accounting group has an epoch placeholder but no epoch table"}
		}
		label, err := epochs.Label(maxGPS)
		if err != nil {
			return "", &InputError{Field: "accounting-group", Message: "resolving epoch", Err: err}
		}
		return label, nil
	},
}

func substitute(template string, maxGPS float64, epochs EpochResolver) (string, error) {
	out := template
	for token, resolve := range placeholders {
		if !strings.Contains(out, token) {
			continue
		}
		value, err := resolve(maxGPS, epochs)
		if err != nil {
			return "", err
		}
		out = strings.ReplaceAll(out, token, value)
	}
	return out, nil
}

// hoursToDuration rounds up to whole seconds, the scheduler's native unit.
func hoursToDuration(hours float64) time.Duration {
	if hours == 0 {
		return 0
	}
	return time.Duration(math.Ceil(hours*3600)) * time.Second
}
