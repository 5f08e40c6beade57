package generator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wlu03/story-to-scene-magic-08/models"
	"github.com/wlu03/story-to-scene-magic-08/service/retry"
)

var ErrInvalidRequest = errors.New("invalid generation request")

// Limits bound what may be sent to a back-end.
type Limits struct {
	MaxPromptLength    int
	MaxDurationSeconds int
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate rejects requests no back-end should see. Failures are permanent.
func Validate(kind models.ArtifactKind, req Request, lim Limits) error {
	if err := validate.Struct(req); err != nil {
		return invalid("request", err)
	}

	promptRule := "required"
	if lim.MaxPromptLength > 0 {
		promptRule = fmt.Sprintf("required,max=%d", lim.MaxPromptLength)
	}
	if err := validate.Var(strings.TrimSpace(req.Prompt), promptRule); err != nil {
		return invalid("prompt", err)
	}

	if kind == models.KindAudio || kind == models.KindVideo {
		durationRule := "gt=0"
		if lim.MaxDurationSeconds > 0 {
			durationRule = fmt.Sprintf("gt=0,lte=%d", lim.MaxDurationSeconds)
		}
		if err := validate.Var(req.DurationSeconds, durationRule); err != nil {
			return invalid("duration", err)
		}
	}
	return nil
}

func invalid(field string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		name := field
		if fe.Field() != "" {
			name = fe.Field()
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		return retry.Permanent(fmt.Errorf("%w: %s fails %s", ErrInvalidRequest, name, rule))
	}
	return retry.Permanent(fmt.Errorf("%w: %s: %v", ErrInvalidRequest, field, err))
}
