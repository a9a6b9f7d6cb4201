package prune

import (
	"errors"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/fatih/color"

	zerr "zotregistry.dev/zprune/errors"
)

// SurveyPrompter asks for confirmation on the terminal, defaulting to yes.
type SurveyPrompter struct {
	opts []survey.AskOpt
}

func NewSurveyPrompter(opts ...survey.AskOpt) SurveyPrompter {
	return SurveyPrompter{opts: opts}
}

func (p SurveyPrompter) Confirm(message string) (bool, error) {
	var answer bool

	prompt := &survey.Confirm{
		Message: color.YellowString(message),
		Default: true,
	}

	if err := survey.AskOne(prompt, &answer, p.opts...); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			return false, zerr.ErrCanceledByUser
		}

		return false, err
	}

	return answer, nil
}
