package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
)

var errQuit = errors.New("quit")

// PromptForQuestion reads the next chat question. An interrupt or an exit
// keyword returns errQuit.
func PromptForQuestion(session string) (string, error) {
	var question string
	prompt := &survey.Input{
		Message: fmt.Sprintf("[%s] Ask:", session),
		Help:    "Ask about your portfolio, a ticker or the market. Type exit to leave.",
	}

	err := survey.AskOne(prompt, &question, survey.WithValidator(func(val interface{}) error {
		str, _ := val.(string)
		if len(strings.TrimSpace(str)) == 0 {
			return fmt.Errorf("question cannot be empty")
		}
		return nil
	}))
	if errors.Is(err, terminal.InterruptErr) {
		return "", errQuit
	}
	if err != nil {
		return "", err
	}

	question = strings.TrimSpace(question)
	switch strings.ToLower(question) {
	case "exit", "quit", "q":
		return "", errQuit
	}
	return question, nil
}
