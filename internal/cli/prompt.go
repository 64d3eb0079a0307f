package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/AlecAivazis/survey/v2"
)

// stdinIsTerminal reports whether an operator can answer prompts.
func stdinIsTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// surveyPrompter asks for a template workspace on the terminal. Prompts for
// concurrent imports are asked one at a time.
type surveyPrompter struct {
	mu sync.Mutex
}

func (p *surveyPrompter) PromptTemplate(ctx context.Context, projectName string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var answer string
	prompt := &survey.Input{
		Message: fmt.Sprintf("Template workspace id for %q:", projectName),
		Help:    "Leave blank or enter 0 to create an empty workspace.",
	}
	if err := survey.AskOne(prompt, &answer, survey.WithValidator(validateTemplateID)); err != nil {
		return 0, fmt.Errorf("failed to get template workspace: %w", err)
	}
	return parseTemplateID(answer)
}

func validateTemplateID(ans any) error {
	s, ok := ans.(string)
	if !ok {
		return errors.New("expected text")
	}
	_, err := parseTemplateID(s)
	return err
}

// parseTemplateID reads an operator-supplied workspace id. Blank means 0.
func parseTemplateID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%q is not a workspace id", s)
	}
	return id, nil
}
