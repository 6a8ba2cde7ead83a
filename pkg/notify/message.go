package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/reqflow/reqflow/pkg/domain"
)

const maxBlockTextLength = 2900

var statusEmoji = map[domain.Phase]string{
	domain.PhaseDone:   ":white_check_mark:",
	domain.PhaseFailed: ":x:",
}

var statusLabel = map[domain.Phase]string{
	domain.PhaseDone:   "Requirements Ready",
	domain.PhaseFailed: "Session Failed",
}

func buildStartedMessage(sess *domain.Session) []goslack.Block {
	text := fmt.Sprintf(":arrows_counterclockwise: *Session started* — mode `%s`, project %q.", sess.Mode, sess.Project)
	return []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil),
	}
}

func buildTerminalMessage(sess *domain.Session) []goslack.Block {
	emoji := statusEmoji[sess.Phase]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[sess.Phase]
	if label == "" {
		label = "Session " + string(sess.Phase)
	}

	headerText := fmt.Sprintf("%s *%s* — project %q", emoji, label, sess.Project)
	if sess.TerminalError != nil {
		headerText += fmt.Sprintf("\n\n*Error:*\n%s", truncate(sess.TerminalError.Message))
	}

	return []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false), nil, nil),
	}
}

func truncate(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
