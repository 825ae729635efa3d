package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/werkbank/internal/types"
)

// ChatModel renders the agent transcript and owns the message input.
type ChatModel struct {
	Input    textarea.Model
	Width    int
	Height   int
	renderer *glamour.TermRenderer
}

func NewChatModel() ChatModel {
	input := textarea.New()
	input.Placeholder = "Ask the agent..."
	input.SetHeight(1)
	input.ShowLineNumbers = false
	input.CharLimit = 0
	return ChatModel{Input: input}
}

// Resize updates the pane dimensions and rebuilds the markdown renderer at
// the new wrap width.
func (m *ChatModel) Resize(width, height int) {
	m.Width = width
	m.Height = height
	m.Input.SetWidth(width - 2)
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err == nil {
		m.renderer = r
	}
}

// renderMarkdown runs agent text through glamour, falling back to the raw
// text when rendering fails.
func (m ChatModel) renderMarkdown(text string) string {
	if m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// View renders the transcript tail plus the input line.
func (m ChatModel) View(messages []types.ChatMessage, processing bool) string {
	userStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	thinkingStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	var lines []string
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleUser:
			lines = append(lines, userStyle.Render("you: ")+msg.Text)
		case types.RoleThinking:
			text := msg.Text
			if !msg.Done {
				text += " …"
			}
			lines = append(lines, thinkingStyle.Render(text))
		case types.RoleError:
			lines = append(lines, errorStyle.Render(msg.Text))
		default:
			lines = append(lines, m.renderMarkdown(msg.Text))
		}
	}
	if processing {
		lines = append(lines, thinkingStyle.Render("working..."))
	}

	transcript := strings.Join(lines, "\n")

	// Keep the tail that fits above the input.
	transcriptRows := m.Height - m.Input.Height() - 1
	if transcriptRows < 1 {
		transcriptRows = 1
	}
	split := strings.Split(transcript, "\n")
	if len(split) > transcriptRows {
		split = split[len(split)-transcriptRows:]
	}

	return strings.Join(split, "\n") + "\n" + m.Input.View()
}
