package console

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
)

// Printer writes human readable progress, normally to stderr so stdout stays
// free for URLs and app settings.
type Printer struct {
	stream io.Writer
	indent string

	warnStyle    lipgloss.Style
	successStyle lipgloss.Style
	errorStyle   lipgloss.Style
	headerStyle  lipgloss.Style
}

// NewPrinter creates a new Printer instance with the specified output stream.
// Colors are always emitted since CI logs render ANSI sequences.
func NewPrinter(stream io.Writer) *Printer {
	renderer := lipgloss.NewRenderer(stream)
	renderer.SetColorProfile(termenv.ANSI)

	return &Printer{
		stream:       stream,
		indent:       "  ",
		warnStyle:    renderer.NewStyle().Foreground(lipgloss.Color("33")),
		successStyle: renderer.NewStyle().Foreground(lipgloss.Color("32")),
		errorStyle:   renderer.NewStyle().Foreground(lipgloss.Color("31")),
		headerStyle:  renderer.NewStyle().Bold(true),
	}
}

func (p *Printer) Info(emoji string, format string, a ...any) (n int, err error) {
	prefix := p.indent + withEmoji(emoji)
	return fmt.Fprintf(p.stream, prefix+format+"\n", a...)
}

func (p *Printer) Success(emoji string, format string, a ...any) (n int, err error) {
	prefix := p.indent + withEmoji(emoji)
	return fmt.Fprintln(p.stream, p.successStyle.Render(fmt.Sprintf(prefix+format, a...)))
}

func (p *Printer) Warn(emoji string, format string, a ...any) (n int, err error) {
	prefix := p.indent + withEmoji(emoji)
	return fmt.Fprintln(p.stream, p.warnStyle.Render(fmt.Sprintf(prefix+format, a...)))
}

func (p *Printer) Error(emoji string, format string, a ...any) (n int, err error) {
	prefix := p.indent + withEmoji(emoji)
	return fmt.Fprintln(p.stream, p.errorStyle.Render(fmt.Sprintf(prefix+format, a...)))
}

// Table renders rows under headers with a normal border.
func (p *Printer) Table(title string, headers []string, rows [][]string) (n int, err error) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.headerStyle
			}
			return lipgloss.NewStyle()
		}).
		Rows(rows...)

	return fmt.Fprintf(p.stream, "%s%s\n%s\n", p.indent, title, t.Render())
}

func withEmoji(emoji string) string {
	if emoji == "" {
		return ""
	}
	return emoji + " "
}
