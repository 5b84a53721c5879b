package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/muesli/reflow/wordwrap"
)

var (
	pagerTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	pagerInfoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	pagerLiveStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	pagerMissStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	pagerHitStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// runPager shows render's output in a scrollable view. When watch is set the
// content is re-rendered every time that file is written.
func runPager(title string, render func() (string, error), watch string) error {
	content, err := render()
	if err != nil {
		return err
	}
	m := &pagerModel{title: title, content: content, render: render}

	if watch != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		defer watcher.Close()
		// The file may not exist yet, so watch its directory.
		if err := watcher.Add(filepath.Dir(watch)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", watch, err)
		}
		m.watcher = watcher
		m.watchName = filepath.Base(watch)
	}

	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion()).Run()
	return err
}

type contentChangedMsg struct{}

type pagerModel struct {
	viewport viewport.Model
	title    string
	content  string
	wrapped  string
	ready    bool

	render    func() (string, error)
	watcher   *fsnotify.Watcher
	watchName string

	searching   bool
	searchInput textinput.Model
	query       string
	matches     []int
	matchIndex  int
	notFound    bool
}

func (m *pagerModel) Init() tea.Cmd {
	if m.watcher != nil {
		return m.waitForChange()
	}
	return nil
}

func (m *pagerModel) waitForChange() tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case ev, ok := <-m.watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(ev.Name) != m.watchName {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					// let the writer finish
					time.Sleep(100 * time.Millisecond)
					return contentChangedMsg{}
				}
			case _, ok := <-m.watcher.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

func (m *pagerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.searching {
		if key, ok := msg.(tea.KeyMsg); ok {
			switch key.String() {
			case "enter":
				m.searching = false
				m.query = m.searchInput.Value()
				m.search()
				m.jumpTo(0)
				return m, nil
			case "esc", "ctrl+c":
				m.searching = false
				m.clearSearch()
				return m, nil
			}
		}
		var cmd tea.Cmd
		m.searchInput, cmd = m.searchInput.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case contentChangedMsg:
		if content, err := m.render(); err == nil {
			offset := m.viewport.YOffset
			m.setContent(content)
			m.viewport.SetYOffset(offset)
		}
		cmds = append(cmds, m.waitForChange())

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc":
			if m.query == "" {
				return m, tea.Quit
			}
			m.clearSearch()
		case "g":
			m.viewport.GotoTop()
		case "G", "f":
			m.viewport.GotoBottom()
		case "/":
			m.searching = true
			m.searchInput = textinput.New()
			m.searchInput.Placeholder = "Search..."
			m.searchInput.CharLimit = 100
			m.searchInput.Width = 40
			m.searchInput.SetValue(m.query)
			m.searchInput.Focus()
			return m, textinput.Blink
		case "n":
			if len(m.matches) > 0 {
				m.jumpTo((m.matchIndex + 1) % len(m.matches))
			}
		case "N":
			if len(m.matches) > 0 {
				m.jumpTo((m.matchIndex - 1 + len(m.matches)) % len(m.matches))
			}
		}

	case tea.WindowSizeMsg:
		height := msg.Height - 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.viewport.YPosition = 1
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.setContent(m.content)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *pagerModel) setContent(content string) {
	m.content = content
	m.wrapped = wrapLines(content, m.viewport.Width)
	m.viewport.SetContent(m.wrapped)
	if m.query != "" {
		m.search()
	}
}

// search records the wrapped lines containing the query, case-insensitively.
func (m *pagerModel) search() {
	m.matches = nil
	m.matchIndex = 0
	m.notFound = false
	if m.query == "" {
		return
	}
	q := strings.ToLower(m.query)
	for i, line := range strings.Split(m.wrapped, "\n") {
		if strings.Contains(strings.ToLower(line), q) {
			m.matches = append(m.matches, i)
		}
	}
	m.notFound = len(m.matches) == 0
}

func (m *pagerModel) clearSearch() {
	m.query = ""
	m.matches = nil
	m.notFound = false
}

// jumpTo centres match i in the viewport.
func (m *pagerModel) jumpTo(i int) {
	if i < 0 || i >= len(m.matches) {
		return
	}
	m.matchIndex = i
	m.viewport.SetYOffset(m.matches[i] - m.viewport.Height/2)
}

func (m *pagerModel) View() string {
	if !m.ready {
		return "\n  Loading..."
	}
	width := m.viewport.Width

	title := pagerTitleStyle.Render(m.title)
	header := title + pagerInfoStyle.Render(strings.Repeat("─", max(0, width-lipgloss.Width(title))))

	var footer string
	if m.searching {
		footer = pagerHitStyle.Render("/") + m.searchInput.View()
	} else {
		var help string
		switch {
		case m.notFound:
			help = " " + pagerMissStyle.Render("Pattern not found") + " │ /: search "
		case len(m.matches) > 0:
			help = " " + pagerHitStyle.Render(fmt.Sprintf("[%d/%d]", m.matchIndex+1, len(m.matches))) + " │ n/N: next/prev │ esc: clear "
		case m.watcher != nil:
			help = " " + pagerLiveStyle.Render("● LIVE") + " │ q: quit │ /: search │ f: follow "
		default:
			help = " q: quit │ /: search │ g/G: top/bottom "
		}
		info := fmt.Sprintf(" %3.f%% ", m.viewport.ScrollPercent()*100)
		fill := max(0, width-lipgloss.Width(help)-lipgloss.Width(info))
		footer = pagerInfoStyle.Render(help + strings.Repeat("─", fill) + info)
	}

	return header + "\n" + m.viewport.View() + "\n" + footer
}

// wrapLines wraps each line that is wider than width.
func wrapLines(content string, width int) string {
	if width <= 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if lipgloss.Width(line) <= width {
			out = append(out, line)
			continue
		}
		out = append(out, strings.Split(wordwrap.String(line, width), "\n")...)
	}
	return strings.Join(out, "\n")
}
