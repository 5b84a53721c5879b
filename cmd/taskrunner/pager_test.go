package main

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestPager(content string) *pagerModel {
	m := &pagerModel{title: "history", content: content, render: func() (string, error) { return content, nil }}
	m.Update(tea.WindowSizeMsg{Width: 40, Height: 10})
	return m
}

func TestWrapLines(t *testing.T) {
	long := strings.Repeat("word ", 20)
	out := wrapLines("short\n"+long, 30)
	for _, line := range strings.Split(out, "\n") {
		if lipgloss.Width(line) > 30 {
			t.Errorf("line too wide: %q", line)
		}
	}
	if !strings.HasPrefix(out, "short\n") {
		t.Errorf("short lines must be kept: %q", out)
	}
	if got := wrapLines("abc", 0); got != "abc" {
		t.Errorf("zero width should not wrap, got %q", got)
	}
}

func TestPager_Search(t *testing.T) {
	m := newTestPager("s1 attempt 1\ns2 attempt 1\ns2 attempt 2\ns3 attempt 1")
	if !m.ready {
		t.Fatal("pager not ready after window size")
	}

	m.Update(key("/"))
	if !m.searching {
		t.Fatal("expected search mode")
	}
	m.searchInput.SetValue("S2")
	m.Update(key("enter"))

	if m.searching || m.query != "S2" {
		t.Fatalf("searching=%v query=%q", m.searching, m.query)
	}
	if len(m.matches) != 2 || m.matches[0] != 1 || m.matches[1] != 2 {
		t.Errorf("matches = %v", m.matches)
	}

	m.Update(key("n"))
	if m.matchIndex != 1 {
		t.Errorf("matchIndex after n = %d", m.matchIndex)
	}
	m.Update(key("n"))
	if m.matchIndex != 0 {
		t.Errorf("n should wrap around, got %d", m.matchIndex)
	}
	m.Update(key("N"))
	if m.matchIndex != 1 {
		t.Errorf("N should wrap backwards, got %d", m.matchIndex)
	}

	m.Update(key("esc"))
	if m.query != "" || m.matches != nil {
		t.Error("esc should clear the search")
	}
}

func TestPager_SearchNotFound(t *testing.T) {
	m := newTestPager("nothing here")
	m.query = "missing"
	m.search()
	if !m.notFound {
		t.Error("expected notFound")
	}
	if !strings.Contains(m.View(), "Pattern not found") {
		t.Error("footer should report the failed search")
	}
}

func TestPager_Quit(t *testing.T) {
	m := newTestPager("x")
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestPager_ReloadsOnChange(t *testing.T) {
	content := "first"
	m := &pagerModel{title: "history", content: content, render: func() (string, error) { return content, nil }}
	m.Update(tea.WindowSizeMsg{Width: 40, Height: 10})

	content = "first\nsecond"
	m.Update(contentChangedMsg{})
	if !strings.Contains(m.View(), "second") {
		t.Errorf("reloaded view missing new content:\n%s", m.View())
	}
}
