package console

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/wricardo/roomlink/eventbus"
)

var (
	colorDim    = lipgloss.Color("#6C7086")
	colorText   = lipgloss.Color("#CDD6F4")
	colorAccent = lipgloss.Color("#89B4FA")
	colorGood   = lipgloss.Color("#A6E3A1")
	colorWarn   = lipgloss.Color("#F9E2AF")
	colorBad    = lipgloss.Color("#F38BA8")

	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleDimmed = lipgloss.NewStyle().Foreground(colorDim)
	styleText   = lipgloss.NewStyle().Foreground(colorText)
	styleInfo   = lipgloss.NewStyle().Foreground(colorWarn)
	styleError  = lipgloss.NewStyle().Foreground(colorBad)
	styleOnline = lipgloss.NewStyle().Foreground(colorGood)
)

// channelStyle colors an event line by the channel it came from.
func channelStyle(channel string) lipgloss.Style {
	switch channel {
	case eventbus.Error, eventbus.RoomError:
		return styleError
	case eventbus.Open, eventbus.RoomJoin:
		return styleOnline
	case eventbus.Close, eventbus.RoomLeave:
		return styleInfo
	case eventbus.RoomState, eventbus.Message:
		return styleDimmed
	default:
		return styleText
	}
}
