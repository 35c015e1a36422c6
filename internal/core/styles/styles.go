// Package styles provides shared lipgloss v2 styles for CLI and TUI components.
package styles

import (
	"image/color"

	lipgloss "charm.land/lipgloss/v2"
)

// CurrentPalette holds the active theme palette.
var CurrentPalette Palette

// Exported color aliases for convenience.
var (
	ColorPrimary    color.Color
	ColorSecondary  color.Color
	ColorForeground color.Color
	ColorMuted      color.Color
	ColorBackground color.Color
	ColorSurface    color.Color
	ColorSuccess    color.Color
	ColorWarning    color.Color
	ColorError      color.Color
)

// Style exports.
var (
	// CLI styles.
	CommandHeaderStyle lipgloss.Style
	DividerStyle       lipgloss.Style
	TextMutedStyle     lipgloss.Style

	// Chat pane.
	UserLabelStyle      lipgloss.Style
	AssistantLabelStyle lipgloss.Style
	StreamingStyle      lipgloss.Style
	ErrorTextStyle      lipgloss.Style

	// Panels.
	PaneStyle        lipgloss.Style
	PaneFocusedStyle lipgloss.Style
	PaneTitleStyle   lipgloss.Style

	// Status bar segments.
	StatusBarStyle          lipgloss.Style
	StatusConnectedStyle    lipgloss.Style
	StatusConnectingStyle   lipgloss.Style
	StatusDisconnectedStyle lipgloss.Style
	StatusBusyStyle         lipgloss.Style
	StatusStaleStyle        lipgloss.Style

	// Toasts.
	ToastInfoStyle    lipgloss.Style
	ToastWarningStyle lipgloss.Style
	ToastErrorStyle   lipgloss.Style

	// Modals.
	ModalStyle               lipgloss.Style
	ModalTitleStyle          lipgloss.Style
	ModalHelpStyle           lipgloss.Style
	ModalButtonStyle         lipgloss.Style
	ModalButtonSelectedStyle lipgloss.Style
	ListItemStyle            lipgloss.Style
	ListItemSelectedStyle    lipgloss.Style
	TextWarningStyle         lipgloss.Style
	TextPrimaryStyle         lipgloss.Style
)

// Notification icons.
const (
	IconNotifyInfo    = "ℹ"
	IconNotifyWarning = "⚠"
	IconNotifyError   = "✗"
	IconDot           = "•"
)

// SetTheme sets the active palette and rebuilds all global styles.
func SetTheme(p Palette) {
	CurrentPalette = p

	ColorPrimary = p.Primary
	ColorSecondary = p.Secondary
	ColorForeground = p.Foreground
	ColorMuted = p.Muted
	ColorBackground = p.Background
	ColorSurface = p.Surface
	ColorSuccess = p.Success
	ColorWarning = p.Warning
	ColorError = p.Error

	CommandHeaderStyle = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true)
	DividerStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)
	TextMutedStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)

	UserLabelStyle = lipgloss.NewStyle().
		Foreground(ColorSecondary).
		Bold(true)
	AssistantLabelStyle = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true)
	StreamingStyle = lipgloss.NewStyle().
		Foreground(ColorForeground).
		Italic(true)
	ErrorTextStyle = lipgloss.NewStyle().
		Foreground(ColorError)

	PaneStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorSurface).
		Padding(0, 1)
	PaneFocusedStyle = PaneStyle.
		BorderForeground(ColorPrimary)
	PaneTitleStyle = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true)

	StatusBarStyle = lipgloss.NewStyle().
		Foreground(ColorForeground).
		Background(ColorSurface).
		Padding(0, 1)
	StatusConnectedStyle = lipgloss.NewStyle().
		Foreground(ColorSuccess).
		Background(ColorSurface)
	StatusConnectingStyle = lipgloss.NewStyle().
		Foreground(ColorWarning).
		Background(ColorSurface)
	StatusDisconnectedStyle = lipgloss.NewStyle().
		Foreground(ColorError).
		Background(ColorSurface)
	StatusBusyStyle = lipgloss.NewStyle().
		Foreground(ColorSecondary).
		Background(ColorSurface)
	StatusStaleStyle = lipgloss.NewStyle().
		Foreground(ColorWarning).
		Background(ColorSurface).
		Bold(true)

	toast := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		Width(toastWidth)
	ToastInfoStyle = toast.BorderForeground(ColorPrimary)
	ToastWarningStyle = toast.BorderForeground(ColorWarning)
	ToastErrorStyle = toast.BorderForeground(ColorError)

	ModalStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorPrimary).
		Padding(1, 2)
	ModalTitleStyle = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true)
	ModalHelpStyle = lipgloss.NewStyle().
		Foreground(ColorMuted).
		MarginTop(1)
	ModalButtonStyle = lipgloss.NewStyle().
		Foreground(ColorForeground).
		Background(ColorSurface).
		Padding(0, 2)
	ModalButtonSelectedStyle = ModalButtonStyle.
		Foreground(ColorBackground).
		Background(ColorPrimary).
		Bold(true)
	ListItemStyle = lipgloss.NewStyle().
		Foreground(ColorForeground).
		PaddingLeft(2)
	ListItemSelectedStyle = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true).
		PaddingLeft(1).
		Border(lipgloss.NormalBorder(), false, false, false, true).
		BorderForeground(ColorPrimary)
	TextWarningStyle = lipgloss.NewStyle().
		Foreground(ColorWarning)
	TextPrimaryStyle = lipgloss.NewStyle().
		Foreground(ColorForeground)
}

const toastWidth = 50

// nolint:gochecknoinits // bootstrap default theme before any style is accessed.
func init() {
	SetTheme(themes[DefaultTheme])
}
