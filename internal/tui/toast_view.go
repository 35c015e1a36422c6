package tui

import (
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	lipgloss "charm.land/lipgloss/v2"

	"github.com/colonyops/coach/internal/core/notify"
	"github.com/colonyops/coach/internal/core/styles"
)

type toastTickMsg time.Time

func scheduleToastTick() tea.Cmd {
	return tea.Tick(toastTickInterval, func(t time.Time) tea.Msg {
		return toastTickMsg(t)
	})
}

// ToastView renders toast notifications and composites them as an overlay.
type ToastView struct {
	controller *ToastController
}

func NewToastView(controller *ToastController) *ToastView {
	return &ToastView{controller: controller}
}

// View renders the toast stack as a single string with toasts stacked
// vertically (oldest at top, newest at bottom).
func (v *ToastView) View() string {
	toasts := v.controller.Toasts()
	if len(toasts) == 0 {
		return ""
	}

	rendered := make([]string, 0, len(toasts))
	for _, t := range toasts {
		rendered = append(rendered, renderToast(t.notification))
	}

	return strings.Join(rendered, "\n")
}

func renderToast(n notify.Notification) string {
	icon, style := levelIcon(n.Level), styles.ToastInfoStyle
	switch n.Level {
	case notify.LevelError:
		style = styles.ToastErrorStyle
	case notify.LevelWarning:
		style = styles.ToastWarningStyle
	}
	return style.Render(icon + " " + n.Message)
}

func levelIcon(l notify.Level) string {
	switch l {
	case notify.LevelError:
		return styles.IconNotifyError
	case notify.LevelWarning:
		return styles.IconNotifyWarning
	default:
		return styles.IconNotifyInfo
	}
}

// Overlay composites the toast stack over background in the upper-right
// corner, above the status bar and input line.
func (v *ToastView) Overlay(background string, width, _ int) string {
	toastContent := v.View()
	if toastContent == "" {
		return background
	}

	bgLayer := lipgloss.NewLayer(background)
	toastLayer := lipgloss.NewLayer(toastContent)

	toastW := lipgloss.Width(toastContent)
	rightX := max(width-toastW-1, 0)

	toastLayer.X(rightX).Y(1).Z(2)

	compositor := lipgloss.NewCompositor(bgLayer, toastLayer)
	return compositor.Render()
}
