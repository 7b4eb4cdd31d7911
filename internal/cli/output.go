package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/faqbot/console/internal/models"
)

var (
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	mutedColor   = color.New(color.Faint)
	headerColor  = color.New(color.FgCyan, color.Bold)
)

func bandColor(b models.ConfidenceBand) *color.Color {
	switch b {
	case models.BandSuccess:
		return successColor
	case models.BandWarning:
		return warningColor
	default:
		return errorColor
	}
}

// percent renders a [0,1] value colored by its confidence band.
func percent(v float64) string {
	return bandColor(models.BandFor(v)).Sprintf("%.0f%%", v*100)
}

func optionalPercent(v *float64) string {
	if v == nil {
		return mutedColor.Sprint("n/a")
	}
	return percent(*v)
}

func statusText(s models.Status) string {
	switch s {
	case models.StatusActive:
		return successColor.Sprint(s)
	case models.StatusTraining:
		return warningColor.Sprint(s)
	case models.StatusError:
		return errorColor.Sprint(s)
	default:
		return mutedColor.Sprint(s)
	}
}

func stateText(s models.ServiceState) string {
	if s == models.ServiceRunning {
		return successColor.Sprint(s)
	}
	return mutedColor.Sprint(s)
}

func header(w io.Writer, title string) {
	fmt.Fprintln(w, headerColor.Sprint(title))
}

func table(w io.Writer, columns ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	dashes := make([]string, len(columns))
	for i, c := range columns {
		dashes[i] = strings.Repeat("-", len(c))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))
	return tw
}

func channelList(cs []models.Channel) string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = string(c)
	}
	return strings.Join(names, ",")
}
