package conform

import (
	"fmt"
	"os"
)

const (
	badgeGreen = "#4c1"
	badgeRed   = "#e05d44"
)

// Badge renders the report as a flat SVG badge suitable for a README or
// CI artifact listing. Width scales with the status text; the label
// segment is fixed.
func Badge(report *Report) []byte {
	status := "conformant"
	color := badgeGreen
	if !report.Passed {
		status = fmt.Sprintf("%d findings", report.FailureCount())
		color = badgeRed
	}

	const labelWidth = 62 // "parapet" at 11px plus padding
	statusWidth := 10 + 7*len(status)
	total := labelWidth + statusWidth

	return []byte(fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="20" role="img" aria-label="parapet: %s">
  <linearGradient id="s" x2="0" y2="100%%">
    <stop offset="0" stop-color="#bbb" stop-opacity=".1"/>
    <stop offset="1" stop-opacity=".1"/>
  </linearGradient>
  <rect rx="3" width="%d" height="20" fill="#555"/>
  <rect rx="3" x="%d" width="%d" height="20" fill="%s"/>
  <rect rx="3" width="%d" height="20" fill="url(#s)"/>
  <g fill="#fff" text-anchor="middle" font-family="Verdana,Geneva,DejaVu Sans,sans-serif" font-size="11">
    <text x="%d" y="14">parapet</text>
    <text x="%d" y="14">%s</text>
  </g>
</svg>
`, total, status, total, labelWidth, statusWidth, color, total,
		labelWidth/2, labelWidth+statusWidth/2, status))
}

// WriteBadge writes the badge artifact to path.
func WriteBadge(report *Report, path string) error {
	if err := os.WriteFile(path, Badge(report), 0o644); err != nil {
		return fmt.Errorf("write badge: %w", err)
	}
	return nil
}
