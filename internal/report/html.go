package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"
)

// slowestLimit caps the slowest-checks table in the HTML report.
const slowestLimit = 10

// htmlReportTemplate renders a summary as a standalone HTML page with a
// summary card grid, a failures table, and a slowest-checks table.
const htmlReportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>grantcheck report {{.RunDate}}</title>
<style>
* { margin: 0; padding: 0; box-sizing: border-box; }
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #f5f5f5; color: #333; line-height: 1.6; }
.container { max-width: 1100px; margin: 0 auto; padding: 20px; }
.header { background: linear-gradient(135deg, #2B6CB0, #2C5282); color: white; padding: 30px; border-radius: 8px; margin-bottom: 20px; }
.header h1 { font-size: 26px; margin-bottom: 8px; }
.header .meta { font-size: 13px; opacity: 0.9; }
.summary-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(170px, 1fr)); gap: 18px; margin-bottom: 28px; }
.summary-card { background: white; border-radius: 8px; padding: 18px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
.summary-card h3 { font-size: 13px; color: #666; text-transform: uppercase; margin-bottom: 8px; }
.summary-card .value { font-size: 32px; font-weight: bold; color: #333; }
.summary-card .value.success { color: #48BB78; }
.summary-card .value.warning { color: #ED8936; }
.summary-card .value.error { color: #F56565; }
.section { background: white; border-radius: 8px; padding: 20px; margin-bottom: 20px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
.section h2 { font-size: 17px; margin-bottom: 14px; padding-bottom: 8px; border-bottom: 1px solid #eee; }
table { width: 100%; border-collapse: collapse; }
th, td { text-align: left; padding: 9px; border-bottom: 1px solid #eee; }
th { background: #f9f9f9; font-weight: 600; font-size: 12px; text-transform: uppercase; color: #666; }
td code { font-size: 11px; color: #C53030; }
.status { display: inline-block; padding: 2px 8px; border-radius: 12px; font-size: 12px; font-weight: 500; }
.status.pass { background: #C6F6D5; color: #276749; }
.status.fail { background: #FED7D7; color: #C53030; }
.status.error { background: #FED7D7; color: #822727; }
.status.skip { background: #FEEBC8; color: #C05621; }
.footer { text-align: center; color: #666; font-size: 12px; padding: 18px; }
</style>
</head>
<body>
<div class="container">
  <div class="header">
    <h1>Authorization Check Report{{if .Summary.Matrix}}: {{.Summary.Matrix}}{{end}}</h1>
    <div class="meta">
      Run {{.Summary.RunID}}<br>
      Started: {{.Summary.Started.Format "2006-01-02 15:04:05 MST"}} &middot; Duration: {{seconds .Summary.DurationMS}}
    </div>
  </div>

  <div class="summary-grid">
    <div class="summary-card">
      <h3>Total Checks</h3>
      <div class="value">{{.Summary.Total}}</div>
    </div>
    <div class="summary-card">
      <h3>Pass Rate</h3>
      <div class="value {{rateClass .Summary.PassRate}}">{{printf "%.1f" .Summary.PassRate}}%</div>
    </div>
    <div class="summary-card">
      <h3>Failed</h3>
      <div class="value{{if gt .Summary.Failed 0}} error{{end}}">{{.Summary.Failed}}</div>
    </div>
    <div class="summary-card">
      <h3>Errored</h3>
      <div class="value{{if gt .Summary.Errored 0}} error{{end}}">{{.Summary.Errored}}</div>
    </div>
    <div class="summary-card">
      <h3>Skipped</h3>
      <div class="value">{{.Summary.Skipped}}</div>
    </div>
  </div>

{{if .Failures}}
  <div class="section">
    <h2>Failed Checks ({{len .Failures}})</h2>
    <table>
      <thead>
        <tr><th>Identity</th><th>Tool</th><th>Expected</th><th>Observed</th><th>Status</th><th>Error</th></tr>
      </thead>
      <tbody>
{{range .Failures}}        <tr>
          <td>{{.Identity}}</td>
          <td>{{.Tool}}</td>
          <td>{{.Expected}}</td>
          <td>{{.Observed}}</td>
          <td><span class="status {{.Status}}">{{.Status}}</span></td>
          <td><code>{{truncate .Error}}</code></td>
        </tr>
{{end}}      </tbody>
    </table>
  </div>
{{end}}

  <div class="section">
    <h2>Slowest Checks</h2>
    <table>
      <thead>
        <tr><th>Identity</th><th>Tool</th><th>Duration</th><th>Status</th></tr>
      </thead>
      <tbody>
{{range .Slowest}}        <tr>
          <td>{{.Identity}}</td>
          <td>{{.Tool}}</td>
          <td>{{seconds .DurationMS}}</td>
          <td><span class="status {{.Status}}">{{.Status}}</span></td>
        </tr>
{{end}}      </tbody>
    </table>
  </div>

  <div class="footer">
    <p>Generated by grantcheck</p>
  </div>
</div>
</body>
</html>
`

// htmlReportTmpl is parsed once at package initialization.
var htmlReportTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"seconds": func(ms int64) string {
		return fmt.Sprintf("%.2fs", float64(ms)/1000)
	},
	"rateClass": func(rate float64) string {
		switch {
		case rate >= 70:
			return "success"
		case rate >= 50:
			return "warning"
		default:
			return "error"
		}
	},
	"truncate": func(s string) string {
		if s == "" {
			return "N/A"
		}
		if len(s) > 100 {
			return s[:100] + "…"
		}
		return s
	},
}).Parse(htmlReportTemplate))

// htmlReportData is the template input for one rendered summary.
type htmlReportData struct {
	Summary  *Summary
	RunDate  string
	Failures []CheckRecord
	Slowest  []CheckRecord
}

// RenderHTML renders the summary as a standalone HTML page.
func RenderHTML(s *Summary) ([]byte, error) {
	data := htmlReportData{
		Summary:  s,
		RunDate:  s.Started.Format(time.DateOnly),
		Failures: s.Failures(),
		Slowest:  s.Slowest(slowestLimit),
	}

	var buf bytes.Buffer
	if err := htmlReportTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteHTML renders the summary and writes it to path, creating parent
// directories as needed.
func WriteHTML(path string, s *Summary) error {
	html, err := RenderHTML(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, html, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
