package report

import (
	"encoding/json"
	"html/template"
	"io"
	"sort"
	"time"

	"github.com/McLaouth/cloudsplaining/pkg/scan"
)

// htmlData holds data for the triage template.
type htmlData struct {
	GeneratedAt    string
	ToolVersion    string
	AccountID      string
	CatalogVersion string
	Total          int
	Active         int
	Critical       int
	Suppressed     int
	PoliciesTotal  int
	Findings       []scan.RiskFinding
	SuppressedList []scan.RiskFinding

	// Chart data, JSON-encoded so script injection stays inert.
	ChartLabelsJSON template.JS
	ChartValuesJSON template.JS
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Cloudsplaining // IAM Risk Triage</title>
    <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
    <link href="https://fonts.googleapis.com/css2?family=Outfit:wght@300;400;600;700&family=JetBrains+Mono:wght@400;700&display=swap" rel="stylesheet">
    <style>
        :root {
            --bg-deep: #030712;
            --bg-glass: rgba(17, 24, 39, 0.7);
            --border-glass: rgba(255, 255, 255, 0.08);
            --text-primary: #f8fafc;
            --text-secondary: #94a3b8;
            --accent-glow: #3b82f6;
            --danger-glow: #ef4444;
            --font-sans: 'Outfit', sans-serif;
            --font-mono: 'JetBrains Mono', monospace;
        }
        body {
            background-color: var(--bg-deep);
            background-image:
                radial-gradient(at 0% 0%, rgba(59, 130, 246, 0.15) 0px, transparent 50%),
                radial-gradient(at 100% 0%, rgba(239, 68, 68, 0.1) 0px, transparent 50%);
            color: var(--text-primary);
            font-family: var(--font-sans);
            margin: 0;
            padding: 3rem;
            min-height: 100vh;
        }
        .glass-panel {
            background: var(--bg-glass);
            backdrop-filter: blur(24px);
            border: 1px solid var(--border-glass);
            border-radius: 1.5rem;
            box-shadow: 0 25px 50px -12px rgba(0, 0, 0, 0.5);
        }
        .container { max-width: 1400px; margin: 0 auto; }
        header {
            display: flex;
            justify-content: space-between;
            align-items: center;
            margin-bottom: 4rem;
            padding-bottom: 2rem;
            border-bottom: 1px solid var(--border-glass);
        }
        h1 {
            font-size: 3rem;
            font-weight: 700;
            letter-spacing: -0.05em;
            margin: 0;
            background: linear-gradient(135deg, #fff 0%, #94a3b8 100%);
            -webkit-background-clip: text;
            -webkit-text-fill-color: transparent;
        }
        .meta-tag {
            font-family: var(--font-mono);
            font-size: 0.875rem;
            color: var(--accent-glow);
            text-transform: uppercase;
            letter-spacing: 0.1em;
            background: rgba(59, 130, 246, 0.1);
            padding: 0.5rem 1rem;
            border-radius: 99px;
            border: 1px solid rgba(59, 130, 246, 0.2);
        }
        .kpi-grid {
            display: grid;
            grid-template-columns: repeat(4, 1fr);
            gap: 1.5rem;
            margin-bottom: 3rem;
        }
        .kpi-card { padding: 2rem; height: 140px; display: flex; flex-direction: column; justify-content: space-between; }
        .kpi-label {
            font-size: 0.875rem;
            color: var(--text-secondary);
            text-transform: uppercase;
            letter-spacing: 0.05em;
        }
        .kpi-value { font-size: 3rem; font-weight: 700; font-family: var(--font-mono); }
        .kpi-danger { color: #f87171; text-shadow: 0 0 20px rgba(239, 68, 68, 0.3); }
        .chart-card { padding: 2rem; min-height: 360px; margin-bottom: 3rem; }
        table { width: 100%; border-collapse: separate; border-spacing: 0; }
        th {
            text-align: left;
            padding: 1.25rem;
            font-size: 0.75rem;
            text-transform: uppercase;
            letter-spacing: 0.1em;
            color: var(--text-secondary);
            border-bottom: 1px solid var(--border-glass);
        }
        td { padding: 1.25rem; border-bottom: 1px solid var(--border-glass); vertical-align: middle; }
        tr:last-child td { border-bottom: none; }
        tr:hover td { background: rgba(255, 255, 255, 0.02); }
        .mono { font-family: var(--font-mono); font-size: 0.9rem; }
        .pill {
            display: inline-flex;
            padding: 0.25rem 0.75rem;
            border-radius: 99px;
            font-size: 0.75rem;
            font-weight: 600;
            background: rgba(255, 255, 255, 0.05);
            border: 1px solid rgba(255, 255, 255, 0.1);
        }
        .sev { font-family: var(--font-mono); font-weight: 700; text-transform: uppercase; }
        .sev-critical { color: #f87171; text-shadow: 0 0 20px rgba(239, 68, 68, 0.3); }
        .sev-high { color: #fb923c; }
        .sev-medium { color: #fbbf24; }
        .sev-low, .sev-info { color: #94a3b8; }
        .muted { color: var(--text-secondary); }
    </style>
</head>
<body>
    <div class="container">
        <header>
            <div>
                <h1>IAM Risk Triage</h1>
                <div style="margin-top: 0.5rem; color: var(--text-secondary);">
                    {{if .AccountID}}<span>Account: {{.AccountID}}</span> // {{end}}
                    <span>Generated: {{.GeneratedAt}}</span> //
                    <span>Catalog: {{.CatalogVersion}}</span>
                </div>
            </div>
            <div><span class="meta-tag">cloudsplaining {{.ToolVersion}}</span></div>
        </header>

        <div class="kpi-grid">
            <div class="glass-panel kpi-card">
                <span class="kpi-label">Active Findings</span>
                <div class="kpi-value kpi-danger">{{.Active}}</div>
            </div>
            <div class="glass-panel kpi-card">
                <span class="kpi-label">Critical</span>
                <div class="kpi-value kpi-danger">{{.Critical}}</div>
            </div>
            <div class="glass-panel kpi-card">
                <span class="kpi-label">Suppressed</span>
                <div class="kpi-value" style="color: #fff;">{{.Suppressed}}</div>
            </div>
            <div class="glass-panel kpi-card">
                <span class="kpi-label">Policies Scanned</span>
                <div class="kpi-value" style="color: #fff;">{{.PoliciesTotal}}</div>
            </div>
        </div>

        <div class="glass-panel chart-card">
            <h3 style="margin-top: 0;">Findings by Risk Category</h3>
            <div style="height: 280px;"><canvas id="categoryChart"></canvas></div>
        </div>

        <div class="glass-panel" style="overflow: hidden;">
            <div style="padding: 2rem; border-bottom: 1px solid var(--border-glass);">
                <h2 style="margin: 0; font-size: 1.5rem;">Findings</h2>
            </div>
            <table>
                <thead>
                    <tr>
                        <th width="25%">Policy</th>
                        <th width="15%">Principal</th>
                        <th width="20%">Action</th>
                        <th width="15%">Category</th>
                        <th width="10%">Severity</th>
                        <th width="15%">Resources</th>
                    </tr>
                </thead>
                <tbody>
                    {{range .Findings}}
                    <tr>
                        <td><div class="mono">{{.PolicyName}}</div><div class="muted" style="font-size: 0.75rem;">{{.PolicyID}}</div></td>
                        <td>{{if .PrincipalName}}<span class="pill">{{.PrincipalType}}: {{.PrincipalName}}</span>{{else}}<span class="muted">-</span>{{end}}</td>
                        <td class="mono">{{.Action}}</td>
                        <td><span class="pill">{{.Category}}</span></td>
                        <td><span class="sev sev-{{.Severity}}">{{.Severity}}</span></td>
                        <td class="muted mono" style="font-size: 0.75rem;">{{range .Resources}}{{.}}<br>{{end}}</td>
                    </tr>
                    {{else}}
                    <tr><td colspan="6" style="text-align: center; padding: 4rem;" class="muted">NO ACTIVE FINDINGS.</td></tr>
                    {{end}}
                </tbody>
            </table>
        </div>

        {{if .SuppressedList}}
        <div class="glass-panel" style="overflow: hidden; margin-top: 3rem;">
            <div style="padding: 2rem; border-bottom: 1px solid var(--border-glass);">
                <h2 style="margin: 0; font-size: 1.5rem;" class="muted">Suppressed</h2>
            </div>
            <table>
                <tbody>
                    {{range .SuppressedList}}
                    <tr>
                        <td class="mono muted">{{.PolicyName}}</td>
                        <td class="mono muted">{{.Action}}</td>
                        <td class="muted"><span class="pill">{{.Category}}</span></td>
                        <td class="muted">by {{.SuppressedBy}}</td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
        </div>
        {{end}}
    </div>

    <script>
        const labels = {{.ChartLabelsJSON}};
        const values = {{.ChartValuesJSON}};

        Chart.defaults.font.family = "'JetBrains Mono', monospace";
        Chart.defaults.color = 'rgba(148, 163, 184, 0.8)';

        new Chart(document.getElementById('categoryChart').getContext('2d'), {
            type: 'bar',
            data: {
                labels: labels,
                datasets: [{
                    label: 'Findings',
                    data: values,
                    backgroundColor: 'rgba(239, 68, 68, 0.35)',
                    borderColor: '#ef4444',
                    borderWidth: 2,
                    borderRadius: 4
                }]
            },
            options: {
                responsive: true,
                maintainAspectRatio: false,
                plugins: { legend: { display: false } },
                scales: {
                    y: { grid: { color: 'rgba(255, 255, 255, 0.05)' }, ticks: { precision: 0 } },
                    x: { grid: { display: false } }
                }
            }
        });
    </script>
</body>
</html>
`

var triageTemplate = template.Must(template.New("triage").Parse(htmlTemplate))

// WriteHTML renders the standalone triage page.
func (r *Report) WriteHTML(w io.Writer) error {
	summary := r.Summarize()

	data := htmlData{
		GeneratedAt:    r.GeneratedAt.Format(time.RFC822),
		ToolVersion:    r.ToolVersion,
		AccountID:      r.AccountID,
		CatalogVersion: r.CatalogVersion,
		Total:          summary.Total,
		Active:         summary.Active,
		Critical:       summary.BySeverity[scan.SeverityCritical.String()],
		Suppressed:     summary.Suppressed,
		PoliciesTotal:  r.PoliciesTotal,
	}

	for _, f := range r.Findings {
		if f.Suppressed {
			data.SuppressedList = append(data.SuppressedList, f)
		} else {
			data.Findings = append(data.Findings, f)
		}
	}
	// Highest severity first; ties keep scan order.
	sort.SliceStable(data.Findings, func(i, j int) bool {
		return data.Findings[i].Severity > data.Findings[j].Severity
	})

	counts := r.categoryCounts()
	labels := make([]string, 0, len(counts))
	values := make([]int, 0, len(counts))
	for _, c := range counts {
		labels = append(labels, c.Category)
		values = append(values, c.Count)
	}

	// json.Marshal escapes <, > and & so hostile policy names cannot break
	// out of the script block.
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return err
	}
	valuesJSON, err := json.Marshal(values)
	if err != nil {
		return err
	}
	data.ChartLabelsJSON = template.JS(labelsJSON)
	data.ChartValuesJSON = template.JS(valuesJSON)

	return triageTemplate.Execute(w, data)
}
