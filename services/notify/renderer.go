package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"stock_alerts_backend/models"
)

// RenderedMessage is a subject with plain text and HTML bodies
type RenderedMessage struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

// NotificationData is what a template sees
type NotificationData struct {
	Ticker    string
	EventType string
	Headline  string
	Details   []Detail
}

// Detail is one key/value line of the event details
type Detail struct {
	Key   string
	Value string
}

type eventTemplate struct {
	subject  string // %s = ticker
	headline string // %s = ticker
}

var eventTemplates = map[string]eventTemplate{
	models.EventHedgeFundBuy: {
		subject:  "Hedge Fund Alert: New position in %s",
		headline: "A tracked hedge fund has bought %s.",
	},
	models.EventHedgeFundSell: {
		subject:  "Hedge Fund Alert: Position reduced in %s",
		headline: "A tracked hedge fund has sold %s.",
	},
	models.EventInvestorMention: {
		subject:  "Investor Mention: %s",
		headline: "A notable investor has mentioned %s.",
	},
	models.EventPoliticianBuy: {
		subject:  "Politician Trade Alert: Purchase of %s",
		headline: "A politician has disclosed a purchase of %s.",
	},
	models.EventPoliticianSell: {
		subject:  "Politician Trade Alert: Sale of %s",
		headline: "A politician has disclosed a sale of %s.",
	},
}

// Renderer turns an event into a message. Output depends only on its inputs.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer creates a renderer with the default email template
func NewRenderer() *Renderer {
	return &Renderer{tmpl: template.Must(template.New("email").Parse(emailHTMLTemplate))}
}

// Render builds the message for eventType; unknown types use a generic template
func (r *Renderer) Render(ticker, eventType string, details map[string]interface{}) (*RenderedMessage, error) {
	tpl, ok := eventTemplates[eventType]
	if !ok {
		// event types are caller input; escape their % before Sprintf
		label := strings.ReplaceAll(humanize(eventType), "%", "%%")
		tpl = eventTemplate{
			subject:  "Stock Alert: %s - " + label,
			headline: "New " + strings.ToLower(label) + " event for %s.",
		}
	}

	data := NotificationData{
		Ticker:    ticker,
		EventType: eventType,
		Headline:  fmt.Sprintf(tpl.headline, ticker),
		Details:   sortedDetails(details),
	}

	var htmlBuf bytes.Buffer
	if err := r.tmpl.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}

	return &RenderedMessage{
		Subject: fmt.Sprintf(tpl.subject, ticker),
		Text:    renderPlainText(data),
		HTML:    htmlBuf.String(),
	}, nil
}

func renderPlainText(data NotificationData) string {
	var sb strings.Builder
	sb.WriteString(data.Headline + "\n")
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")
	sb.WriteString(fmt.Sprintf("Ticker: %s\n", data.Ticker))
	sb.WriteString(fmt.Sprintf("Event: %s\n", data.EventType))
	if len(data.Details) > 0 {
		sb.WriteString("\nDETAILS\n")
		sb.WriteString(strings.Repeat("-", 20) + "\n")
		for _, d := range data.Details {
			sb.WriteString(fmt.Sprintf("%s: %s\n", d.Key, d.Value))
		}
	}
	return sb.String()
}

// sortedDetails flattens details in key order so output is stable
func sortedDetails(details map[string]interface{}) []Detail {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Detail, 0, len(keys))
	for _, k := range keys {
		out = append(out, Detail{Key: humanize(k), Value: fmt.Sprint(details[k])})
	}
	return out
}

// humanize turns snake_case into Title Case
func humanize(s string) string {
	parts := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	if len(parts) == 0 {
		return "Event"
	}
	return strings.Join(parts, " ")
}

const emailHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8" />
  <title>{{.Ticker}} alert</title>
  <style>
    body { margin: 0; padding: 24px; background-color: #f3f4f6; font-family: -apple-system, "Segoe UI", Roboto, sans-serif; color: #111827; }
    .container { max-width: 640px; margin: 0 auto; background: #ffffff; border-radius: 8px; border: 1px solid #e5e7eb; }
    .header { padding: 20px 24px; background: #1f2937; color: #ffffff; }
    .ticker { font-size: 24px; font-weight: 700; letter-spacing: 0.05em; }
    .content { padding: 20px 24px; }
    td { padding: 4px 12px 4px 0; vertical-align: top; }
    td.key { color: #6b7280; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <div class="ticker">{{.Ticker}}</div>
      <div>{{.Headline}}</div>
    </div>
    <div class="content">
      {{if .Details}}
      <table>
        {{range .Details}}<tr><td class="key">{{.Key}}</td><td>{{.Value}}</td></tr>
        {{end}}
      </table>
      {{end}}
    </div>
  </div>
</body>
</html>
`
