package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"
)

// Outcome is the data passed to sinks after a reconciliation. Amounts are
// already formatted in display units.
type Outcome struct {
	RunID         string `json:"run_id"`
	Status        string `json:"status"`
	Contract      string `json:"contract"`
	Asset         string `json:"asset,omitempty"`
	Symbol        string `json:"symbol"`
	Expected      string `json:"expected"`
	Logged        string `json:"logged"`
	Balance       string `json:"balance,omitempty"`
	Delta         string `json:"delta,omitempty"`
	Discrepancies int    `json:"discrepancies"`
	Error         string `json:"error,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, payload Outcome) error
}

type httpSender struct {
	url     string
	method  string
	render  *template.Template
	client  *http.Client
	headers map[string]string

	// structured adds the raw outcome next to the rendered text so
	// webhook consumers need not parse the message.
	structured bool
}

// maxErrorBody bounds how much of a failed response is quoted in errors.
const maxErrorBody = 512

// NewWebhookSender builds a generic HTTP sink. The body is
// {"text": <rendered>, "outcome": {...}}.
func NewWebhookSender(url, method, tmpl string, headers map[string]string) (Sender, error) {
	s, err := newHTTPSender(url, method, tmpl, headers)
	if err != nil {
		return nil, err
	}
	s.structured = true
	return s, nil
}

// NewSlackSender builds a Slack-compatible webhook sink.
func NewSlackSender(url, tmpl string) (Sender, error) {
	return newHTTPSender(url, http.MethodPost, tmpl, nil)
}

// NewTeamsSender builds a Teams-compatible webhook sink.
func NewTeamsSender(url, tmpl string) (Sender, error) {
	// Teams accepts simple {text: "..."} payloads.
	return newHTTPSender(url, http.MethodPost, tmpl, nil)
}

func newHTTPSender(url, method, tmpl string, headers map[string]string) (*httpSender, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	if method == "" {
		method = http.MethodPost
	}
	t, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}
	return &httpSender{
		url:     url,
		method:  strings.ToUpper(method),
		render:  t,
		client:  defaultClient(),
		headers: h,
	}, nil
}

func (s *httpSender) Send(ctx context.Context, payload Outcome) error {
	text, err := executeTemplate(s.render, payload)
	if err != nil {
		return err
	}
	body := map[string]any{"text": text}
	if s.structured {
		body["outcome"] = payload
	}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, s.method, s.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s outcome: %w", payload.Status, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if msg := strings.TrimSpace(string(snippet)); msg != "" {
			return fmt.Errorf("sink http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("sink http status %d", resp.StatusCode)
	}
	return nil
}

func parseTemplate(tmpl string) (*template.Template, error) {
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	funcs := template.FuncMap{
		"pretty_json": func(v any) string {
			out, _ := json.MarshalIndent(v, "", "  ")
			return string(out)
		},
		"short_addr": func(addr string) string {
			if len(addr) <= 10 {
				return addr
			}
			return addr[:6] + "..." + addr[len(addr)-4:]
		},
	}
	return template.New("msg").Funcs(funcs).Parse(tmpl)
}

func executeTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

func defaultClient() *http.Client {
	return &http.Client{
		Timeout: 8 * time.Second,
	}
}

