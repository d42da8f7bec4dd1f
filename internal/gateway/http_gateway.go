package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/messaging-crm/backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPGateway talks to the external WhatsApp session API. Other channel
// kinds are rejected with ErrUnsupportedChannel.
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger

	// One limiter per session protects the shared channel session from
	// bursts across campaigns; pacing within a campaign is the dispatch
	// loop's job.
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewHTTPGateway(baseURL string, sendsPerSecond float64, log *zap.Logger) *HTTPGateway {
	if sendsPerSecond <= 0 {
		sendsPerSecond = 1
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log:      log,
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(sendsPerSecond),
		burst:    1,
	}
}

func (g *HTTPGateway) limiter(sessionID string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.limiters[sessionID]
	if !ok {
		lim = rate.NewLimiter(g.rps, g.burst)
		g.limiters[sessionID] = lim
	}
	return lim
}

type sendTextRequest struct {
	Number string `json:"number"`
	Body   string `json:"body"`
}

type sendMediaRequest struct {
	Number    string  `json:"number"`
	MediaKind string  `json:"media_kind"` // image / audio / document
	MediaURL  string  `json:"media_url"`
	Caption   *string `json:"caption,omitempty"`
}

type sendResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (g *HTTPGateway) Send(ctx context.Context, req SendRequest) (Outcome, error) {
	if req.Channel != models.ChannelWhatsApp {
		return Outcome{}, unsupported(req.Channel)
	}

	if err := g.limiter(req.SessionID).Wait(ctx); err != nil {
		return Outcome{}, err
	}

	var (
		endpoint string
		payload  any
	)
	switch req.ContentKind {
	case models.ContentKindText:
		endpoint = fmt.Sprintf("%s/sessions/%s/send-text", g.baseURL, req.SessionID)
		payload = sendTextRequest{Number: req.Number, Body: flattenHTML(req.Body)}
	case models.ContentKindImage, models.ContentKindAudio, models.ContentKindDocument:
		endpoint = fmt.Sprintf("%s/sessions/%s/send-media", g.baseURL, req.SessionID)
		payload = sendMediaRequest{Number: req.Number, MediaKind: req.ContentKind, MediaURL: req.Body, Caption: req.Caption}
	default:
		return Outcome{}, fmt.Errorf("unknown content kind %q", req.ContentKind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		// Transport problems (timeouts, connection refused) are expected
		// per-recipient failures, not loop-halting faults.
		return Failure(fmt.Sprintf("gateway unreachable: %v", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Failure(fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))), nil
	}

	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Failure(fmt.Sprintf("unreadable gateway response: %v", err)), nil
	}
	if result.Status != "sent" {
		return Failure(result.Detail), nil
	}
	return Success(result.Detail), nil
}

// flattenHTML converts rich-text message bodies from the campaign editor to
// the plain text WhatsApp expects. Non-HTML bodies pass through untouched.
func flattenHTML(body string) string {
	if !strings.Contains(body, "<") {
		return body
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}
	doc.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml("\n")
	})
	doc.Find("p, div").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	text := doc.Text()
	if strings.TrimSpace(text) == "" {
		return body
	}
	return strings.TrimSpace(text)
}
