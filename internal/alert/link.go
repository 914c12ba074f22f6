package alert

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"alertbot/internal/storage"
	"alertbot/pkg/logx"
)

const (
	defaultValidateBase = "http://news.globalnews.com.co/Validar.aspx"
	defaultShortenerURL = "https://is.gd/create.php"

	shortenRetries = 3
	shortenDelay   = 800 * time.Millisecond
)

// LinkBuilder constructs the per-alert validation URL and shortens it.
// Shortening is best-effort: after the retry budget the long URL is used.
type LinkBuilder struct {
	ValidateBase string
	ShortenerURL string
	HTTP         *http.Client
	Retries      int
	Delay        time.Duration
	Log          logx.Logger
}

func NewLinkBuilder(log logx.Logger) *LinkBuilder {
	return &LinkBuilder{
		ValidateBase: defaultValidateBase,
		ShortenerURL: defaultShortenerURL,
		HTTP:         &http.Client{Timeout: 8 * time.Second},
		Retries:      shortenRetries,
		Delay:        shortenDelay,
		Log:          log,
	}
}

// AlertLink returns the shortened validation link for an alert.
func (lb *LinkBuilder) AlertLink(ctx context.Context, a storage.Alert) string {
	long := lb.longURL(a)
	return lb.Shorten(ctx, long)
}

func (lb *LinkBuilder) longURL(a storage.Alert) string {
	mode := "m=i"
	// Audiovisual articles get the player variant of the validation page.
	if a.ArticleType == 3 {
		mode = "m=audiovisual&lang=es"
	}
	return fmt.Sprintf("%s?n=%d&u=%d&c=%d&%s", lb.ValidateBase, a.AlertID, a.PageUserID, a.QueryID, mode)
}

// Shorten asks the shortener for a short form of longURL, retrying a few
// times before falling back to longURL itself.
func (lb *LinkBuilder) Shorten(ctx context.Context, longURL string) string {
	retries := lb.Retries
	if retries <= 0 {
		retries = 1
	}
	for i := 0; i < retries; i++ {
		short, err := lb.shortenOnce(ctx, longURL)
		if err == nil {
			return short
		}
		if i == retries-1 || lb.Delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return longURL
		case <-time.After(lb.Delay):
		}
	}
	if !lb.Log.IsZero() {
		lb.Log.Debug("link shortener unavailable; using long url")
	}
	return longURL
}

func (lb *LinkBuilder) shortenOnce(ctx context.Context, longURL string) (string, error) {
	u := lb.ShortenerURL + "?format=simple&url=" + url.QueryEscape(longURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := lb.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	short := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(short, "http") {
		return "", fmt.Errorf("shortener: unexpected response (status %d)", resp.StatusCode)
	}
	return short, nil
}
