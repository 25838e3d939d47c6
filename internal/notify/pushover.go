package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jandubois/omnicube-probe/internal/probe"
)

const defaultPushoverURL = "https://api.pushover.net/1/messages.json"

// Pushover rejects longer fields.
const (
	pushoverTitleMax   = 250
	pushoverMessageMax = 1024
)

// Emergency messages repeat every pushoverRetry seconds until acknowledged or
// pushoverExpire seconds have passed.
const (
	pushoverRetry  = 60
	pushoverExpire = 3600
)

// PushoverConfig configures a Pushover channel. The channel is enabled when
// both APIToken and UserKey are set.
type PushoverConfig struct {
	APIToken string `mapstructure:"api_token" yaml:"api_token,omitempty"`
	UserKey  string `mapstructure:"user_key"  yaml:"user_key,omitempty"`
	APIURL   string `mapstructure:"api_url"   yaml:"api_url,omitempty"`
}

// PushoverChannel delivers verdicts through the Pushover messages API.
type PushoverChannel struct {
	cfg    PushoverConfig
	client *http.Client
}

func NewPushoverChannel(cfg PushoverConfig) *PushoverChannel {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultPushoverURL
	}
	return &PushoverChannel{cfg: cfg, client: &http.Client{Timeout: sendTimeout}}
}

func (p *PushoverChannel) Type() string { return "pushover" }

// pushoverPriority maps a verdict onto Pushover's -2 (silent) to 2
// (emergency) scale. Only failed backups need an acknowledgement.
func pushoverPriority(s probe.Status) int {
	switch s {
	case probe.StatusCritical:
		return 2
	case probe.StatusUnknown:
		return 1
	case probe.StatusWarning:
		return 0
	default:
		return -1
	}
}

// clip shortens s to limit runes, marking the cut with an ellipsis. Long host
// lists of a failed backup night are the usual reason.
func clip(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

// Send posts msg as a form to the messages API.
func (p *PushoverChannel) Send(ctx context.Context, msg *Message) error {
	body := msg.Body
	if body == "" {
		// The API refuses an empty message.
		body = msg.Title
	}
	priority := pushoverPriority(msg.Status)
	form := url.Values{
		"token":    {p.cfg.APIToken},
		"user":     {p.cfg.UserKey},
		"title":    {clip(msg.Title, pushoverTitleMax)},
		"message":  {clip(body, pushoverMessageMax)},
		"priority": {strconv.Itoa(priority)},
	}
	if priority == 2 {
		form.Set("retry", strconv.Itoa(pushoverRetry))
		form.Set("expire", strconv.Itoa(pushoverExpire))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("pushover request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return post(p.client, "pushover", req)
}
