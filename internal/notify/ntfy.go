package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jandubois/omnicube-probe/internal/probe"
)

const defaultNtfyServer = "https://ntfy.sh"

// NtfyConfig configures an ntfy channel. The channel is enabled when Topic is set.
type NtfyConfig struct {
	ServerURL string `mapstructure:"server_url" yaml:"server_url,omitempty"`
	Topic     string `mapstructure:"topic"      yaml:"topic,omitempty"`
	Token     string `mapstructure:"token"      yaml:"token,omitempty"`
}

// NtfyChannel publishes verdicts to a topic on ntfy.sh or a self-hosted server.
type NtfyChannel struct {
	cfg    NtfyConfig
	client *http.Client
}

// ntfyPublish is the JSON body accepted at the server root.
type ntfyPublish struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags,omitempty"`
}

func NewNtfyChannel(cfg NtfyConfig) *NtfyChannel {
	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultNtfyServer
	}
	cfg.ServerURL = strings.TrimSuffix(cfg.ServerURL, "/")
	return &NtfyChannel{cfg: cfg, client: &http.Client{Timeout: sendTimeout}}
}

func (n *NtfyChannel) Type() string { return "ntfy" }

// ntfyPriority maps a verdict onto ntfy's 1 (min) to 5 (max) scale. Failed
// backups page; an unusable appliance is only slightly less urgent.
func ntfyPriority(s probe.Status) int {
	switch s {
	case probe.StatusCritical:
		return 5
	case probe.StatusUnknown:
		return 4
	case probe.StatusWarning:
		return 3
	default:
		return 2
	}
}

// ntfyTags returns the emoji shortcode ntfy renders in front of the title,
// followed by plain tags for filtering.
func ntfyTags(msg *Message) []string {
	var emoji string
	switch msg.Status {
	case probe.StatusCritical:
		emoji = "rotating_light"
	case probe.StatusUnknown:
		emoji = "grey_question"
	case probe.StatusWarning:
		emoji = "warning"
	default:
		emoji = "white_check_mark"
	}
	tags := []string{emoji, "omnicube", string(msg.Status)}
	if msg.Appliance != "" {
		tags = append(tags, msg.Appliance)
	}
	return tags
}

// Send publishes msg as JSON to the server root, which routes it by topic.
func (n *NtfyChannel) Send(ctx context.Context, msg *Message) error {
	body, err := json.Marshal(ntfyPublish{
		Topic:    n.cfg.Topic,
		Title:    msg.Title,
		Message:  msg.Body,
		Priority: ntfyPriority(msg.Status),
		Tags:     ntfyTags(msg),
	})
	if err != nil {
		return fmt.Errorf("encode ntfy message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.ServerURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ntfy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.cfg.Token)
	}
	return post(n.client, "ntfy", req)
}
