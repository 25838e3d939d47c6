// Package notify pushes check verdicts to ntfy and Pushover.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jandubois/omnicube-probe/internal/probe"
)

const sendTimeout = 10 * time.Second

// Channel is a notification channel.
type Channel interface {
	Send(ctx context.Context, msg *Message) error
	Type() string
}

// Message is one verdict as handed to the channels. Each channel derives its
// own urgency from Status.
type Message struct {
	Title     string
	Body      string
	Status    probe.Status
	Appliance string
}

// FormatResult creates a notification message for the verdict of check on
// appliance.
func FormatResult(check, appliance string, result *probe.Result) *Message {
	title := fmt.Sprintf("[%s] %s", result.Status.Label(), check)
	if appliance != "" {
		title += " on " + appliance
	}
	return &Message{
		Title:     title,
		Body:      result.Message,
		Status:    result.Status,
		Appliance: appliance,
	}
}

// post delivers one prepared request and maps a rejected delivery to an error
// naming service.
func post(client *http.Client, service string, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", service, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s rejected notification: status %d", service, resp.StatusCode)
	}
	return nil
}
