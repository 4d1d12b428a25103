/*
Package notify delivers issuance codes to clients.

PURPOSE:
  The ledger hands every new or resent code to a bags.Notifier after the
  issue is committed. Delivery itself (email, SMS) belongs to another
  service; these notifiers get the message to it.

IMPLEMENTATIONS:
  Log:   Writes the message to the log. Development only, it prints the code.
  HTTP:  POSTs the message as JSON to a webhook
  AMQP:  Publishes the message to a durable RabbitMQ queue

SEE ALSO:
  - bags/collaborators.go: Notifier contract and message shape
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
)

// =============================================================================
// LOG NOTIFIER
// =============================================================================

type Log struct {
	log *zap.Logger
}

var _ bags.Notifier = (*Log)(nil)

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

func (n *Log) SendIssuanceCode(_ context.Context, msg bags.IssuanceCode) error {
	n.log.Info("issuance code",
		zap.String("issue_id", msg.IssueID),
		zap.String("client_email", msg.ClientEmail),
		zap.Int("number_of_bags", msg.NumberOfBags),
		zap.String("otp_code", msg.Code),
		zap.Time("expires_at", msg.ExpiresAt))
	return nil
}

// =============================================================================
// HTTP NOTIFIER
// =============================================================================

type HTTP struct {
	client *resty.Client
	url    string
}

var _ bags.Notifier = (*HTTP)(nil)

func NewHTTP(url string, timeout time.Duration) *HTTP {
	return &HTTP{
		client: resty.New().SetTimeout(timeout),
		url:    url,
	}
}

func (n *HTTP) SendIssuanceCode(ctx context.Context, msg bags.IssuanceCode) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("notify %s: %w", msg.IssueID, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return nil
	default:
		return fmt.Errorf("notify %s: status %d", msg.IssueID, resp.StatusCode())
	}
}
