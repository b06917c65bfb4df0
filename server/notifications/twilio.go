package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Twilio sends SMS messages through the Twilio Messages API
type Twilio struct {
	client *twilio.RestClient
	from   string
	to     string
}

func NewTwilio(accountSID, authToken, from, to string) *Twilio {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	client.SetTimeout(15 * time.Second)
	return &Twilio{
		client: client,
		from:   from,
		to:     to,
	}
}

// The Twilio client does not accept a context, so ctx is only checked before sending
func (t *Twilio) Send(ctx context.Context, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(t.to)
	params.SetFrom(t.from)
	params.SetBody(body)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("Twilio: %w", err)
	}
	if resp.Sid == nil {
		return "", errors.New("Twilio: response has no message SID")
	}
	return *resp.Sid, nil
}
