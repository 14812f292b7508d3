package notify

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type SMSConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

func (c SMSConfig) Complete() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != "" && c.To != ""
}

type messageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMS sends a text only alert through Twilio.
type SMS struct {
	cfg SMSConfig
	api messageAPI
}

func NewSMS(cfg SMSConfig) *SMS {
	s := &SMS{cfg: cfg}
	if cfg.Complete() {
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		})
		s.api = client.Api
	}
	return s
}

func (s *SMS) Name() string { return "sms" }

func (s *SMS) Configured() bool { return s.cfg.Complete() && s.api != nil }

func (s *SMS) Send(ctx context.Context, sg Sighting) error {
	if !s.Configured() {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(s.cfg.To)
	params.SetFrom(s.cfg.From)
	params.SetBody(sg.Text())

	if _, err := s.api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}
	return nil
}
