package transport

import (
	"context"
	"fmt"

	"github.com/nhle/outreach/internal/model"
)

// New builds the transport selected in cfg, bounded by the configured
// send timeout.
func New(ctx context.Context, cfg *model.AppConfig) (Transport, error) {
	var t Transport
	switch cfg.Transport.Provider {
	case "", "smtp":
		t = NewSMTP(cfg.SMTP, cfg.Account)
	case "ses":
		ses, err := NewSES(ctx, cfg.SES)
		if err != nil {
			return nil, err
		}
		t = ses
	default:
		return nil, &model.ConfigError{
			Field:   "transport.provider",
			Message: fmt.Sprintf("unknown provider %q", cfg.Transport.Provider),
		}
	}
	return WithTimeout(t, cfg.SMTP.Timeout), nil
}
