package dacp

import (
	"context"
	"fmt"

	"github.com/brutella/dnssd"
)

// serviceType and the TXT record shape are reproduced exactly from the
// original handle_async_init's AsyncServiceInfo.
const serviceType = "_dacp._tcp.local."

type mdnsService struct {
	responder dnssd.Responder
}

// advertise registers the DACP control channel under
// iTunes_Ctrl_<dacp_id>._dacp._tcp.local., grounded on
// doismellburning-samoyed/src/dns_sd.go's dnssd.NewService +
// dnssd.NewResponder + rp.Add pattern.
func advertise(dacpID string, port int) (*mdnsService, error) {
	cfg := dnssd.Config{
		Name: fmt.Sprintf("iTunes_Ctrl_%s", dacpID),
		Type: serviceType,
		Port: port,
		Text: map[string]string{
			"txtvers": "1",
			"Ver":     "131075",
			"DbId":    dacpID,
			"OSsi":    "0x1F6",
		},
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, fmt.Errorf("dacp: creating mdns service: %w", err)
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("dacp: creating mdns responder: %w", err)
	}
	if _, err := responder.Add(service); err != nil {
		return nil, fmt.Errorf("dacp: registering mdns service: %w", err)
	}

	return &mdnsService{responder: responder}, nil
}

func (m *mdnsService) respond(ctx context.Context) error {
	return m.responder.Respond(ctx)
}
