package modem

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linux-mobile-broadband/modemd/core"
)

// atBearer drives the vendor PDN activation chain of LTE-only AT modems:
// the APN is programmed with %APNN and the default PDN brought up and down
// with %DPDNACT.
type atBearer struct {
	helper *atHelper
}

func (ab *atBearer) connect(ctx context.Context, b *Bearer) (*IPConfig, *IPConfig, error) {
	port := ab.helper.m.findPort(PortNetworkData)
	if port == nil {
		return nil, nil, core.New(core.KindTransport, "no network data port")
	}
	b.mu.Lock()
	b.dataPort = port
	b.mu.Unlock()

	apn := quoteString(b.Config().APN)
	if _, err := ab.helper.cmd(ctx, "AT%APNN="+apn, 6*time.Second); err != nil {
		return nil, nil, fmt.Errorf("set apn: %w", err)
	}
	if _, err := ab.helper.cmd(ctx, "AT%DPDNACT=1", 10*time.Second); err != nil {
		return nil, nil, fmt.Errorf("activate pdn: %w", err)
	}

	// The host runs DHCP on the data port per family as appropriate.
	return &IPConfig{Method: IPMethodDHCP}, &IPConfig{Method: IPMethodDHCP}, nil
}

func (ab *atBearer) disconnect(ctx context.Context, b *Bearer) error {
	if _, err := ab.helper.cmd(ctx, "AT%DPDNACT=0", 10*time.Second); err != nil {
		return fmt.Errorf("deactivate pdn: %w", err)
	}
	return nil
}

// quoteString wraps s in double quotes, escaping embedded quotes and
// backslashes.
func quoteString(s string) string {
	var out strings.Builder
	out.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			out.WriteByte('\\')
		}
		out.WriteByte(s[i])
	}
	out.WriteByte('"')
	return out.String()
}
