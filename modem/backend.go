package modem

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/linux-mobile-broadband/modemd/at"
	"github.com/linux-mobile-broadband/modemd/qmi"
	"github.com/linux-mobile-broadband/modemd/transport"
)

// defaultATInit is the init sequence issued once when an AT control port
// opens: no echo, verbose numeric equipment errors, PDU message mode.
var defaultATInit = []at.InitCommand{
	{Command: "ATE0", Timeout: 3 * time.Second},
	{Command: "AT+CMEE=1", Timeout: 3 * time.Second, Tolerate: true},
	{Command: "AT+CMGF=0", Timeout: 3 * time.Second, Tolerate: true},
}

func newATBackend(primary, secondary *Port, log zerolog.Logger) transport.Transport {
	primaryPort := at.NewPort(at.Config{
		Name:      primary.Name,
		Device:    primary.Device,
		SendDelay: 10 * time.Millisecond,
		Init:      defaultATInit,
		Logger:    log,
	})
	var secondaryPort *at.Port
	if secondary != nil {
		secondaryPort = at.NewPort(at.Config{
			Name:      secondary.Name,
			Device:    secondary.Device,
			SendDelay: 10 * time.Millisecond,
			Logger:    log,
		})
	}
	return transport.NewAT(primaryPort, secondaryPort)
}

func newQMIBackend(control *Port, log zerolog.Logger) transport.Transport {
	port := qmi.NewPort(qmi.Config{
		Name:   control.Name,
		Device: control.Device,
		Logger: log,
	})
	return transport.NewQMI(port,
		qmi.ServiceDMS, qmi.ServiceNAS, qmi.ServiceWMS, qmi.ServiceWDS, qmi.ServicePDS)
}

// helperFromTransport installs the protocol helper matching the backend.
func (m *Modem) helperFromTransport(trans transport.Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch trans.Kind() {
	case transport.KindQMI:
		m.proto = newQMIHelper(m, trans)
	default:
		m.proto = newATHelper(m, trans)
	}
}
