package modem

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/linux-mobile-broadband/modemd/at"
	"github.com/linux-mobile-broadband/modemd/core"
	"github.com/linux-mobile-broadband/modemd/qmi"
	"github.com/linux-mobile-broadband/modemd/pdu"
	"github.com/linux-mobile-broadband/modemd/transport"
)

func hexOf(octets []byte) string {
	return pdu.HexString(octets)
}

func timeoutC(t *testing.T) <-chan time.Time {
	t.Helper()
	return time.After(2 * time.Second)
}

// mockTransport is a scripted Transport covering both backend kinds.
type mockTransport struct {
	kind transport.Kind

	mu      sync.Mutex
	open    bool
	sent    []string
	replies map[string]string
	errs    map[string]error

	qmiReplies map[string]qmi.TLVs
	qmiErrs    map[string]error

	urcs []struct {
		pattern string
		re      *regexp.Regexp
		fn      at.URCFunc
	}
	inds map[string][]func(qmi.TLVs)
}

func newMockAT() *mockTransport {
	return &mockTransport{
		kind:    transport.KindAT,
		replies: make(map[string]string),
		errs:    make(map[string]error),
		inds:    make(map[string][]func(qmi.TLVs)),
	}
}

func newMockQMI() *mockTransport {
	return &mockTransport{
		kind:       transport.KindQMI,
		qmiReplies: make(map[string]qmi.TLVs),
		qmiErrs:    make(map[string]error),
		inds:       make(map[string][]func(qmi.TLVs)),
	}
}

func qmiKey(service qmi.Service, msgID uint16) string {
	return fmt.Sprintf("%s/%04x", service, msgID)
}

func (t *mockTransport) reply(cmd, payload string) {
	t.mu.Lock()
	t.replies[cmd] = payload
	t.mu.Unlock()
}

func (t *mockTransport) fail(cmd string, err error) {
	t.mu.Lock()
	t.errs[cmd] = err
	t.mu.Unlock()
}

func (t *mockTransport) qmiReply(service qmi.Service, msgID uint16, tlvs qmi.TLVs) {
	t.mu.Lock()
	t.qmiReplies[qmiKey(service, msgID)] = tlvs
	t.mu.Unlock()
}

func (t *mockTransport) qmiFail(service qmi.Service, msgID uint16, err error) {
	t.mu.Lock()
	t.qmiErrs[qmiKey(service, msgID)] = err
	t.mu.Unlock()
}

func (t *mockTransport) sentCommands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *mockTransport) inject(line string) {
	t.mu.Lock()
	handlers := t.urcs
	t.mu.Unlock()
	for _, h := range handlers {
		if groups := h.re.FindStringSubmatch(line); groups != nil {
			h.fn(groups)
			return
		}
	}
}

func (t *mockTransport) injectIndication(service qmi.Service, msgID uint16, tlvs qmi.TLVs) {
	t.mu.Lock()
	fns := append([]func(qmi.TLVs){}, t.inds[qmiKey(service, msgID)]...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn(tlvs)
	}
}

func (t *mockTransport) Kind() transport.Kind { return t.kind }

func (t *mockTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *mockTransport) Open() error {
	t.mu.Lock()
	t.open = true
	t.mu.Unlock()
	return nil
}

func (t *mockTransport) Close() error {
	t.mu.Lock()
	t.open = false
	t.mu.Unlock()
	return nil
}

func (t *mockTransport) Command(ctx context.Context, cmd string, timeout time.Duration, cacheable bool) (string, error) {
	if t.kind != transport.KindAT {
		return "", core.New(core.KindUnsupported, "AT command on a QMI transport")
	}
	t.mu.Lock()
	t.sent = append(t.sent, cmd)
	err := t.errs[cmd]
	reply := t.replies[cmd]
	t.mu.Unlock()
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (t *mockTransport) Invoke(ctx context.Context, service qmi.Service, msgID uint16, in qmi.TLVs, timeout time.Duration) (qmi.TLVs, error) {
	if t.kind != transport.KindQMI {
		return nil, core.New(core.KindUnsupported, "QMI invoke on an AT transport")
	}
	key := qmiKey(service, msgID)
	t.mu.Lock()
	t.sent = append(t.sent, key)
	err := t.qmiErrs[key]
	reply := t.qmiReplies[key]
	t.mu.Unlock()
	return reply, err
}

func (t *mockTransport) SubscribeUnsolicited(pattern string, fn at.URCFunc) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.urcs = append(t.urcs, struct {
		pattern string
		re      *regexp.Regexp
		fn      at.URCFunc
	}{pattern, re, fn})
	t.mu.Unlock()
	return nil
}

func (t *mockTransport) UnsubscribeUnsolicited(pattern string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, h := range t.urcs {
		if h.pattern == pattern {
			t.urcs = append(t.urcs[:i], t.urcs[i+1:]...)
			return
		}
	}
}

func (t *mockTransport) SubscribeIndication(service qmi.Service, msgID uint16, fn func(qmi.TLVs)) {
	key := qmiKey(service, msgID)
	t.mu.Lock()
	t.inds[key] = append(t.inds[key], fn)
	t.mu.Unlock()
}

func (t *mockTransport) UnsubscribeIndication(service qmi.Service, msgID uint16) {
	t.mu.Lock()
	delete(t.inds, qmiKey(service, msgID))
	t.mu.Unlock()
}

func (t *mockTransport) FlushCache() {}

// scriptQMIInit loads the mock with the replies of a healthy QMI modem.
func scriptQMIInit(mock *mockTransport) {
	mock.qmiReply(qmi.ServiceDMS, qmi.DmsGetCapabilities, qmi.TLVs{
		{Type: 0x01, Value: []byte{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 2, 5, 8}},
	})
	mock.qmiReply(qmi.ServiceDMS, qmi.DmsGetManufacturer,
		qmi.TLVs{}.AppendString(0x01, "QUALCOMM INCORPORATED"))
	mock.qmiReply(qmi.ServiceDMS, qmi.DmsGetModel,
		qmi.TLVs{}.AppendString(0x01, "QUECTEL Mobile Broadband Module"))
	mock.qmiReply(qmi.ServiceDMS, qmi.DmsGetRevision,
		qmi.TLVs{}.AppendString(0x01, "EC21EFAR06A01M4G"))
	mock.qmiReply(qmi.ServiceDMS, qmi.DmsGetIDs,
		qmi.TLVs{}.AppendString(0x11, "867698040000001"))
	mock.qmiReply(qmi.ServiceDMS, qmi.DmsUimGetIccid,
		qmi.TLVs{}.AppendString(0x01, "89014103211118510720"))
	mock.qmiReply(qmi.ServiceDMS, qmi.DmsUimGetPinStatus, qmi.TLVs{
		{Type: 0x11, Value: []byte{3, 3, 10}},
		{Type: 0x12, Value: []byte{3, 3, 10}},
	})
	mock.qmiReply(qmi.ServiceDMS, qmi.DmsUimGetImsi,
		qmi.TLVs{}.AppendString(0x01, "310410123456789"))
	mock.qmiReply(qmi.ServiceDMS, qmi.DmsGetBandCapabilities, qmi.TLVs{
		{Type: 0x01, Value: []byte{0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}},
	})
	mock.qmiReply(qmi.ServiceNAS, qmi.NasGetRFBandInformation, qmi.TLVs{
		{Type: 0x01, Value: []byte{1, 8, 13, 0, 0, 0}},
	})
	plmn := []byte{0x36, 0x01, 0x9A, 0x01, 3, 'A', 'T', 'T'}
	mock.qmiReply(qmi.ServiceNAS, qmi.NasGetServingSystem, qmi.TLVs{
		{Type: 0x01, Value: []byte{1, 1, 1, 0, 1, 8}},
		{Type: 0x10, Value: []byte{0}},
		{Type: 0x12, Value: plmn},
	})
	mock.qmiReply(qmi.ServiceWMS, qmi.WmsListMessages, qmi.TLVs{
		{Type: 0x01, Value: []byte{0, 0, 0, 0}},
	})
	mock.qmiReply(qmi.ServiceNAS, qmi.NasGetSignalStrength, qmi.TLVs{
		{Type: 0x01, Value: []byte{0xB7, 8}},
	})
}

// scriptEnableAT loads the mock with the replies of a healthy LTE modem.
func scriptEnableAT(mock *mockTransport) {
	mock.reply("AT+GCAP", "+GCAP: +CGSM")
	mock.reply("AT+WS46=?", "+WS46: (12,22,25,28,29)")
	mock.reply("AT+GMI", "Altair Semiconductor")
	mock.reply("AT+GMM", "ALT3100")
	mock.reply("AT+GMR", "ALT3100_04_05_06")
	mock.reply("AT+GSN", "861001001234567")
	mock.reply("AT+CPIN?", "+CPIN: READY")
	mock.reply("AT+CCID", "+CCID: 89014103211118510720")
	mock.reply("AT+CIMI", "310410123456789")
	mock.reply("AT%BANDCAP=", "%BANDCAP: 4,13")
	mock.reply(`AT%GETCFG="BAND"`, "Bands: 13")
	mock.reply("AT%CPININFO", "%CPININFO: 3,10,3,10")
	mock.reply("ATI", "ALT3100")
	mock.reply("ATI1", "ALT3100_04_05_06")
	mock.reply("AT+COPS?", `+COPS: 0,2,"310410"`)
	mock.reply("AT+CREG?", "+CREG: 0,1")
	mock.reply("AT+CGREG?", "+CGREG: 0,1")
	mock.reply("AT+CEREG?", "+CEREG: 0,1")
	mock.reply("AT+CSQ", "+CSQ: 20,99")
	mock.reply("AT+CMGL=4", "")
}
