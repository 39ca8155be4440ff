package modem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/linux-mobile-broadband/modemd/at"
	"github.com/linux-mobile-broadband/modemd/core"
	"github.com/linux-mobile-broadband/modemd/pdu"
	"github.com/linux-mobile-broadband/modemd/transport"
)

// Unsolicited patterns installed on enable.
const (
	urcStatcm = `^%STATCM: (\d+)(?:,(\d+))?`
	urcCreg   = `^\+CREG: (\d+)$`
	urcCgreg  = `^\+CGREG: (\d+)$`
	urcCereg  = `^\+CEREG: (\d+)$`
	urcCmti   = `^\+CMTI: "(\w+)",(\d+)`
)

// %STATCM status codes.
const (
	statcmDeregistered = 0
	statcmRegistered   = 1
	statcmPdnConnected = 3
	statcmPdnDropped   = 4
)

// atHelper drives the generic and vendor AT command surface. It is the AT
// realization of the protoHelper contract consumed by the ladders.
type atHelper struct {
	m     *Modem
	trans transport.Transport
}

func newATHelper(m *Modem, trans transport.Transport) *atHelper {
	return &atHelper{m: m, trans: trans}
}

func (h *atHelper) cmd(ctx context.Context, command string, timeout time.Duration) (string, error) {
	return h.trans.Command(ctx, command, timeout, false)
}

func (h *atHelper) cached(ctx context.Context, command string, timeout time.Duration) (string, error) {
	return h.trans.Command(ctx, command, timeout, true)
}

// mapATError folds unsupported-style command failures into the
// unsupported kind so ladders can skip optional probes.
func mapATError(err error) error {
	if err == nil {
		return nil
	}
	if at.IsUnsupported(err) {
		return core.New(core.KindUnsupported, err.Error())
	}
	return err
}

func (h *atHelper) powerUp(ctx context.Context) error {
	_, err := h.cmd(ctx, "AT+CFUN=1", 6*time.Second)
	return mapATError(err)
}

func (h *atHelper) powerDown(ctx context.Context) error {
	_, err := h.cmd(ctx, "AT+CFUN=4", 6*time.Second)
	return mapATError(err)
}

func (h *atHelper) loadCapabilities(ctx context.Context) (Capability, error) {
	reply, err := h.cached(ctx, "AT+GCAP", 3*time.Second)
	if err != nil {
		return 0, mapATError(err)
	}
	var caps Capability
	fields := strings.TrimPrefix(strings.TrimSpace(reply), "+GCAP:")
	for _, tok := range strings.Split(fields, ",") {
		switch strings.TrimSpace(tok) {
		case "+CGSM":
			caps |= CapGsmUmts
		case "+CIS707", "+CIS707-A", "CIS707":
			caps |= CapCdmaEvdo
		}
	}
	// E-UTRAN shows up in the WS46 listing, not in GCAP.
	if reply, err := h.cached(ctx, "AT+WS46=?", 3*time.Second); err == nil {
		if strings.Contains(reply, "28") || strings.Contains(reply, "31") {
			caps |= CapLte
		}
	}
	if caps == 0 {
		caps = CapGsmUmts
	}
	return caps, nil
}

func (h *atHelper) loadIdentity(ctx context.Context) (string, string, string, string, error) {
	manufacturer, err := h.cached(ctx, "AT+GMI", 3*time.Second)
	if err != nil {
		return "", "", "", "", mapATError(err)
	}
	model, err := h.cached(ctx, "AT+GMM", 3*time.Second)
	if err != nil {
		return "", "", "", "", mapATError(err)
	}
	revision, err := h.cached(ctx, "AT+GMR", 3*time.Second)
	if err != nil {
		return "", "", "", "", mapATError(err)
	}
	imei, err := h.cached(ctx, "AT+GSN", 3*time.Second)
	if err != nil {
		return "", "", "", "", mapATError(err)
	}
	return firstLine(manufacturer), firstLine(model), firstLine(revision), firstLine(imei), nil
}

func (h *atHelper) loadSIM(ctx context.Context) (*SIM, error) {
	lock, err := h.queryLockState(ctx)
	if err != nil {
		return nil, err
	}
	sim := &SIM{lock: lock, retries: make(map[LockType]int)}

	if reply, err := h.cmd(ctx, "AT+CCID", 3*time.Second); err == nil {
		sim.iccid = strings.TrimSpace(strings.TrimPrefix(firstLine(reply), "+CCID:"))
	}
	if lock == LockNone {
		if reply, err := h.cmd(ctx, "AT+CIMI", 5*time.Second); err == nil {
			sim.imsi = firstLine(reply)
		}
	}
	return sim, nil
}

func (h *atHelper) queryLockState(ctx context.Context) (LockType, error) {
	reply, err := h.cmd(ctx, "AT+CPIN?", 5*time.Second)
	if err != nil {
		var cme *at.EquipmentError
		if errors.As(err, &cme) && cme.Code == at.CmeSimFailure {
			return LockNone, core.New(core.KindSimFailure, "modem declares the SIM unusable")
		}
		return LockNone, err
	}
	state := strings.TrimSpace(strings.TrimPrefix(firstLine(reply), "+CPIN:"))
	switch state {
	case "READY":
		return LockNone, nil
	case "SIM PIN":
		return LockPin, nil
	case "SIM PUK":
		return LockPuk, nil
	case "SIM PIN2":
		return LockPin2, nil
	case "SIM PUK2":
		return LockPuk2, nil
	case "PH-NET PIN", "PH-NET PUK":
		return LockNetworkPerso, nil
	default:
		return LockNone, core.Newf(core.KindProtocol, "unknown CPIN state %q", state)
	}
}

func (h *atHelper) loadSupportedBands(ctx context.Context) ([]string, error) {
	reply, err := h.cmd(ctx, "AT%BANDCAP=", 3*time.Second)
	if err != nil {
		return nil, mapATError(err)
	}
	return splitBands(strings.TrimPrefix(firstLine(reply), "%BANDCAP:")), nil
}

func (h *atHelper) loadCurrentBands(ctx context.Context) ([]string, error) {
	reply, err := h.cmd(ctx, `AT%GETCFG="BAND"`, 3*time.Second)
	if err != nil {
		return nil, mapATError(err)
	}
	for _, line := range strings.Split(reply, "\n") {
		if strings.HasPrefix(line, "Bands:") {
			return splitBands(strings.TrimPrefix(line, "Bands:")), nil
		}
	}
	return nil, core.New(core.KindProtocol, "no Bands line in %GETCFG reply")
}

func splitBands(s string) []string {
	var out []string
	for _, tok := range strings.Split(s, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// loadUnlockRetries parses the vendor %CPININFO report. Any line that
// scans four integers is accepted; only fewer matches produce an
// invalid-response error.
func (h *atHelper) loadUnlockRetries(ctx context.Context) (map[LockType]int, error) {
	reply, err := h.cmd(ctx, "AT%CPININFO", 3*time.Second)
	if err != nil {
		return nil, mapATError(err)
	}
	var pin1, puk1, pin2, puk2 int
	line := strings.TrimSpace(strings.TrimPrefix(firstLine(reply), "%CPININFO:"))
	n, _ := fmt.Sscanf(line, "%d,%d,%d,%d", &pin1, &puk1, &pin2, &puk2)
	if n < 4 {
		return nil, core.Newf(core.KindProtocol, "malformed %%CPININFO reply %q", line)
	}
	return map[LockType]int{
		LockPin:  pin1,
		LockPuk:  puk1,
		LockPin2: pin2,
		LockPuk2: puk2,
	}, nil
}

func (h *atHelper) deviceIDParts(ctx context.Context) (string, string) {
	ati, err := h.cached(ctx, "ATI", 3*time.Second)
	if err != nil {
		ati = ""
	}
	ati1, err := h.cached(ctx, "ATI1", 3*time.Second)
	if err != nil {
		ati1 = ""
	}
	return ati, ati1
}

func (h *atHelper) setupEvents(ctx context.Context) error {
	pairs := []struct {
		pattern string
		fn      at.URCFunc
	}{
		{urcStatcm, h.handleStatcm},
		{urcCreg, func(g []string) { h.handleCreg(DomainCS, g) }},
		{urcCgreg, func(g []string) { h.handleCreg(DomainPS, g) }},
		{urcCereg, func(g []string) { h.handleCreg(DomainEPS, g) }},
		{urcCmti, h.handleCmti},
	}
	for _, p := range pairs {
		if err := h.trans.SubscribeUnsolicited(p.pattern, p.fn); err != nil {
			return err
		}
	}
	return nil
}

func (h *atHelper) cleanupEvents(ctx context.Context) error {
	for _, pattern := range []string{urcStatcm, urcCreg, urcCgreg, urcCereg, urcCmti} {
		h.trans.UnsubscribeUnsolicited(pattern)
	}
	return nil
}

func (h *atHelper) handleStatcm(groups []string) {
	code, err := strconv.Atoi(groups[1])
	if err != nil {
		return
	}
	switch code {
	case statcmRegistered:
		h.m.reg.update(DomainEPS, RegHome, "", 0, 0)
	case statcmDeregistered:
		h.m.reg.update(DomainEPS, RegIdle, "", 0, 0)
	case statcmPdnDropped:
		h.m.reportBearerDisconnection()
	}
}

func (h *atHelper) handleCreg(domain Domain, groups []string) {
	stat, err := strconv.Atoi(groups[1])
	if err != nil {
		return
	}
	h.m.reg.update(domain, regStateFromCreg(stat), "", 0, 0)
}

func (h *atHelper) handleCmti(groups []string) {
	index, err := strconv.Atoi(groups[2])
	if err != nil {
		return
	}
	storage := StorageSIM
	if strings.EqualFold(groups[1], "ME") {
		storage = StorageME
	}
	h.m.sms.notifyNewPart(storage, index)
}

func (h *atHelper) enableModemEvents(ctx context.Context, enable bool) error {
	flag := 0
	if enable {
		flag = 1
	}
	if _, err := h.cmd(ctx, fmt.Sprintf("AT%%STATCM=%d", flag), 6*time.Second); err != nil {
		if !at.IsUnsupported(err) {
			return err
		}
	}
	for _, c := range []string{"AT+CREG=%d", "AT+CGREG=%d", "AT+CEREG=%d"} {
		if _, err := h.cmd(ctx, fmt.Sprintf(c, flag), 3*time.Second); err != nil && !at.IsUnsupported(err) {
			return err
		}
	}
	return nil
}

func (h *atHelper) loadOperator(ctx context.Context) (string, string, error) {
	if _, err := h.cmd(ctx, "AT+COPS=3,2", 6*time.Second); err != nil {
		return "", "", mapATError(err)
	}
	reply, err := h.cmd(ctx, "AT+COPS?", 6*time.Second)
	if err != nil {
		return "", "", mapATError(err)
	}
	code := parseCopsOperator(reply)

	if _, err := h.cmd(ctx, "AT+COPS=3,0", 6*time.Second); err != nil {
		return code, "", nil
	}
	reply, err = h.cmd(ctx, "AT+COPS?", 6*time.Second)
	if err != nil {
		return code, "", nil
	}
	return code, parseCopsOperator(reply), nil
}

// parseCopsOperator extracts the quoted operator field of a +COPS? reply.
func parseCopsOperator(reply string) string {
	fields := strings.Split(strings.TrimPrefix(firstLine(reply), "+COPS:"), ",")
	if len(fields) < 3 {
		return ""
	}
	return strings.Trim(strings.TrimSpace(fields[2]), `"`)
}

func (h *atHelper) runRegistrationCheck(ctx context.Context) error {
	queries := []struct {
		cmd    string
		prefix string
		domain Domain
	}{
		{"AT+CREG?", "+CREG:", DomainCS},
		{"AT+CGREG?", "+CGREG:", DomainPS},
		{"AT+CEREG?", "+CEREG:", DomainEPS},
	}
	var lastErr error
	supported := false
	for _, q := range queries {
		reply, err := h.cmd(ctx, q.cmd, 6*time.Second)
		if err != nil {
			lastErr = err
			continue
		}
		supported = true
		fields := strings.Split(strings.TrimPrefix(firstLine(reply), q.prefix), ",")
		if len(fields) < 2 {
			continue
		}
		stat, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			continue
		}
		var lac, cell uint32
		if len(fields) >= 4 {
			lac = parseHexField(fields[2])
			cell = parseHexField(fields[3])
		}
		h.m.reg.update(q.domain, regStateFromCreg(stat), "", lac, cell)
	}
	if !supported && lastErr != nil {
		return mapATError(lastErr)
	}
	return nil
}

func parseHexField(s string) uint32 {
	v, err := strconv.ParseUint(strings.Trim(strings.TrimSpace(s), `"`), 16, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

func (h *atHelper) querySignal(ctx context.Context) ([]Signal, error) {
	reply, err := h.cmd(ctx, "AT+CSQ", 3*time.Second)
	if err != nil {
		return nil, mapATError(err)
	}
	fields := strings.Split(strings.TrimPrefix(firstLine(reply), "+CSQ:"), ",")
	if len(fields) < 2 {
		return nil, core.New(core.KindProtocol, "malformed +CSQ reply")
	}
	raw, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return nil, core.New(core.KindProtocol, "malformed +CSQ rssi")
	}
	if raw == 99 {
		return nil, nil
	}
	rssi := -113 + 2*raw
	tech := "gsm"
	if h.m.Capabilities().Has(CapLte) {
		tech = "lte"
	}
	return []Signal{{Technology: tech, RSSI: rssi, Quality: QualityFromRSSI(rssi)}}, nil
}

func (h *atHelper) setupThresholds(ctx context.Context, rssiThreshold, errorRateThreshold int) error {
	// No generic AT surface for signal thresholds; the engine polls.
	return core.New(core.KindUnsupported, "thresholds not available over AT")
}

func (h *atHelper) simSendPin(ctx context.Context, pin string) error {
	_, err := h.cmd(ctx, fmt.Sprintf(`AT+CPIN="%s"`, pin), 20*time.Second)
	return err
}

func (h *atHelper) simSendPuk(ctx context.Context, puk, newPin string) error {
	_, err := h.cmd(ctx, fmt.Sprintf(`AT+CPIN="%s","%s"`, puk, newPin), 20*time.Second)
	return err
}

func (h *atHelper) simChangePin(ctx context.Context, oldPin, newPin string) error {
	_, err := h.cmd(ctx, fmt.Sprintf(`AT+CPWD="SC","%s","%s"`, oldPin, newPin), 20*time.Second)
	return err
}

func (h *atHelper) simEnablePin(ctx context.Context, pin string, enable bool) error {
	flag := 0
	if enable {
		flag = 1
	}
	_, err := h.cmd(ctx, fmt.Sprintf(`AT+CLCK="SC",%d,"%s"`, flag, pin), 20*time.Second)
	return err
}

func (h *atHelper) smsStorages() []Storage {
	return []Storage{StorageSIM, StorageME}
}

func (h *atHelper) selectStorage(ctx context.Context, storage Storage) error {
	mem := "SM"
	if storage == StorageME {
		mem = "ME"
	}
	_, err := h.cmd(ctx, fmt.Sprintf(`AT+CPMS="%s","%s","%s"`, mem, mem, mem), 3*time.Second)
	return mapATError(err)
}

func (h *atHelper) smsListParts(ctx context.Context, storage Storage) (map[int]PartState, error) {
	if err := h.selectStorage(ctx, storage); err != nil {
		return nil, err
	}
	reply, err := h.cmd(ctx, "AT+CMGL=4", 10*time.Second)
	if err != nil {
		return nil, mapATError(err)
	}
	out := make(map[int]PartState)
	lines := strings.Split(reply, "\n")
	for _, line := range lines {
		if !strings.HasPrefix(line, "+CMGL:") {
			continue
		}
		fields := strings.Split(strings.TrimPrefix(line, "+CMGL:"), ",")
		if len(fields) < 2 {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		stat, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			continue
		}
		out[index] = partStateFromCmgl(stat)
	}
	return out, nil
}

func partStateFromCmgl(stat int) PartState {
	switch stat {
	case 0, 1:
		return PartReceived
	case 2:
		return PartStoredUnsent
	case 3:
		return PartStoredSent
	default:
		return PartUnknown
	}
}

func (h *atHelper) smsReadPart(ctx context.Context, storage Storage, index int) ([]byte, error) {
	if err := h.selectStorage(ctx, storage); err != nil {
		return nil, err
	}
	reply, err := h.cmd(ctx, fmt.Sprintf("AT+CMGR=%d", index), 10*time.Second)
	if err != nil {
		return nil, mapATError(err)
	}
	lines := strings.Split(reply, "\n")
	if len(lines) < 2 {
		return nil, core.New(core.KindProtocol, "malformed +CMGR reply")
	}
	return pdu.ParseHex(strings.TrimSpace(lines[1]))
}

func (h *atHelper) smsDeletePart(ctx context.Context, storage Storage, index int) error {
	if err := h.selectStorage(ctx, storage); err != nil {
		return err
	}
	_, err := h.cmd(ctx, fmt.Sprintf("AT+CMGD=%d,0", index), 10*time.Second)
	return mapATError(err)
}

func (h *atHelper) smsStorePart(ctx context.Context, storage Storage, raw []byte) (int, error) {
	if err := h.selectStorage(ctx, storage); err != nil {
		return 0, err
	}
	tpduLen := tpduLength(raw)
	reply, err := h.sendInteractive(ctx,
		fmt.Sprintf("AT+CMGW=%d", tpduLen), pdu.HexString(raw), 10*time.Second)
	if err != nil {
		return 0, mapATError(err)
	}
	fields := strings.TrimSpace(strings.TrimPrefix(firstLine(reply), "+CMGW:"))
	index, err := strconv.Atoi(fields)
	if err != nil {
		return 0, core.New(core.KindProtocol, "malformed +CMGW reply")
	}
	return index, nil
}

func (h *atHelper) smsSendPDU(ctx context.Context, tpduLen int, raw []byte) error {
	_, err := h.sendInteractive(ctx,
		fmt.Sprintf("AT+CMGS=%d", tpduLen), pdu.HexString(raw), 30*time.Second)
	return mapATError(err)
}

// sendInteractive issues a two-stage command: the prompt stage, then the
// hex payload terminated with Ctrl-Z.
func (h *atHelper) sendInteractive(ctx context.Context, part1, part2 string, timeout time.Duration) (string, error) {
	atTrans, ok := h.trans.(*transport.ATTransport)
	if !ok {
		return "", core.New(core.KindUnsupported, "interactive commands need an AT transport")
	}
	return atTrans.Primary.SendInteractive(ctx, part1, part2, timeout)
}

func (h *atHelper) smsSetupRouting(ctx context.Context) error {
	_, err := h.cmd(ctx, "AT+CNMI=2,1,0,0,0", 3*time.Second)
	return mapATError(err)
}

// tpduLength is the CMGS length argument: PDU octets minus the SMSC block.
func tpduLength(raw []byte) int {
	if len(raw) == 0 {
		return 0
	}
	return len(raw) - 1 - int(raw[0])
}

func (h *atHelper) bearerBackend() bearerBackend {
	return &atBearer{helper: h}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
