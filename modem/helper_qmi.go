package modem

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/linux-mobile-broadband/modemd/core"
	"github.com/linux-mobile-broadband/modemd/qmi"
	"github.com/linux-mobile-broadband/modemd/transport"
)

// DMS operating modes.
const (
	qmiModeOnline   uint8 = 0
	qmiModeLowPower uint8 = 1
)

// DMS radio interface codes reported by get-capabilities.
const (
	qmiRadioCdma2000 = 1
	qmiRadioEvdo     = 2
	qmiRadioGsm      = 4
	qmiRadioUmts     = 5
	qmiRadioLte      = 8
	qmiRadioNr5g     = 9
)

// WMS storage codes.
const (
	qmiStorageUIM uint8 = 0
	qmiStorageNV  uint8 = 1
)

// qmiHelper is the QMI realization of the protoHelper contract.
type qmiHelper struct {
	m     *Modem
	trans transport.Transport

	// missing records services the modem claimed but does not serve, so
	// capabilities can be downgraded once instead of re-probed.
	missing map[qmi.Service]bool
}

func newQMIHelper(m *Modem, trans transport.Transport) *qmiHelper {
	return &qmiHelper{m: m, trans: trans, missing: make(map[qmi.Service]bool)}
}

// invoke wraps the transport call, downgrading capabilities when a claimed
// service turns out to be absent at its first use.
func (h *qmiHelper) invoke(ctx context.Context, service qmi.Service, msgID uint16, in qmi.TLVs, timeout time.Duration) (qmi.TLVs, error) {
	if h.missing[service] {
		return nil, core.Newf(core.KindUnsupported, "%s service absent", service)
	}
	out, err := h.trans.Invoke(ctx, service, msgID, in, timeout)
	if err != nil && qmi.IsUnsupportedMessage(err) {
		return out, core.Newf(core.KindUnsupported, "%s message %#04x: %v", service, msgID, err)
	}
	return out, err
}

// markMissing downgrades the capability bound to an absent service.
func (h *qmiHelper) markMissing(service qmi.Service, cap Capability) {
	if h.missing[service] {
		return
	}
	h.missing[service] = true
	h.m.mu.Lock()
	h.m.caps &^= cap
	h.m.mu.Unlock()
	h.m.log.Warn().Str("service", service.String()).Msg("claimed service missing, capability downgraded")
}

func (h *qmiHelper) powerUp(ctx context.Context) error {
	return h.setOperatingMode(ctx, qmiModeOnline)
}

func (h *qmiHelper) powerDown(ctx context.Context) error {
	return h.setOperatingMode(ctx, qmiModeLowPower)
}

func (h *qmiHelper) setOperatingMode(ctx context.Context, mode uint8) error {
	in := qmi.TLVs{}.AppendUint8(0x01, mode)
	_, err := h.invoke(ctx, qmi.ServiceDMS, qmi.DmsSetOperatingMode, in, 6*time.Second)
	if qmi.IsNoEffect(err) {
		return nil
	}
	return err
}

func (h *qmiHelper) loadCapabilities(ctx context.Context) (Capability, error) {
	out, err := h.invoke(ctx, qmi.ServiceDMS, qmi.DmsGetCapabilities, nil, 5*time.Second)
	if err != nil {
		return 0, err
	}
	v, ok := out.Get(0x01)
	// Fixed part: max tx/rx rates, data service cap, sim cap, then the
	// radio interface list.
	if !ok || len(v) < 11 {
		return 0, core.New(core.KindProtocol, "malformed capabilities TLV")
	}
	count := int(v[10])
	var caps Capability
	for i := 0; i < count && 11+i < len(v); i++ {
		switch v[11+i] {
		case qmiRadioCdma2000, qmiRadioEvdo:
			caps |= CapCdmaEvdo
		case qmiRadioGsm, qmiRadioUmts:
			caps |= CapGsmUmts
		case qmiRadioLte:
			caps |= CapLte
		case qmiRadioNr5g:
			caps |= CapNr5g
		}
	}
	return caps, nil
}

func (h *qmiHelper) loadIdentity(ctx context.Context) (string, string, string, string, error) {
	read := func(msgID uint16) (string, error) {
		out, err := h.invoke(ctx, qmi.ServiceDMS, msgID, nil, 5*time.Second)
		if err != nil {
			return "", err
		}
		s, _ := out.String(0x01)
		return s, nil
	}
	manufacturer, err := read(qmi.DmsGetManufacturer)
	if err != nil {
		return "", "", "", "", err
	}
	model, err := read(qmi.DmsGetModel)
	if err != nil {
		return "", "", "", "", err
	}
	revision, err := read(qmi.DmsGetRevision)
	if err != nil {
		return "", "", "", "", err
	}

	out, err := h.invoke(ctx, qmi.ServiceDMS, qmi.DmsGetIDs, nil, 5*time.Second)
	if err != nil {
		return "", "", "", "", err
	}
	imei, _ := out.String(0x11)
	if imei == "" {
		imei, _ = out.String(0x12) // MEID on CDMA-only devices
	}
	return manufacturer, model, revision, imei, nil
}

// QMI PIN status codes.
const (
	qmiPinNotInitialized   = 0
	qmiPinEnabledNotVerified = 1
	qmiPinEnabledVerified  = 2
	qmiPinDisabled         = 3
	qmiPinBlocked          = 4
	qmiPinPermanentlyBlocked = 5
)

func (h *qmiHelper) loadSIM(ctx context.Context) (*SIM, error) {
	sim := &SIM{retries: make(map[LockType]int)}

	if out, err := h.invoke(ctx, qmi.ServiceDMS, qmi.DmsUimGetIccid, nil, 5*time.Second); err == nil {
		sim.iccid, _ = out.String(0x01)
	}

	out, err := h.invoke(ctx, qmi.ServiceDMS, qmi.DmsUimGetPinStatus, nil, 5*time.Second)
	if err != nil {
		if core.Is(err, core.KindUnsupported) {
			return sim, nil
		}
		return nil, core.Newf(core.KindSimFailure, "pin status: %v", err)
	}
	if v, ok := out.Get(0x11); ok && len(v) >= 3 {
		sim.lock = lockFromPinStatus(v[0], LockPin, LockPuk)
		sim.retries[LockPin] = int(v[1])
		sim.retries[LockPuk] = int(v[2])
	}
	if v, ok := out.Get(0x12); ok && len(v) >= 3 {
		if sim.lock == LockNone {
			sim.lock = lockFromPinStatus(v[0], LockPin2, LockPuk2)
		}
		sim.retries[LockPin2] = int(v[1])
		sim.retries[LockPuk2] = int(v[2])
	}

	// Network personalisation shows up in the CK status, not the PIN one.
	if out, err := h.invoke(ctx, qmi.ServiceDMS, qmi.DmsUimGetCkStatus, nil, 5*time.Second); err == nil {
		if v, ok := out.Get(0x01); ok && len(v) >= 2 && v[1] == 1 && sim.lock == LockNone {
			sim.lock = LockNetworkPerso
		}
	}

	if sim.lock == LockNone {
		if out, err := h.invoke(ctx, qmi.ServiceDMS, qmi.DmsUimGetImsi, nil, 5*time.Second); err == nil {
			sim.imsi, _ = out.String(0x01)
		}
	}
	return sim, nil
}

func lockFromPinStatus(status uint8, pin, puk LockType) LockType {
	switch status {
	case qmiPinEnabledNotVerified:
		return pin
	case qmiPinBlocked:
		return puk
	case qmiPinPermanentlyBlocked:
		return puk
	default:
		return LockNone
	}
}

func (h *qmiHelper) loadSupportedBands(ctx context.Context) ([]string, error) {
	out, err := h.invoke(ctx, qmi.ServiceDMS, qmi.DmsGetBandCapabilities, nil, 5*time.Second)
	if err != nil {
		return nil, err
	}
	v, ok := out.Get(0x01)
	if !ok || len(v) < 8 {
		return nil, core.New(core.KindProtocol, "malformed band capability TLV")
	}
	mask := binary.LittleEndian.Uint64(v)
	var bands []string
	for bit := 0; bit < 64; bit++ {
		if mask&(1<<uint(bit)) != 0 {
			bands = append(bands, fmt.Sprintf("band-%d", bit))
		}
	}
	return bands, nil
}

// loadCurrentBands reads the active RF band list. The NAS client and its
// result stay local to this call; nothing is captured across suspension
// points.
func (h *qmiHelper) loadCurrentBands(ctx context.Context) ([]string, error) {
	out, err := h.invoke(ctx, qmi.ServiceNAS, qmi.NasGetRFBandInformation, nil, 5*time.Second)
	if err != nil {
		return nil, err
	}
	v, ok := out.Get(0x01)
	if !ok || len(v) < 1 {
		return nil, core.New(core.KindProtocol, "malformed RF band TLV")
	}
	count := int(v[0])
	v = v[1:]
	var bands []string
	for i := 0; i < count && len(v) >= 5; i++ {
		band := binary.LittleEndian.Uint16(v[1:3])
		bands = append(bands, fmt.Sprintf("band-%d", band))
		v = v[5:]
	}
	return bands, nil
}

func (h *qmiHelper) loadUnlockRetries(ctx context.Context) (map[LockType]int, error) {
	out, err := h.invoke(ctx, qmi.ServiceDMS, qmi.DmsUimGetPinStatus, nil, 5*time.Second)
	if err != nil {
		return nil, err
	}
	retries := make(map[LockType]int)
	if v, ok := out.Get(0x11); ok && len(v) >= 3 {
		retries[LockPin] = int(v[1])
		retries[LockPuk] = int(v[2])
	}
	if v, ok := out.Get(0x12); ok && len(v) >= 3 {
		retries[LockPin2] = int(v[1])
		retries[LockPuk2] = int(v[2])
	}
	return retries, nil
}

func (h *qmiHelper) deviceIDParts(ctx context.Context) (string, string) {
	// No AT surface on a QMI modem; the hash uses empty segments.
	return "", ""
}

func (h *qmiHelper) setupEvents(ctx context.Context) error {
	h.trans.SubscribeIndication(qmi.ServiceNAS, qmi.NasServingSystemInd, h.handleServingSystem)
	h.trans.SubscribeIndication(qmi.ServiceNAS, qmi.NasSignalInfoInd, h.handleSignalInfo)
	h.trans.SubscribeIndication(qmi.ServiceWMS, qmi.WmsEventReportInd, h.handleWmsEvent)
	h.trans.SubscribeIndication(qmi.ServiceWDS, qmi.WdsPacketServiceStatus, h.handlePacketServiceStatus)
	return nil
}

func (h *qmiHelper) cleanupEvents(ctx context.Context) error {
	h.trans.UnsubscribeIndication(qmi.ServiceNAS, qmi.NasServingSystemInd)
	h.trans.UnsubscribeIndication(qmi.ServiceNAS, qmi.NasSignalInfoInd)
	h.trans.UnsubscribeIndication(qmi.ServiceWMS, qmi.WmsEventReportInd)
	h.trans.UnsubscribeIndication(qmi.ServiceWDS, qmi.WdsPacketServiceStatus)
	return nil
}

func (h *qmiHelper) enableModemEvents(ctx context.Context, enable bool) error {
	flag := uint8(0)
	if enable {
		flag = 1
	}
	in := qmi.TLVs{}.
		AppendUint8(0x10, flag). // system selection / serving system
		AppendUint8(0x18, flag)  // signal info
	if _, err := h.invoke(ctx, qmi.ServiceNAS, qmi.NasRegisterIndications, in, 5*time.Second); err != nil {
		if !qmi.IsNoEffect(err) && !core.Is(err, core.KindUnsupported) {
			return err
		}
	}
	wmsIn := qmi.TLVs{}.AppendUint8(0x10, flag)
	if _, err := h.invoke(ctx, qmi.ServiceWMS, qmi.WmsSetEventReport, wmsIn, 5*time.Second); err != nil {
		if !qmi.IsNoEffect(err) && !core.Is(err, core.KindUnsupported) {
			return err
		}
	}
	return nil
}

// Serving-system TLV types shared by the response and the indication.
const (
	nasTlvServingSystem uint8 = 0x01
	nasTlvRoaming       uint8 = 0x10
	nasTlvCurrentPlmn   uint8 = 0x12
)

func (h *qmiHelper) loadOperator(ctx context.Context) (string, string, error) {
	out, err := h.invoke(ctx, qmi.ServiceNAS, qmi.NasGetServingSystem, nil, 6*time.Second)
	if err != nil {
		return "", "", err
	}
	code, name := h.parsePlmn(out)
	return code, name, nil
}

// parsePlmn extracts the operator code and description from the current
// PLMN TLV: mcc u16, mnc u16, description length u8 + bytes. The PCS-digit
// flag is not carried here, so the width heuristic applies.
func (h *qmiHelper) parsePlmn(out qmi.TLVs) (string, string) {
	v, ok := out.Get(nasTlvCurrentPlmn)
	if !ok || len(v) < 5 {
		return "", ""
	}
	mcc := binary.LittleEndian.Uint16(v[0:2])
	mnc := binary.LittleEndian.Uint16(v[2:4])
	nameLen := int(v[4])
	name := ""
	if len(v) >= 5+nameLen {
		name = string(v[5 : 5+nameLen])
	}
	return h.m.SynthesizeOperatorCode(mcc, mnc, false), name
}

func (h *qmiHelper) runRegistrationCheck(ctx context.Context) error {
	out, err := h.invoke(ctx, qmi.ServiceNAS, qmi.NasGetServingSystem, nil, 6*time.Second)
	if err != nil {
		if core.Is(err, core.KindUnsupported) {
			h.markMissing(qmi.ServiceNAS, CapGsmUmts|CapLte)
			return nil
		}
		return err
	}
	h.processServingSystem(out)
	return nil
}

func (h *qmiHelper) handleServingSystem(tlvs qmi.TLVs) {
	h.processServingSystem(tlvs)
}

// processServingSystem folds a serving-system payload into the tracker.
// The TLV carries registration state, CS and PS attach states, the network
// type and the in-use radio interface list.
func (h *qmiHelper) processServingSystem(out qmi.TLVs) {
	v, ok := out.Get(nasTlvServingSystem)
	if !ok || len(v) < 5 {
		return
	}
	regState := v[0]
	csAttach := v[1]
	psAttach := v[2]

	roaming := false
	if rv, ok := out.Uint8(nasTlvRoaming); ok {
		roaming = rv == 1
	}

	code, name := h.parsePlmn(out)
	if name != "" || code != "" {
		h.m.reg.setOperator(code, name)
	}
	h.m.reg.update(DomainCS, normalizeQMIReg(regState, csAttach, roaming), code, 0, 0)
	h.m.reg.update(DomainPS, normalizeQMIReg(regState, psAttach, roaming), code, 0, 0)
}

// Signal-info TLVs of get-signal-info / signal-info indication.
const (
	nasTlvSigCdma uint8 = 0x10
	nasTlvSigHdr  uint8 = 0x11
	nasTlvSigGsm  uint8 = 0x12
	nasTlvSigWcdma uint8 = 0x13
	nasTlvSigLte  uint8 = 0x14
	nasTlvSig5g   uint8 = 0x17
)

func (h *qmiHelper) handleSignalInfo(tlvs qmi.TLVs) {
	h.m.signal.ingest(parseSignalInfo(tlvs))
}

func parseSignalInfo(out qmi.TLVs) []Signal {
	var records []Signal
	add := func(tech string, rssi int) {
		records = append(records, Signal{Technology: tech, RSSI: rssi, Quality: QualityFromRSSI(rssi)})
	}
	if v, ok := out.Get(nasTlvSigCdma); ok && len(v) >= 1 {
		add("cdma", int(int8(v[0])))
	}
	if v, ok := out.Get(nasTlvSigHdr); ok && len(v) >= 1 {
		add("evdo", int(int8(v[0])))
	}
	if v, ok := out.Get(nasTlvSigGsm); ok && len(v) >= 1 {
		add("gsm", int(int8(v[0])))
	}
	if v, ok := out.Get(nasTlvSigWcdma); ok && len(v) >= 1 {
		add("umts", int(int8(v[0])))
	}
	if v, ok := out.Get(nasTlvSigLte); ok && len(v) >= 1 {
		add("lte", int(int8(v[0])))
	}
	if v, ok := out.Get(nasTlvSig5g); ok && len(v) >= 1 {
		add("nr5g", int(int8(v[0])))
	}
	return records
}

func (h *qmiHelper) querySignal(ctx context.Context) ([]Signal, error) {
	client, err := h.nasClient()
	if err == nil && client.Supports(1, 8) {
		out, err := h.invoke(ctx, qmi.ServiceNAS, qmi.NasGetSignalInfo, nil, 5*time.Second)
		if err != nil {
			return nil, err
		}
		return parseSignalInfo(out), nil
	}

	// Older firmware: get-signal-strength with the signal/radio pair.
	out, err := h.invoke(ctx, qmi.ServiceNAS, qmi.NasGetSignalStrength, nil, 5*time.Second)
	if err != nil {
		return nil, err
	}
	v, ok := out.Get(0x01)
	if !ok || len(v) < 2 {
		return nil, core.New(core.KindProtocol, "malformed signal strength TLV")
	}
	rssi := int(int8(v[0]))
	tech := "umts"
	switch v[1] {
	case qmiRadioGsm:
		tech = "gsm"
	case qmiRadioLte:
		tech = "lte"
	case qmiRadioCdma2000:
		tech = "cdma"
	case qmiRadioEvdo:
		tech = "evdo"
	}
	return []Signal{{Technology: tech, RSSI: rssi, Quality: QualityFromRSSI(rssi)}}, nil
}

func (h *qmiHelper) nasClient() (*qmi.Client, error) {
	qmiTrans, ok := h.trans.(*transport.QMITransport)
	if !ok {
		return nil, core.New(core.KindUnsupported, "no QMI client access")
	}
	return qmiTrans.Client(qmi.ServiceNAS)
}

func (h *qmiHelper) setupThresholds(ctx context.Context, rssiThreshold, errorRateThreshold int) error {
	// Threshold vector around the configured delta; the modem raises a
	// signal-info indication whenever RSSI crosses a boundary.
	var list []byte
	list = append(list, 2)
	base := int8(-106)
	list = append(list, byte(base), byte(int8(-106+rssiThreshold)))
	in := qmi.TLVs{}.AppendBytes(0x10, list)
	_, err := h.invoke(ctx, qmi.ServiceNAS, qmi.NasConfigSignalInfo, in, 5*time.Second)
	if qmi.IsNoEffect(err) {
		return nil
	}
	return err
}

// DMS PIN ids.
const (
	qmiPin1 uint8 = 1
	qmiPin2 uint8 = 2
)

func pinTLV(pinID uint8, values ...string) qmi.TLVs {
	v := []byte{pinID}
	for _, s := range values {
		v = append(v, byte(len(s)))
		v = append(v, s...)
	}
	return qmi.TLVs{{Type: 0x01, Value: v}}
}

func (h *qmiHelper) simSendPin(ctx context.Context, pin string) error {
	_, err := h.invoke(ctx, qmi.ServiceDMS, qmi.DmsUimVerifyPin, pinTLV(qmiPin1, pin), 20*time.Second)
	return err
}

func (h *qmiHelper) simSendPuk(ctx context.Context, puk, newPin string) error {
	_, err := h.invoke(ctx, qmi.ServiceDMS, qmi.DmsUimUnblockPin, pinTLV(qmiPin1, puk, newPin), 20*time.Second)
	return err
}

func (h *qmiHelper) simChangePin(ctx context.Context, oldPin, newPin string) error {
	_, err := h.invoke(ctx, qmi.ServiceDMS, qmi.DmsUimChangePin, pinTLV(qmiPin1, oldPin, newPin), 20*time.Second)
	return err
}

func (h *qmiHelper) simEnablePin(ctx context.Context, pin string, enable bool) error {
	flag := byte(0)
	if enable {
		flag = 1
	}
	v := []byte{qmiPin1, flag, byte(len(pin))}
	v = append(v, pin...)
	in := qmi.TLVs{{Type: 0x01, Value: v}}
	_, err := h.invoke(ctx, qmi.ServiceDMS, qmi.DmsUimSetPinProtection, in, 20*time.Second)
	return err
}

func (h *qmiHelper) smsStorages() []Storage {
	return []Storage{StorageSIM, StorageME}
}

func qmiStorage(storage Storage) uint8 {
	if storage == StorageME {
		return qmiStorageNV
	}
	return qmiStorageUIM
}

// WMS message tags.
const (
	qmiTagMtRead    = 0
	qmiTagMtNotRead = 1
	qmiTagMoSent    = 2
	qmiTagMoNotSent = 3
)

func (h *qmiHelper) smsListParts(ctx context.Context, storage Storage) (map[int]PartState, error) {
	in := qmi.TLVs{}.AppendUint8(0x01, qmiStorage(storage))
	out, err := h.invoke(ctx, qmi.ServiceWMS, qmi.WmsListMessages, in, 10*time.Second)
	if err != nil {
		if core.Is(err, core.KindUnsupported) {
			h.markMissing(qmi.ServiceWMS, 0)
		}
		return nil, err
	}
	v, ok := out.Get(0x01)
	if !ok || len(v) < 4 {
		return nil, core.New(core.KindProtocol, "malformed message list TLV")
	}
	count := int(binary.LittleEndian.Uint32(v[0:4]))
	v = v[4:]
	listing := make(map[int]PartState)
	for i := 0; i < count && len(v) >= 5; i++ {
		index := int(binary.LittleEndian.Uint32(v[0:4]))
		switch v[4] {
		case qmiTagMtRead, qmiTagMtNotRead:
			listing[index] = PartReceived
		case qmiTagMoSent:
			listing[index] = PartStoredSent
		case qmiTagMoNotSent:
			listing[index] = PartStoredUnsent
		default:
			listing[index] = PartUnknown
		}
		v = v[5:]
	}
	return listing, nil
}

func (h *qmiHelper) smsReadPart(ctx context.Context, storage Storage, index int) ([]byte, error) {
	v := []byte{qmiStorage(storage)}
	v = binary.LittleEndian.AppendUint32(v, uint32(index))
	in := qmi.TLVs{{Type: 0x01, Value: v}}
	out, err := h.invoke(ctx, qmi.ServiceWMS, qmi.WmsRawRead, in, 10*time.Second)
	if err != nil {
		return nil, err
	}
	data, ok := out.Get(0x01)
	// tag, format, then a two-octet length and the raw PDU.
	if !ok || len(data) < 4 {
		return nil, core.New(core.KindProtocol, "malformed raw-read TLV")
	}
	n := int(binary.LittleEndian.Uint16(data[2:4]))
	if len(data) < 4+n {
		return nil, core.New(core.KindProtocol, "truncated raw-read payload")
	}
	return append([]byte(nil), data[4:4+n]...), nil
}

func (h *qmiHelper) smsDeletePart(ctx context.Context, storage Storage, index int) error {
	in := qmi.TLVs{}.AppendUint8(0x01, qmiStorage(storage))
	in = in.AppendUint32(0x10, uint32(index))
	_, err := h.invoke(ctx, qmi.ServiceWMS, qmi.WmsDelete, in, 10*time.Second)
	if qmi.IsNoEffect(err) {
		return nil
	}
	return err
}

// wmsFormat3gpp is the message format code for 3GPP point-to-point.
const wmsFormat3gpp uint8 = 6

func (h *qmiHelper) smsStorePart(ctx context.Context, storage Storage, pdu []byte) (int, error) {
	v := []byte{qmiStorage(storage), wmsFormat3gpp}
	v = binary.LittleEndian.AppendUint16(v, uint16(len(pdu)))
	v = append(v, pdu...)
	in := qmi.TLVs{{Type: 0x01, Value: v}}
	out, err := h.invoke(ctx, qmi.ServiceWMS, qmi.WmsRawWrite, in, 10*time.Second)
	if err != nil {
		return 0, err
	}
	index, ok := out.Uint32(0x01)
	if !ok {
		return 0, core.New(core.KindProtocol, "raw-write reply without index")
	}
	return int(index), nil
}

func (h *qmiHelper) smsSendPDU(ctx context.Context, tpduLen int, pdu []byte) error {
	v := []byte{wmsFormat3gpp}
	v = binary.LittleEndian.AppendUint16(v, uint16(len(pdu)))
	v = append(v, pdu...)
	in := qmi.TLVs{{Type: 0x01, Value: v}}
	_, err := h.invoke(ctx, qmi.ServiceWMS, qmi.WmsRawSend, in, 30*time.Second)
	return err
}

// smsSetupRouting programs the default storage routing once on enable:
// class 0 and class 1 messages land in the chosen storage with the
// store-and-notify action.
func (h *qmiHelper) smsSetupRouting(ctx context.Context) error {
	const actionStoreAndNotify = 2
	var routes []byte
	routes = binary.LittleEndian.AppendUint16(routes, 2)
	for _, class := range []byte{0, 1} {
		routes = append(routes, 0 /* point-to-point */, class, qmiStorageUIM, actionStoreAndNotify)
	}
	in := qmi.TLVs{}.AppendBytes(0x01, routes)
	_, err := h.invoke(ctx, qmi.ServiceWMS, qmi.WmsSetRoutes, in, 5*time.Second)
	if qmi.IsNoEffect(err) {
		return nil
	}
	return err
}

// handleWmsEvent reacts to the WMS event report: a new message landed at
// an index in a storage.
func (h *qmiHelper) handleWmsEvent(tlvs qmi.TLVs) {
	v, ok := tlvs.Get(0x10)
	if !ok || len(v) < 5 {
		return
	}
	storage := StorageSIM
	if v[0] == qmiStorageNV {
		storage = StorageME
	}
	index := int(binary.LittleEndian.Uint32(v[1:5]))
	h.m.sms.notifyNewPart(storage, index)
}

// handlePacketServiceStatus reacts to the WDS connection status
// indication; a disconnect fans out to every connected bearer.
func (h *qmiHelper) handlePacketServiceStatus(tlvs qmi.TLVs) {
	const statusDisconnected = 1
	v, ok := tlvs.Get(0x01)
	if !ok || len(v) < 1 {
		return
	}
	if v[0] == statusDisconnected {
		h.m.reportBearerDisconnection()
	}
}

func (h *qmiHelper) bearerBackend() bearerBackend {
	return &qmiBearer{helper: h}
}
