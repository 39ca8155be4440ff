package modem

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/linux-mobile-broadband/modemd/core"
	"github.com/linux-mobile-broadband/modemd/qmi"
)

// WDS start-network request TLVs.
const (
	wdsTlvApn          uint8 = 0x14
	wdsTlvUsername     uint8 = 0x17
	wdsTlvPassword     uint8 = 0x18
	wdsTlvIPFamilyPref uint8 = 0x19

	wdsTlvPacketHandle  uint8 = 0x01
	wdsTlvCallEndReason uint8 = 0x10

	wdsIPFamilyV4 uint8 = 4
	wdsIPFamilyV6 uint8 = 6
)

// qmiBearer drives a WDS data session: start-network producing a packet
// data handle, stop-network releasing it.
type qmiBearer struct {
	helper *qmiHelper
}

func (qb *qmiBearer) connect(ctx context.Context, b *Bearer) (*IPConfig, *IPConfig, error) {
	port := qb.helper.m.findPort(PortNetworkData)
	if port == nil {
		return nil, nil, core.New(core.KindTransport, "no network data port")
	}
	if !qb.helper.trans.IsOpen() {
		if err := qb.helper.trans.Open(); err != nil {
			return nil, nil, err
		}
	}

	cfg := b.Config()
	in := qmi.TLVs{}
	if cfg.APN != "" {
		in = in.AppendString(wdsTlvApn, cfg.APN)
	}
	if cfg.User != "" {
		in = in.AppendString(wdsTlvUsername, cfg.User)
	}
	if cfg.Password != "" {
		in = in.AppendString(wdsTlvPassword, cfg.Password)
	}
	switch cfg.IPFamily {
	case IPFamilyV4:
		in = in.AppendUint8(wdsTlvIPFamilyPref, wdsIPFamilyV4)
	case IPFamilyV6:
		in = in.AppendUint8(wdsTlvIPFamilyPref, wdsIPFamilyV6)
	}

	out, err := qb.helper.invoke(ctx, qmi.ServiceWDS, qmi.WdsStartNetwork, in, 10*time.Second)
	if err != nil && !qmi.IsNoEffect(err) {
		var pe *qmi.ProtocolError
		if errors.As(err, &pe) && pe.Code == qmi.ProtoErrCallFailed {
			if reason, ok := out.Uint16(wdsTlvCallEndReason); ok {
				return nil, nil, core.NewCode(core.KindProtocol, int(pe.Code),
					fmt.Sprintf("call failed, end reason %d", reason))
			}
		}
		return nil, nil, err
	}

	handle, ok := out.Uint32(wdsTlvPacketHandle)
	if !ok {
		// A no-effect start leaves the session up under a handle the modem
		// did not repeat; use the global-session sentinel.
		handle = 0xFFFFFFFF
	}

	b.mu.Lock()
	b.dataPort = port
	b.packetHandle = handle
	b.mu.Unlock()

	var ipv4, ipv6 *IPConfig
	switch cfg.IPFamily {
	case IPFamilyV6:
		ipv6 = &IPConfig{Method: IPMethodDHCP}
	case IPFamilyV4:
		ipv4 = &IPConfig{Method: IPMethodDHCP}
	default:
		ipv4 = &IPConfig{Method: IPMethodDHCP}
		ipv6 = &IPConfig{Method: IPMethodDHCP}
	}
	return ipv4, ipv6, nil
}

func (qb *qmiBearer) disconnect(ctx context.Context, b *Bearer) error {
	handle := b.PacketDataHandle()
	if handle == 0 {
		return nil
	}
	in := qmi.TLVs{{Type: wdsTlvPacketHandle, Value: binary.LittleEndian.AppendUint32(nil, handle)}}
	_, err := qb.helper.invoke(ctx, qmi.ServiceWDS, qmi.WdsStopNetwork, in, 10*time.Second)
	if err != nil && !qmi.IsNoEffect(err) {
		return err
	}
	return nil
}
