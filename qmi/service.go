// Package qmi implements the QMUX-framed binary control protocol spoken by
// Qualcomm modems: service client allocation, request/response transaction
// correlation and indication dispatch.
package qmi

// Service identifies a QMI service within the multiplex.
type Service uint8

// The services the broker allocates clients for.
const (
	ServiceCTL Service = 0x00
	ServiceWDS Service = 0x01
	ServiceDMS Service = 0x02
	ServiceNAS Service = 0x03
	ServiceWMS Service = 0x05
	ServicePDS Service = 0x06
)

var serviceNames = map[Service]string{
	ServiceCTL: "ctl",
	ServiceWDS: "wds",
	ServiceDMS: "dms",
	ServiceNAS: "nas",
	ServiceWMS: "wms",
	ServicePDS: "pds",
}

func (s Service) String() string {
	if name, ok := serviceNames[s]; ok {
		return name
	}
	return "unknown"
}
