package qmi

// CTL service messages.
const (
	CtlGetVersionInfo  uint16 = 0x0021
	CtlGetClientID     uint16 = 0x0022
	CtlReleaseClientID uint16 = 0x0023
)

// DMS service messages.
const (
	DmsGetCapabilities         uint16 = 0x0020
	DmsGetManufacturer         uint16 = 0x0021
	DmsGetModel                uint16 = 0x0022
	DmsGetRevision             uint16 = 0x0023
	DmsGetIDs                  uint16 = 0x0025
	DmsGetPowerState           uint16 = 0x0026
	DmsUimSetPinProtection     uint16 = 0x0027
	DmsUimVerifyPin            uint16 = 0x0028
	DmsUimUnblockPin           uint16 = 0x0029
	DmsUimChangePin            uint16 = 0x002A
	DmsUimGetPinStatus         uint16 = 0x002B
	DmsGetOperatingMode        uint16 = 0x002D
	DmsSetOperatingMode        uint16 = 0x002E
	DmsUimGetIccid             uint16 = 0x003C
	DmsUimGetCkStatus          uint16 = 0x0040
	DmsUimGetImsi              uint16 = 0x0043
	DmsGetBandCapabilities     uint16 = 0x0045
	DmsGetFactorySku           uint16 = 0x0046
	DmsGetStoredImageInfo      uint16 = 0x0049
	DmsSetFirmwarePreference   uint16 = 0x004B
	DmsRestoreFactoryDefaults  uint16 = 0x004A
	DmsGetSoftwareVersion      uint16 = 0x0051
)

// NAS service messages.
const (
	NasSetEventReport               uint16 = 0x0002
	NasRegisterIndications          uint16 = 0x0003
	NasGetSignalStrength            uint16 = 0x0020
	NasNetworkScan                  uint16 = 0x0021
	NasInitiateNetworkRegister      uint16 = 0x0022
	NasGetServingSystem             uint16 = 0x0024
	NasServingSystemInd             uint16 = 0x0024
	NasGetSystemSelectionPreference uint16 = 0x0033
	NasSetSystemSelectionPreference uint16 = 0x0034
	NasGetTechnologyPreference      uint16 = 0x002B
	NasSetTechnologyPreference      uint16 = 0x002A
	NasGetRFBandInformation         uint16 = 0x0031
	NasGetSystemInfo                uint16 = 0x004D
	NasSystemInfoInd                uint16 = 0x004E
	NasGetSignalInfo                uint16 = 0x004F
	NasConfigSignalInfo             uint16 = 0x0050
	NasSignalInfoInd                uint16 = 0x0051
)

// WMS service messages.
const (
	WmsSetEventReport uint16 = 0x0000
	WmsEventReportInd uint16 = 0x0001
	WmsRawSend        uint16 = 0x0020
	WmsRawWrite       uint16 = 0x0021
	WmsRawRead        uint16 = 0x0022
	WmsModifyTag      uint16 = 0x0023
	WmsDelete         uint16 = 0x0024
	WmsListMessages   uint16 = 0x0031
	WmsSetRoutes      uint16 = 0x0032
)

// WDS service messages.
const (
	WdsStartNetwork         uint16 = 0x0020
	WdsStopNetwork          uint16 = 0x0021
	WdsPacketServiceStatus  uint16 = 0x0022
	WdsGetCurrentSettings   uint16 = 0x002D
)

// PDS service messages.
const (
	PdsSetEventReport       uint16 = 0x0001
	PdsGetGpsServiceState   uint16 = 0x0020
	PdsSetGpsServiceState   uint16 = 0x0021
	PdsGetAutoTrackingState uint16 = 0x0030
	PdsSetAutoTrackingState uint16 = 0x0031
)

// Protocol error codes carried in the result TLV.
const (
	ProtoErrNone              = 0
	ProtoErrNoEffect          = 26
	ProtoErrCallFailed        = 14
	ProtoErrInvalidQmiCommand = 71
	ProtoErrNotSupported      = 94
	ProtoErrInfoUnavailable   = 74
)

// Well-known TLV types.
const (
	TlvResult uint8 = 0x02
)
