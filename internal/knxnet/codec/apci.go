package codec

import "fmt"

// APCI is a 10-bit application-layer service code.
//
// Codes whose low 6 bits are zero are 4-bit families: the low bits of the
// control word are free for data. The remaining codes occupy the full 10 bits.
type APCI uint16

// NoAPCI marks an APDU that carries only transport control (TPCI) and no
// application service.
const NoAPCI APCI = 0xFFFF

// 4-bit APCI families.
const (
	GroupValueRead           APCI = 0x000
	GroupValueResponse       APCI = 0x040
	GroupValueWrite          APCI = 0x080
	PhysicalAddressWrite     APCI = 0x0C0
	PhysicalAddressRead      APCI = 0x100
	PhysicalAddressResponse  APCI = 0x140
	ADCRead                  APCI = 0x180
	ADCResponse              APCI = 0x1C0
	MemoryRead               APCI = 0x200
	MemoryResponse           APCI = 0x240
	MemoryWrite              APCI = 0x280
	DeviceDescriptorRead     APCI = 0x300
	DeviceDescriptorResponse APCI = 0x340
	Restart                  APCI = 0x380
)

// Extended codes sharing the ADC family. They sit below MemoryRead, so the
// decoder resolves them through the 4-bit path.
const (
	SystemNetworkParameterRead     APCI = 0x1C8
	SystemNetworkParameterResponse APCI = 0x1C9
	SystemNetworkParameterWrite    APCI = 0x1CA
)

// Full-width codes.
const (
	UserMemoryRead                     APCI = 0x2C0
	UserMemoryResponse                 APCI = 0x2C1
	UserMemoryWrite                    APCI = 0x2C2
	UserMemoryBitWrite                 APCI = 0x2C4
	UserManufacturerInfoRead           APCI = 0x2C5
	UserManufacturerInfoResponse       APCI = 0x2C6
	FunctionPropertyCommand            APCI = 0x2C7
	FunctionPropertyStateRead          APCI = 0x2C8
	FunctionPropertyStateResponse      APCI = 0x2C9
	OpenRoutingTableRequest            APCI = 0x3C0
	ReadRoutingTableRequest            APCI = 0x3C1
	ReadRoutingTableResponse           APCI = 0x3C2
	WriteRoutingTableRequest           APCI = 0x3C3
	ReadRouterMemoryRequest            APCI = 0x3C8
	ReadRouterMemoryResponse           APCI = 0x3C9
	WriteRouterMemoryRequest           APCI = 0x3CA
	ReadRouterStatusRequest            APCI = 0x3CD
	ReadRouterStatusResponse           APCI = 0x3CE
	WriteRouterStatusRequest           APCI = 0x3CF
	MemoryBitWrite                     APCI = 0x3D0
	AuthorizeRequest                   APCI = 0x3D1
	AuthorizeResponse                  APCI = 0x3D2
	KeyWrite                           APCI = 0x3D3
	KeyResponse                        APCI = 0x3D4
	PropertyValueRead                  APCI = 0x3D5
	PropertyValueResponse              APCI = 0x3D6
	PropertyValueWrite                 APCI = 0x3D7
	PropertyDescriptionRead            APCI = 0x3D8
	PropertyDescriptionResponse        APCI = 0x3D9
	NetworkParameterRead               APCI = 0x3DA
	NetworkParameterResponse           APCI = 0x3DB
	IndividualAddressSerialNumberRead  APCI = 0x3DC
	IndividualAddressSerialNumberResp  APCI = 0x3DD
	IndividualAddressSerialNumberWrite APCI = 0x3DE
	DomainAddressWrite                 APCI = 0x3E0
	DomainAddressRead                  APCI = 0x3E1
	DomainAddressResponse              APCI = 0x3E2
	DomainAddressSelectiveRead         APCI = 0x3E3
	NetworkParameterWrite              APCI = 0x3E4
	LinkRead                           APCI = 0x3E5
	LinkResponse                       APCI = 0x3E6
	LinkWrite                          APCI = 0x3E7
	GroupPropValueRead                 APCI = 0x3E8
	GroupPropValueResponse             APCI = 0x3E9
	GroupPropValueWrite                APCI = 0x3EA
	GroupPropValueInfoReport           APCI = 0x3EB
	DomainAddressSerialNumberRead      APCI = 0x3EC
	DomainAddressSerialNumberResponse  APCI = 0x3ED
	DomainAddressSerialNumberWrite     APCI = 0x3EE
	FileStreamInfoReport               APCI = 0x3F0
)

var apciNames = map[APCI]string{
	GroupValueRead:                     "GroupValue_Read",
	GroupValueResponse:                 "GroupValue_Response",
	GroupValueWrite:                    "GroupValue_Write",
	PhysicalAddressWrite:               "PhysicalAddress_Write",
	PhysicalAddressRead:                "PhysicalAddress_Read",
	PhysicalAddressResponse:            "PhysicalAddress_Response",
	ADCRead:                            "ADC_Read",
	ADCResponse:                        "ADC_Response",
	SystemNetworkParameterRead:         "SystemNetworkParameter_Read",
	SystemNetworkParameterResponse:     "SystemNetworkParameter_Response",
	SystemNetworkParameterWrite:        "SystemNetworkParameter_Write",
	MemoryRead:                         "Memory_Read",
	MemoryResponse:                     "Memory_Response",
	MemoryWrite:                        "Memory_Write",
	UserMemoryRead:                     "UserMemory_Read",
	UserMemoryResponse:                 "UserMemory_Response",
	UserMemoryWrite:                    "UserMemory_Write",
	UserMemoryBitWrite:                 "UserMemoryBit_Write",
	UserManufacturerInfoRead:           "UserManufacturerInfo_Read",
	UserManufacturerInfoResponse:       "UserManufacturerInfo_Response",
	FunctionPropertyCommand:            "FunctionPropertyCommand",
	FunctionPropertyStateRead:          "FunctionPropertyState_Read",
	FunctionPropertyStateResponse:      "FunctionPropertyState_Response",
	DeviceDescriptorRead:               "DeviceDescriptor_Read",
	DeviceDescriptorResponse:           "DeviceDescriptor_Response",
	Restart:                            "Restart",
	OpenRoutingTableRequest:            "OpenRoutingTableRequest",
	ReadRoutingTableRequest:            "ReadRoutingTableRequest",
	ReadRoutingTableResponse:           "ReadRoutingTableResponse",
	WriteRoutingTableRequest:           "WriteRoutingTableRequest",
	ReadRouterMemoryRequest:            "ReadRouterMemoryRequest",
	ReadRouterMemoryResponse:           "ReadRouterMemoryResponse",
	WriteRouterMemoryRequest:           "WriteRouterMemoryRequest",
	ReadRouterStatusRequest:            "ReadRouterStatusRequest",
	ReadRouterStatusResponse:           "ReadRouterStatusResponse",
	WriteRouterStatusRequest:           "WriteRouterStatusRequest",
	MemoryBitWrite:                     "MemoryBit_Write",
	AuthorizeRequest:                   "Authorize_Request",
	AuthorizeResponse:                  "Authorize_Response",
	KeyWrite:                           "Key_Write",
	KeyResponse:                        "Key_Response",
	PropertyValueRead:                  "PropertyValue_Read",
	PropertyValueResponse:              "PropertyValue_Response",
	PropertyValueWrite:                 "PropertyValue_Write",
	PropertyDescriptionRead:            "PropertyDescription_Read",
	PropertyDescriptionResponse:        "PropertyDescription_Response",
	NetworkParameterRead:               "NetworkParameter_Read",
	NetworkParameterResponse:           "NetworkParameter_Response",
	IndividualAddressSerialNumberRead:  "IndividualAddressSerialNumber_Read",
	IndividualAddressSerialNumberResp:  "IndividualAddressSerialNumber_Response",
	IndividualAddressSerialNumberWrite: "IndividualAddressSerialNumber_Write",
	DomainAddressWrite:                 "DomainAddress_Write",
	DomainAddressRead:                  "DomainAddress_Read",
	DomainAddressResponse:              "DomainAddress_Response",
	DomainAddressSelectiveRead:         "DomainAddressSelective_Read",
	NetworkParameterWrite:              "NetworkParameter_Write",
	LinkRead:                           "Link_Read",
	LinkResponse:                       "Link_Response",
	LinkWrite:                          "Link_Write",
	GroupPropValueRead:                 "GroupPropValue_Read",
	GroupPropValueResponse:             "GroupPropValue_Response",
	GroupPropValueWrite:                "GroupPropValue_Write",
	GroupPropValueInfoReport:           "GroupPropValue_InfoReport",
	DomainAddressSerialNumberRead:      "DomainAddressSerialNumber_Read",
	DomainAddressSerialNumberResponse:  "DomainAddressSerialNumber_Response",
	DomainAddressSerialNumberWrite:     "DomainAddressSerialNumber_Write",
	FileStreamInfoReport:               "FileStream_InfoReport",
}

// fullWidthAPCI lists the codes resolved from all 10 bits of the control
// word. Every entry is above MemoryRead; codes at or below it can carry data
// in the low bits and always resolve through their 4-bit family. New codes
// must be classified here by hand.
var fullWidthAPCI = map[APCI]bool{
	UserMemoryResponse:                 true,
	UserMemoryWrite:                    true,
	UserMemoryBitWrite:                 true,
	UserManufacturerInfoRead:           true,
	UserManufacturerInfoResponse:       true,
	FunctionPropertyCommand:            true,
	FunctionPropertyStateRead:          true,
	FunctionPropertyStateResponse:      true,
	ReadRoutingTableRequest:            true,
	ReadRoutingTableResponse:           true,
	WriteRoutingTableRequest:           true,
	ReadRouterMemoryRequest:            true,
	ReadRouterMemoryResponse:           true,
	WriteRouterMemoryRequest:           true,
	ReadRouterStatusRequest:            true,
	ReadRouterStatusResponse:           true,
	WriteRouterStatusRequest:           true,
	MemoryBitWrite:                     true,
	AuthorizeRequest:                   true,
	AuthorizeResponse:                  true,
	KeyWrite:                           true,
	KeyResponse:                        true,
	PropertyValueRead:                  true,
	PropertyValueResponse:              true,
	PropertyValueWrite:                 true,
	PropertyDescriptionRead:            true,
	PropertyDescriptionResponse:        true,
	NetworkParameterRead:               true,
	NetworkParameterResponse:           true,
	IndividualAddressSerialNumberRead:  true,
	IndividualAddressSerialNumberResp:  true,
	IndividualAddressSerialNumberWrite: true,
	DomainAddressWrite:                 true,
	DomainAddressRead:                  true,
	DomainAddressResponse:              true,
	DomainAddressSelectiveRead:         true,
	NetworkParameterWrite:              true,
	LinkRead:                           true,
	LinkResponse:                       true,
	LinkWrite:                          true,
	GroupPropValueRead:                 true,
	GroupPropValueResponse:             true,
	GroupPropValueWrite:                true,
	GroupPropValueInfoReport:           true,
	DomainAddressSerialNumberRead:      true,
	DomainAddressSerialNumberResponse:  true,
	DomainAddressSerialNumberWrite:     true,
	FileStreamInfoReport:               true,
}

// String returns the service name, e.g. "GroupValue_Write".
func (a APCI) String() string {
	if a == NoAPCI {
		return "none"
	}
	if name, ok := apciNames[a]; ok {
		return name
	}
	return fmt.Sprintf("APCI(0x%03X)", uint16(a))
}

// Known reports whether the code is in the code table.
func (a APCI) Known() bool {
	_, ok := apciNames[a]
	return ok
}

// FullWidth reports whether the code occupies all 10 bits of the control
// word, leaving no room for in-word data.
func (a APCI) FullWidth() bool {
	return fullWidthAPCI[a]
}

// ParseAPCI looks up a code by its service name.
func ParseAPCI(name string) (APCI, error) {
	for code, n := range apciNames {
		if n == name {
			return code, nil
		}
	}
	return NoAPCI, fmt.Errorf("%w: %q", ErrUnknownAPCI, name)
}
