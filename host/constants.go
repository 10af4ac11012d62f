package host

// Device and interface class codes (bDeviceClass / bInterfaceClass).
const (
	ClassPerInterface    = 0x00
	ClassAudio           = 0x01
	ClassCDC             = 0x02
	ClassHID             = 0x03
	ClassPhysical        = 0x05
	ClassImage           = 0x06
	ClassPrinter         = 0x07
	ClassMassStorage     = 0x08
	ClassHub             = 0x09
	ClassCDCData         = 0x0A
	ClassSmartCard       = 0x0B
	ClassContentSecurity = 0x0D
	ClassVideo           = 0x0E
	ClassPersonalHealth  = 0x0F
	ClassDiagnostic      = 0xDC
	ClassWireless        = 0xE0
	ClassMiscellaneous   = 0xEF
	ClassApplication     = 0xFE
	ClassVendorSpecific  = 0xFF
)

// HID boot interface codes.
const (
	HIDSubClassBoot  = 0x01
	HIDProtocolMouse = 0x02
)

// EndpointTypeInterrupt is the interrupt transfer type in bmAttributes.
const EndpointTypeInterrupt = 0x03

// EndpointDirectionIn marks a device-to-host endpoint address.
const EndpointDirectionIn = 0x80

// Descriptor types.
const (
	DescriptorTypeDevice        = 0x01
	DescriptorTypeConfiguration = 0x02
	DescriptorTypeString        = 0x03
	DescriptorTypeInterface     = 0x04
	DescriptorTypeEndpoint      = 0x05
)

// RequestGetDescriptor is the standard GET_DESCRIPTOR request code.
const RequestGetDescriptor = 0x06

// Request types (bmRequestType).
const (
	RequestTypeIn       = 0x80 // Device to host
	RequestTypeStandard = 0x00
	RequestTypeDevice   = 0x00 // Recipient: device
)

// LangIDUSEnglish is the language ID used for string descriptors.
const LangIDUSEnglish = 0x0409

// MaxDescriptorSize bounds descriptor reads.
const MaxDescriptorSize = 512

// DeviceDescriptor is a USB device descriptor.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// DeviceDescriptorSize is the size of a device descriptor.
const DeviceDescriptorSize = 18

// ParseDeviceDescriptor parses a device descriptor from data.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) bool {
	if len(data) < DeviceDescriptorSize {
		return false
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.USBVersion = le16(data[2:])
	out.DeviceClass = data[4]
	out.DeviceSubClass = data[5]
	out.DeviceProtocol = data[6]
	out.MaxPacketSize0 = data[7]
	out.VendorID = le16(data[8:])
	out.ProductID = le16(data[10:])
	out.DeviceVersion = le16(data[12:])
	out.ManufacturerIndex = data[14]
	out.ProductIndex = data[15]
	out.SerialNumberIndex = data[16]
	out.NumConfigurations = data[17]
	return true
}

// ConfigurationDescriptor is the header of a configuration descriptor.
type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8
}

// ConfigurationDescriptorSize is the size of a configuration descriptor header.
const ConfigurationDescriptorSize = 9

// ParseConfigurationDescriptor parses a configuration descriptor header.
func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) bool {
	if len(data) < ConfigurationDescriptorSize {
		return false
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.TotalLength = le16(data[2:])
	out.NumInterfaces = data[4]
	out.ConfigurationValue = data[5]
	out.ConfigurationIndex = data[6]
	out.Attributes = data[7]
	out.MaxPower = data[8]
	return true
}

// InterfaceDescriptor is a USB interface descriptor.
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

// InterfaceDescriptorSize is the size of an interface descriptor.
const InterfaceDescriptorSize = 9

// ParseInterfaceDescriptor parses an interface descriptor.
func ParseInterfaceDescriptor(data []byte, out *InterfaceDescriptor) bool {
	if len(data) < InterfaceDescriptorSize {
		return false
	}
	*out = InterfaceDescriptor{
		Length:            data[0],
		DescriptorType:    data[1],
		InterfaceNumber:   data[2],
		AlternateSetting:  data[3],
		NumEndpoints:      data[4],
		InterfaceClass:    data[5],
		InterfaceSubClass: data[6],
		InterfaceProtocol: data[7],
		InterfaceIndex:    data[8],
	}
	return true
}

// IsBootMouse reports whether the interface is a HID boot-protocol mouse.
func (i *InterfaceDescriptor) IsBootMouse() bool {
	return i.InterfaceClass == ClassHID &&
		i.InterfaceSubClass == HIDSubClassBoot &&
		i.InterfaceProtocol == HIDProtocolMouse
}

// EndpointDescriptor is a USB endpoint descriptor.
type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

// EndpointDescriptorSize is the size of an endpoint descriptor.
const EndpointDescriptorSize = 7

// ParseEndpointDescriptor parses an endpoint descriptor.
func ParseEndpointDescriptor(data []byte, out *EndpointDescriptor) bool {
	if len(data) < EndpointDescriptorSize {
		return false
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.EndpointAddress = data[2]
	out.Attributes = data[3]
	out.MaxPacketSize = le16(data[4:])
	out.Interval = data[6]
	return true
}

// Number returns the endpoint number (0-15).
func (e *EndpointDescriptor) Number() uint8 {
	return e.EndpointAddress & 0x0F
}

// IsIn returns true if this is an IN endpoint.
func (e *EndpointDescriptor) IsIn() bool {
	return e.EndpointAddress&0x80 == EndpointDirectionIn
}

// TransferType returns the transfer type bits of bmAttributes.
func (e *EndpointDescriptor) TransferType() uint8 {
	return e.Attributes & 0x03
}

// IsInterrupt returns true if this is an interrupt endpoint.
func (e *EndpointDescriptor) IsInterrupt() bool {
	return e.TransferType() == EndpointTypeInterrupt
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
