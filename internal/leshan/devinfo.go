package leshan

import (
	"context"
	"fmt"
)

// LwM2M Device object (/3) and the resources read by ReadDeviceInfo.
const (
	DeviceObjectID = 3

	resManufacturer    = 0
	resModelNumber     = 1
	resSerialNumber    = 2
	resFirmwareVersion = 3
	resDeviceType      = 17
	resHardwareVersion = 18
)

// DeviceInfo is the identity data published in the device's /3/0
// instance. Fields the device does not expose are left empty.
type DeviceInfo struct {
	Manufacturer    string `json:"manufacturer,omitempty"`
	ModelNumber     string `json:"model_number,omitempty"`
	SerialNumber    string `json:"serial_number,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	DeviceType      string `json:"device_type,omitempty"`
	HardwareVersion string `json:"hardware_version,omitempty"`
}

// ReadDeviceInfo reads the Device object instance /3/0.
func (c *Client) ReadDeviceInfo(ctx context.Context, dev Device) (DeviceInfo, error) {
	values, err := c.Read(ctx, dev, ObjectInstance{ObjectID: DeviceObjectID}, AllResources)
	if err != nil {
		return DeviceInfo{}, err
	}

	var info DeviceInfo
	for _, v := range values {
		text := fmt.Sprint(v.Value)
		switch v.ID {
		case resManufacturer:
			info.Manufacturer = text
		case resModelNumber:
			info.ModelNumber = text
		case resSerialNumber:
			info.SerialNumber = text
		case resFirmwareVersion:
			info.FirmwareVersion = text
		case resDeviceType:
			info.DeviceType = text
		case resHardwareVersion:
			info.HardwareVersion = text
		}
	}
	return info, nil
}
