// Package fixture holds captured frames shared by tests across packages.
package fixture

// IMUFrame returns a captured 100-byte IMU data frame (category 0x80, declared
// length 0x5E) carrying seven records in wire order: GPS correlation timestamp
// (0x12), quaternion (0x0A), Euler angles (0x0C), scaled accelerometer (0x04),
// gyro (0x05), magnetometer (0x06) and ambient pressure (0x17).
func IMUFrame() []byte {
	return []byte{
		0x75, 0x65, 0x80, 0x5E, 0x0E, 0x12, 0x40, 0x67, 0xD2, 0x7E, 0xF9, 0xDB, 0x22, 0xD1,
		0x00, 0x00, 0x00, 0x06, 0x12, 0x0A, 0x3C, 0xB5, 0x86, 0xAA, 0x3D, 0xBE, 0xB0, 0x7E,
		0x3F, 0x7E, 0xD0, 0x90, 0x3C, 0x10, 0xE8, 0xAB, 0x0E, 0x0C, 0x40, 0x47, 0xAB, 0x6C,
		0x3D, 0x2D, 0xFD, 0xDC, 0x40, 0x3D, 0x17, 0xF4, 0x0E, 0x04, 0x3D, 0x36, 0xFC, 0xEA,
		0xBC, 0xBE, 0x8D, 0xC0, 0x3F, 0x7F, 0x96, 0xDC, 0x0E, 0x05, 0x3A, 0x0A, 0x45, 0x73,
		0x3A, 0xFB, 0x74, 0x4F, 0x3A, 0x6E, 0x7B, 0x95, 0x0E, 0x06, 0xBE, 0xD5, 0x4B, 0x19,
		0x3D, 0x9D, 0x18, 0xC7, 0xBB, 0xE2, 0xCB, 0xE8, 0x06, 0x17, 0x44, 0x53, 0x1B, 0xB8,
		0x3D, 0x55,
	}
}

// IMUTypeIDs lists the record type ids of IMUFrame in wire order.
var IMUTypeIDs = []uint8{0x12, 0x0A, 0x0C, 0x04, 0x05, 0x06, 0x17}
