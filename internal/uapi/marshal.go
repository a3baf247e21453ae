package uapi

import "encoding/binary"

// PutDMAIOCtlParams encodes p into buf using the wire layout, matching
// the fixed field order the driver expects.
func PutDMAIOCtlParams(buf []byte, p DMAIOCtlParams) {
	binary.LittleEndian.PutUint64(buf[0:8], p.HostAddr)
	binary.LittleEndian.PutUint64(buf[8:16], p.FPGAAddr)
	binary.LittleEndian.PutUint32(buf[16:20], p.BTT)
}

// GetDMAIOCtlParams decodes a DMAIOCtlParams from buf.
func GetDMAIOCtlParams(buf []byte) DMAIOCtlParams {
	return DMAIOCtlParams{
		HostAddr: binary.LittleEndian.Uint64(buf[0:8]),
		FPGAAddr: binary.LittleEndian.Uint64(buf[8:16]),
		BTT:      binary.LittleEndian.Uint32(buf[16:20]),
	}
}

// PutUserIOCtlParams encodes p into buf.
func PutUserIOCtlParams(buf []byte, p UserIOCtlParams) {
	binary.LittleEndian.PutUint64(buf[0:8], p.FPGAAddr)
	binary.LittleEndian.PutUint32(buf[8:12], p.Data)
	binary.LittleEndian.PutUint32(buf[12:16], p.Event)
}

// GetUserIOCtlParams decodes a UserIOCtlParams from buf.
func GetUserIOCtlParams(buf []byte) UserIOCtlParams {
	return UserIOCtlParams{
		FPGAAddr: binary.LittleEndian.Uint64(buf[0:8]),
		Data:     binary.LittleEndian.Uint32(buf[8:12]),
		Event:    binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// ReadStatusCoreHeader decodes the header at the start of the status
// core mmap window.
func ReadStatusCoreHeader(buf []byte) StatusCoreHeader {
	return StatusCoreHeader{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		Version:    binary.LittleEndian.Uint32(buf[4:8]),
		NumSlots:   binary.LittleEndian.Uint32(buf[8:12]),
		NumIntc:    binary.LittleEndian.Uint32(buf[12:16]),
		VendorID:   binary.LittleEndian.Uint32(buf[16:20]),
		ProductID:  binary.LittleEndian.Uint32(buf[20:24]),
		CapsBitmap: binary.LittleEndian.Uint64(buf[24:32]),
	}
}

// ReadSlotDescriptor decodes the i-th slot descriptor, which follows the
// header at StatusCoreHeaderSize + i*SlotDescriptorSize.
func ReadSlotDescriptor(buf []byte, i int) SlotDescriptor {
	off := StatusCoreHeaderSize + i*SlotDescriptorSize
	b := buf[off : off+SlotDescriptorSize]
	return SlotDescriptor{
		KernelID: binary.LittleEndian.Uint32(b[0:4]),
		Offset:   binary.LittleEndian.Uint64(b[8:16]),
		Size:     binary.LittleEndian.Uint64(b[16:24]),
		Caps:     binary.LittleEndian.Uint64(b[24:32]),
	}
}
